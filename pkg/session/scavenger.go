package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Scavenger defaults.
const (
	DefaultScavengeInterval  = 10 * time.Minute
	DefaultScavengeJitter    = time.Minute
	DefaultOrphanGracePeriod = time.Hour
)

// ScavengerConfig tunes the background sweep.
type ScavengerConfig struct {
	NodeID      string
	Interval    time.Duration
	Jitter      time.Duration
	GracePeriod time.Duration
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Expired        int `json:"expired"`
	OrphansDeleted int `json:"orphansDeleted"`
	Reclaimed      int `json:"reclaimed"`
	// Benign counts deletes and reclaims lost to a concurrent writer.
	Benign       int `json:"benign"`
	SkippedInUse int `json:"skippedInUse"`
	// Passivated counts idle local entries dropped because they expired.
	Passivated int `json:"passivated"`
	// OrphanPhaseSkipped is set when membership could not be read.
	OrphanPhaseSkipped bool `json:"orphanPhaseSkipped"`
}

// Scavenger periodically purges expired records and re-adopts records whose
// owning node has died. Any number of nodes may sweep concurrently; the
// store's version checks make every action safe to lose.
type Scavenger struct {
	store      ports.Store
	membership ports.Membership
	cache      *Cache
	ownership  Ownership
	cfg        ScavengerConfig
	randN      func(int64) int64

	opts options

	sweepMu sync.Mutex // One sweep at a time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScavenger creates a Scavenger. membership may be nil for a single node;
// cache may be nil when no local working set needs protecting.
func NewScavenger(store ports.Store, membership ports.Membership, cache *Cache, cfg ScavengerConfig, opts ...Option) *Scavenger {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScavengeInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Scavenger{
		store:      store,
		membership: membership,
		cache:      cache,
		ownership:  Ownership{Self: cfg.NodeID, Grace: cfg.GracePeriod},
		cfg:        cfg,
		randN:      rand.Int64N,
		opts:       buildOptions(opts),
	}
}

// Start launches the sweep loop. It returns ErrScavengerRunning if already started.
func (s *Scavenger) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrScavengerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Scavenger) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scavenger) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		timer := s.opts.clock.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		// A started sweep runs to completion even if Stop is called.
		report, err := s.Sweep(context.WithoutCancel(ctx))
		if err != nil {
			s.opts.logger.Warn("Scavenge sweep aborted (will retry next tick)", "err", err)
			continue
		}
		s.opts.logger.Debug("Scavenge sweep finished",
			"expired", report.Expired,
			"orphans_deleted", report.OrphansDeleted,
			"reclaimed", report.Reclaimed,
			"benign", report.Benign,
			"in_use", report.SkippedInUse,
		)
	}
}

// nextDelay is the interval plus a uniform offset in [0, jitter), so that
// nodes started together drift apart.
func (s *Scavenger) nextDelay() time.Duration {
	d := s.cfg.Interval
	if s.cfg.Jitter > 0 {
		d += time.Duration(s.randN(int64(s.cfg.Jitter)))
	}
	return d
}

// Sweep runs one pass immediately. A StoreUnavailable failure aborts the pass
// and is returned along with the partial report.
func (s *Scavenger) Sweep(ctx context.Context) (SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.opts.clock.Now()
	report, err := s.sweep(ctx, start)

	m := s.opts.metrics
	m.SweepDone(s.opts.clock.Since(start), err)
	m.Scavenge("expired", report.Expired)
	m.Scavenge("orphan_deleted", report.OrphansDeleted)
	m.Scavenge("reclaimed", report.Reclaimed)
	m.Scavenge("benign", report.Benign)
	m.Scavenge("in_use", report.SkippedInUse)
	return report, err
}

func (s *Scavenger) sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	live, dead, err := s.liveness(ctx, &report)
	if err != nil {
		return report, err
	}

	// Expired orphans go with every other expired record; they are only
	// counted apart.
	handled := make(map[string]struct{})
	for ref, err := range s.store.QueryExpiredBefore(ctx, now) {
		if err != nil {
			return report, fmt.Errorf("failed to query expired sessions: %w", err)
		}
		handled[ref.ID] = struct{}{}
		if s.inUse(ref.ID) {
			report.SkippedInUse++
			continue
		}
		removed, err := s.remove(ctx, ref)
		if err != nil {
			return report, err
		}
		switch {
		case !removed:
			report.Benign++
		case dead.Contains(ref.LastNode) && s.ownership.Orphaned(ref, live, now):
			report.OrphansDeleted++
		default:
			report.Expired++
		}
	}

	if err := s.sweepOrphans(ctx, now, live, dead, handled, &report); err != nil {
		return report, err
	}

	if s.cache != nil {
		report.Passivated = s.cache.EvictExpired(now)
	}
	return report, nil
}

// liveness returns the live view and the dead owners (owners that are neither
// live nor self). A membership failure leaves dead empty and marks the orphan
// phase skipped.
func (s *Scavenger) liveness(ctx context.Context, report *SweepReport) (live, dead domain.NodeSet, err error) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list session owners: %w", err)
	}

	live = domain.NewNodeSet(s.ownership.Self)
	if s.membership != nil {
		view, err := s.membership.ListLive(ctx)
		if err != nil {
			s.opts.logger.Warn("Membership unavailable, skipping orphan reclamation", "err", err)
			report.OrphanPhaseSkipped = true
			return live, nil, nil
		}
		live = view
	}
	dead = domain.NewNodeSet(owners...).Without(live, domain.NewNodeSet(s.ownership.Self))
	return live, dead, nil
}

// sweepOrphans reclaims idle records of dead owners. Expired ones were
// already handled by the expiry phase.
func (s *Scavenger) sweepOrphans(ctx context.Context, now time.Time, live, dead domain.NodeSet, handled map[string]struct{}, report *SweepReport) error {
	if len(dead) == 0 {
		return nil
	}

	for ref, err := range s.store.QueryOwnedBy(ctx, dead.Sorted()) {
		if err != nil {
			return fmt.Errorf("failed to query orphaned sessions: %w", err)
		}
		if _, seen := handled[ref.ID]; seen || ref.IsExpiredAt(now) {
			continue
		}
		handled[ref.ID] = struct{}{}

		if !s.ownership.Orphaned(ref, live, now) {
			continue
		}
		if s.inUse(ref.ID) {
			report.SkippedInUse++
			continue
		}

		ok, err := s.reclaim(ctx, ref, live, now)
		if err != nil {
			return err
		}
		if ok {
			report.Reclaimed++
		} else {
			report.Benign++
		}
	}
	return nil
}

func (s *Scavenger) inUse(id string) bool {
	return s.cache != nil && s.cache.InUse(id)
}

// remove compare-and-deletes ref. It reports false when the race was lost.
func (s *Scavenger) remove(ctx context.Context, ref domain.RecordRef) (bool, error) {
	err := s.store.Delete(ctx, ref.ID, ref.Version)
	switch {
	case err == nil:
		if s.cache != nil {
			s.cache.Passivate(ref.ID)
		}
		return true, nil
	case domain.IsBenignRace(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to delete session %s: %w", ref.ID, err)
	}
}

// reclaim re-adopts an orphan for this node. The version observed by the
// query must still be current, so a record touched since is left alone.
func (s *Scavenger) reclaim(ctx context.Context, ref domain.RecordRef, live domain.NodeSet, now time.Time) (bool, error) {
	rec, err := s.store.Load(ctx, ref.ID)
	if err != nil {
		if domain.IsBenignRace(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load orphaned session %s: %w", ref.ID, err)
	}
	if rec.Version != ref.Version || !s.ownership.Orphaned(rec.Ref(), live, now) {
		return false, nil
	}

	if _, err := s.store.Save(ctx, s.ownership.Reclaim(rec)); err != nil {
		if domain.IsBenignRace(err) {
			s.opts.logger.Debug("Orphan reclaimed by another node", "session_id", ref.ID)
			return false, nil
		}
		return false, fmt.Errorf("failed to reclaim session %s: %w", ref.ID, err)
	}
	s.opts.logger.Info("Reclaimed orphaned session",
		"session_id", ref.ID,
		"from", ref.LastNode,
	)
	return true, nil
}
