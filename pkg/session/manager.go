package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// DefaultMaxInactiveInterval is the idle bound of new sessions.
const DefaultMaxInactiveInterval = 30 * time.Minute

// DefaultCacheSizeLimit caps the resident working set.
const DefaultCacheSizeLimit = 10000

const invalidateAttempts = 3

// Config is the tunable surface of a Manager.
type Config struct {
	NodeID string
	// MaxInactiveInterval is the idle bound of new sessions. Zero expires a
	// session as soon as any time passes; negative never expires.
	MaxInactiveInterval time.Duration
	ScavengeInterval    time.Duration
	ScavengeJitter      time.Duration
	OrphanGracePeriod   time.Duration
	CacheSizeLimit      int
	SavePeriod          time.Duration
}

// DefaultConfig returns the defaults for node.
func DefaultConfig(node string) Config {
	return Config{
		NodeID:              node,
		MaxInactiveInterval: DefaultMaxInactiveInterval,
		ScavengeInterval:    DefaultScavengeInterval,
		ScavengeJitter:      DefaultScavengeJitter,
		OrphanGracePeriod:   DefaultOrphanGracePeriod,
		CacheSizeLimit:      DefaultCacheSizeLimit,
	}
}

// Manager is the request-facing entry point. It composes the cache, the id
// manager and the scavenger of one node.
type Manager struct {
	cfg       Config
	store     ports.Store
	cache     *Cache
	ids       *IDManager
	scavenger *Scavenger

	opts options
}

// NewManager wires a Manager for cfg.NodeID over store.
// membership may be nil when the node runs alone.
func NewManager(store ports.Store, membership ports.Membership, cfg Config, opts ...Option) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("session manager requires a node id")
	}
	if store == nil {
		return nil, errors.New("session manager requires a store")
	}
	m := &Manager{
		cfg:   cfg,
		store: store,
		opts:  buildOptions(opts),
	}
	m.cache = NewCache(store, CacheConfig{
		NodeID:     cfg.NodeID,
		SizeLimit:  cfg.CacheSizeLimit,
		SavePeriod: cfg.SavePeriod,
	}, opts...)
	m.ids = NewIDManager(store, opts...)
	m.scavenger = NewScavenger(store, membership, m.cache, ScavengerConfig{
		NodeID:      cfg.NodeID,
		Interval:    cfg.ScavengeInterval,
		Jitter:      cfg.ScavengeJitter,
		GracePeriod: cfg.OrphanGracePeriod,
	}, opts...)
	return m, nil
}

// GetOrCreate acquires the session named by candidateID, or creates a new one
// when the candidate is empty, malformed, unknown or expired. The returned id
// is the one the handle refers to.
func (m *Manager) GetOrCreate(ctx context.Context, candidateID string) (string, *Handle, error) {
	if Validate(candidateID) {
		h, err := m.cache.Acquire(ctx, candidateID)
		if err == nil {
			return h.ID(), h, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", nil, err
		}
	} else if candidateID != "" {
		m.opts.logger.Debug("Ignoring malformed session id")
	}

	proto := domain.NewRecord("", m.opts.clock.Now(), m.cfg.MaxInactiveInterval, m.cfg.NodeID)
	rec, err := m.ids.NewID(ctx, proto)
	if err != nil {
		return "", nil, err
	}
	m.opts.metrics.SessionCreated()

	h := m.cache.insert(rec)
	if h == nil {
		// Only reachable when the clock jumps past the interval mid-call.
		return "", nil, fmt.Errorf("session %s expired on creation: %w", rec.ID, domain.ErrNotFound)
	}
	return rec.ID, h, nil
}

// Acquire returns a handle on an existing session.
func (m *Manager) Acquire(ctx context.Context, id string) (*Handle, error) {
	return m.cache.Acquire(ctx, id)
}

// Commit saves the handle's session and releases it.
func (m *Manager) Commit(ctx context.Context, h *Handle) error {
	return m.cache.Release(ctx, h, true)
}

// Release releases the handle. Attribute changes are not forced out, but the
// access time is persisted when it moved (see CacheConfig.SavePeriod).
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	return m.cache.Release(ctx, h, false)
}

// Invalidate removes the session everywhere. A session that is already gone
// counts as success.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	m.cache.Drop(id)

	for range invalidateAttempts {
		rec, err := m.store.Load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to invalidate session %s: %w", id, err)
		}

		err = m.store.Delete(ctx, id, rec.Version)
		switch {
		case err == nil, errors.Is(err, domain.ErrNotFound):
			return nil
		case errors.Is(err, domain.ErrStaleVersion):
			continue
		default:
			return fmt.Errorf("failed to invalidate session %s: %w", id, err)
		}
	}
	return fmt.Errorf("failed to invalidate session %s after %d attempts: %w", id, invalidateAttempts, domain.ErrStaleVersion)
}

// Start launches the background scavenger.
func (m *Manager) Start(ctx context.Context) error {
	return m.scavenger.Start(ctx)
}

// Stop halts the scavenger, waiting for an in-flight sweep.
func (m *Manager) Stop() {
	m.scavenger.Stop()
}

// Sweep runs one scavenger pass now.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	return m.scavenger.Sweep(ctx)
}

// Scavenger returns the node's scavenger.
func (m *Manager) Scavenger() *Scavenger {
	return m.scavenger
}

// Cache returns the node's working set.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Store returns the underlying store.
func (m *Manager) Store() ports.Store {
	return m.store
}

// NodeID returns the identity this manager writes as owner hint.
func (m *Manager) NodeID() string {
	return m.cfg.NodeID
}
