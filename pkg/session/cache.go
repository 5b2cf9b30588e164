package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"golang.org/x/sync/singleflight"
)

// CacheConfig tunes the node-local working set.
type CacheConfig struct {
	// NodeID is written as LastNode on every save.
	NodeID string
	// SizeLimit caps resident entries. Zero or negative means unbounded.
	SizeLimit int
	// SavePeriod bounds how stale the persisted access time may get. A clean
	// release saves once the in-memory access time is SavePeriod ahead of the
	// one last written. Zero or negative saves whenever it moved at all.
	SavePeriod time.Duration
}

// entry holds one resident record, its mutex and the reference count.
type entry struct {
	id string

	mu        sync.Mutex
	record    domain.Record // guarded by mu
	persisted time.Time     // LastAccessedAt as last written; guarded by mu

	refs int // guarded by Cache.mu

	// Mirrors of record fields read without mu for eviction decisions.
	accessed atomic.Int64
	expiry   atomic.Int64
}

func newEntry(rec domain.Record) *entry {
	e := &entry{id: rec.ID, record: rec, persisted: rec.LastAccessedAt}
	e.mark()
	return e
}

// mark refreshes the atomic mirrors. Caller holds e.mu or owns e exclusively.
func (e *entry) mark() {
	e.accessed.Store(e.record.LastAccessedAt.UnixMilli())
	if score, ok := e.record.ExpiryScore(); ok {
		e.expiry.Store(score)
	} else {
		e.expiry.Store(-1)
	}
}

func (e *entry) expiredAt(now time.Time) bool {
	exp := e.expiry.Load()
	return exp >= 0 && time.UnixMilli(exp).Before(now)
}

// Cache is the node-local, reference-counted working set of sessions.
// Many requests may hold the same session; they share one entry and its
// attribute access is serialized by the entry mutex.
type Cache struct {
	store ports.Store
	cfg   CacheConfig

	mu      sync.Mutex        // Global lock for the map and ref counts
	entries map[string]*entry // Resident sessions

	loads singleflight.Group
	opts  options
}

// NewCache creates a Cache over store.
func NewCache(store ports.Store, cfg CacheConfig, opts ...Option) *Cache {
	return &Cache{
		store:   store,
		cfg:     cfg,
		entries: make(map[string]*entry),
		opts:    buildOptions(opts),
	}
}

// Acquire returns a handle on the session, loading it from the store when it
// is not resident. A record already expired is reported as domain.ErrNotFound.
// An entry another request still holds is live regardless of its expiry.
// Every successful Acquire must be paired with one Release.
func (c *Cache) Acquire(ctx context.Context, id string) (*Handle, error) {
	if e, held := c.share(id); e != nil {
		if h, ok := c.open(e, held); ok {
			c.opts.metrics.CacheLookup(true)
			return h, nil
		}
		// Idle past its expiry here; another node may have kept it alive.
		c.detach(e)
	}
	c.opts.metrics.CacheLookup(false)

	rec, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsExpiredAt(c.opts.clock.Now()) && !c.InUse(id) {
		c.discard(ctx, rec.Ref())
		return nil, fmt.Errorf("session %s expired: %w", id, domain.ErrNotFound)
	}

	e, held := c.adopt(rec)
	h, ok := c.open(e, held)
	if !ok {
		c.detach(e)
		return nil, fmt.Errorf("session %s expired: %w", id, domain.ErrNotFound)
	}
	return h, nil
}

// load reads the record once for all concurrent callers. The shared read is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own context ends.
func (c *Cache) load(ctx context.Context, id string) (domain.Record, error) {
	ch := c.loads.DoChan(id, func() (any, error) {
		return c.store.Load(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Record{}, res.Err
		}
		return res.Val.(domain.Record), nil
	case <-ctx.Done():
		return domain.Record{}, ctx.Err()
	}
}

// insert makes a freshly created record resident and returns a handle on it.
func (c *Cache) insert(rec domain.Record) *Handle {
	e, held := c.adopt(rec)
	h, ok := c.open(e, held)
	if !ok {
		c.detach(e)
	}
	return h
}

// Release drops the handle's reference. With dirty set, or when the access
// time has to reach the store (see CacheConfig.SavePeriod), the entry is saved
// through the store first. A StaleVersion outcome leaves the cache so the next
// Acquire loads the winning version; a dirty release reports it as
// *ConflictError, a clean one drops it silently since the winner's write
// already carries a newer access time.
func (c *Cache) Release(ctx context.Context, h *Handle, dirty bool) error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}
	e := h.entry

	var err error
	e.mu.Lock()
	if dirty || c.saveDue(e) {
		err = c.saveLocked(ctx, e)
	}
	e.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if errors.Is(err, domain.ErrStaleVersion) || errors.Is(err, domain.ErrNotFound) {
		c.removeLocked(e)
	}
	c.evictLocked()
	if !dirty && errors.Is(err, domain.ErrStaleVersion) {
		return nil
	}
	return err
}

// Passivate removes an idle entry. It reports false when the session is in
// use or not resident.
func (c *Cache) Passivate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.refs > 0 {
		return false
	}
	c.removeLocked(e)
	c.opts.metrics.Passivated("explicit", 1)
	return true
}

// Drop removes the entry even if handles are outstanding. Those handles keep
// working on the detached entry; their commits reach the store as usual.
func (c *Cache) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		c.removeLocked(e)
	}
}

// InUse reports whether a handle on the session is outstanding on this node.
func (c *Cache) InUse(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	return ok && e.refs > 0
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictExpired passivates idle entries whose in-memory copy expired before now.
func (c *Cache) EvictExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.refs == 0 && e.expiredAt(now) {
			c.removeLocked(e)
			n++
		}
	}
	c.opts.metrics.Passivated("expired", n)
	return n
}

// share takes a reference on a resident entry. held reports whether other
// references were already outstanding.
func (c *Cache) share(id string) (e *entry, held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	e.refs++
	return e, e.refs > 1
}

// adopt installs rec unless another caller already did, and takes a reference.
func (c *Cache) adopt(rec domain.Record) (e *entry, held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[rec.ID]
	if !ok {
		e = newEntry(rec.Clone())
		c.entries[rec.ID] = e
	}
	e.refs++
	c.evictLocked()
	return e, e.refs > 1
}

// open touches the entry and wraps it in a handle. It reports false when the
// in-memory copy has expired and nobody else holds it.
func (c *Cache) open(e *entry, held bool) (*Handle, bool) {
	now := c.opts.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !held && e.record.IsExpiredAt(now) {
		return nil, false
	}
	e.record.Touch(now)
	e.mark()
	return &Handle{entry: e}, true
}

// detach drops a reference taken by share or adopt and evicts the entry.
func (c *Cache) detach(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	c.removeLocked(e)
}

// discard deletes an expired record on sight. Losing the race is fine.
func (c *Cache) discard(ctx context.Context, ref domain.RecordRef) {
	err := c.store.Delete(ctx, ref.ID, ref.Version)
	if err != nil && !domain.IsBenignRace(err) {
		c.opts.logger.Warn("Failed to delete expired session (scavenger will retry)",
			"session_id", ref.ID,
			"err", err,
		)
	}
}

func (c *Cache) saveDue(e *entry) bool {
	ahead := e.record.LastAccessedAt.Sub(e.persisted)
	if c.cfg.SavePeriod <= 0 {
		return ahead > 0
	}
	return ahead >= c.cfg.SavePeriod
}

// saveLocked writes the entry through the store. Caller holds e.mu.
func (c *Cache) saveLocked(ctx context.Context, e *entry) error {
	rec := e.record
	rec.LastNode = c.cfg.NodeID

	version, err := c.store.Save(ctx, rec)
	switch {
	case err == nil:
		e.record.Version = version
		e.record.LastNode = rec.LastNode
		e.persisted = rec.LastAccessedAt
		return nil
	case errors.Is(err, domain.ErrStaleVersion):
		c.opts.metrics.Conflict()
		c.opts.logger.Debug("Session commit lost to a concurrent writer",
			"session_id", e.id,
			"version", e.record.Version,
		)
		return &ConflictError{ID: e.id, Local: e.record.Clone()}
	default:
		return fmt.Errorf("failed to save session %s: %w", e.id, err)
	}
}

// removeLocked unlinks e if it is still the resident entry for its id.
func (c *Cache) removeLocked(e *entry) {
	if cur, ok := c.entries[e.id]; ok && cur == e {
		delete(c.entries, e.id)
	}
	c.opts.metrics.Resident(len(c.entries))
}

// evictLocked passivates idle entries, least recently accessed first, until
// the size limit holds. Entries in use are never evicted.
func (c *Cache) evictLocked() {
	limit := c.cfg.SizeLimit
	if limit > 0 && len(c.entries) > limit {
		idle := make([]*entry, 0, len(c.entries)-limit)
		for _, e := range c.entries {
			if e.refs == 0 {
				idle = append(idle, e)
			}
		}
		slices.SortFunc(idle, func(a, b *entry) int {
			return cmp.Compare(a.accessed.Load(), b.accessed.Load())
		})

		n := 0
		for _, e := range idle {
			if len(c.entries) <= limit {
				break
			}
			delete(c.entries, e.id)
			n++
		}
		c.opts.metrics.Passivated("capacity", n)
	}
	c.opts.metrics.Resident(len(c.entries))
}

// Handle is one holder's view of a resident session.
type Handle struct {
	entry    *entry
	released atomic.Bool
}

// ID returns the session id.
func (h *Handle) ID() string {
	return h.entry.id
}

// Get returns a copy of the named attribute.
func (h *Handle) Get(name string) ([]byte, bool) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()

	v, ok := h.entry.record.Attributes[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set stores a copy of value under name.
func (h *Handle) Set(name string, value []byte) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()

	if h.entry.record.Attributes == nil {
		h.entry.record.Attributes = make(map[string][]byte)
	}
	h.entry.record.Attributes[name] = slices.Clone(value)
}

// Remove deletes the named attribute.
func (h *Handle) Remove(name string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	delete(h.entry.record.Attributes, name)
}

// Names returns the attribute names in lexical order.
func (h *Handle) Names() []string {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()

	names := make([]string, 0, len(h.entry.record.Attributes))
	for name := range h.entry.record.Attributes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Record returns a deep snapshot of the session.
func (h *Handle) Record() domain.Record {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.record.Clone()
}

// SetMaxInactiveInterval changes the idle bound. Negative means never expires.
func (h *Handle) SetMaxInactiveInterval(d time.Duration) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()

	if d >= 0 {
		d = d.Truncate(time.Millisecond)
	}
	h.entry.record.MaxInactiveInterval = d
	h.entry.mark()
}
