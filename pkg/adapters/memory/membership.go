package memory

import (
	"context"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
)

// Membership implements ports.Membership with a settable, static view.
type Membership struct {
	mu   sync.RWMutex
	live domain.NodeSet
	err  error
}

// NewMembership creates a view with the given live nodes.
func NewMembership(live ...string) *Membership {
	return &Membership{live: domain.NewNodeSet(live...)}
}

// ListLive returns a copy of the current view, or the configured failure.
func (m *Membership) ListLive(ctx context.Context) (domain.NodeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	return domain.NewNodeSet(m.live.Sorted()...), nil
}

// Set replaces the view.
func (m *Membership) Set(live ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = domain.NewNodeSet(live...)
}

// Fail makes subsequent ListLive calls return err. Pass nil to recover.
func (m *Membership) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
