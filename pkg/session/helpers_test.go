package session_test

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

// hookStore wraps a store and lets tests intercept individual operations.
type hookStore struct {
	ports.Store

	mu          sync.Mutex
	loads       int
	onLoad      func(id string) error
	onSave      func(rec domain.Record) error
	onCreate    func(rec domain.Record) error
	onQueryExp  func() error
	onListOwner func() error
}

func (s *hookStore) Load(ctx context.Context, id string) (domain.Record, error) {
	s.mu.Lock()
	s.loads++
	hook := s.onLoad
	s.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return domain.Record{}, err
		}
	}
	return s.Store.Load(ctx, id)
}

func (s *hookStore) Create(ctx context.Context, rec domain.Record) error {
	if s.onCreate != nil {
		if err := s.onCreate(rec); err != nil {
			return err
		}
	}
	return s.Store.Create(ctx, rec)
}

func (s *hookStore) Save(ctx context.Context, rec domain.Record) (int64, error) {
	if s.onSave != nil {
		if err := s.onSave(rec); err != nil {
			return 0, err
		}
	}
	return s.Store.Save(ctx, rec)
}

func (s *hookStore) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	if s.onQueryExp != nil {
		if err := s.onQueryExp(); err != nil {
			return func(yield func(domain.RecordRef, error) bool) {
				yield(domain.RecordRef{}, err)
			}
		}
	}
	return s.Store.QueryExpiredBefore(ctx, ts)
}

func (s *hookStore) ListOwners(ctx context.Context) ([]string, error) {
	if s.onListOwner != nil {
		if err := s.onListOwner(); err != nil {
			return nil, err
		}
	}
	return s.Store.ListOwners(ctx)
}

func (s *hookStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// seed creates a record owned by node, last accessed at at.
func seed(t *testing.T, store ports.Store, id, node string, at time.Time, maxInactive time.Duration, attrs map[string]string) domain.Record {
	t.Helper()
	rec := domain.NewRecord(id, at, maxInactive, node)
	for k, v := range attrs {
		rec.Attributes[k] = []byte(v)
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

func newStore() *memory.Store {
	return memory.NewStore()
}
