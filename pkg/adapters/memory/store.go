package memory

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
)

// Store implements ports.Store in memory.
// Safe for concurrent use. Several session managers sharing one Store behave
// like nodes sharing a distributed map.
type Store struct {
	data map[string]domain.Record
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.Record),
	}
}

// Load retrieves a copy of the record so callers can't mutate store state by reference.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// Create inserts the record if the id is free.
func (s *Store) Create(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.data[rec.ID] = rec.Clone()
	return nil
}

// Save replaces the record when the versions match.
func (s *Store) Save(ctx context.Context, rec domain.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[rec.ID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if cur.Version != rec.Version {
		return 0, domain.ErrStaleVersion
	}
	next := rec.Clone()
	next.Version = cur.Version + 1
	s.data[rec.ID] = next
	return next.Version, nil
}

// Delete removes the record when the versions match.
func (s *Store) Delete(ctx context.Context, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return domain.ErrStaleVersion
	}
	delete(s.data, id)
	return nil
}

// QueryExpiredBefore yields a snapshot of the records expiring strictly before ts.
func (s *Store) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	return s.query(ctx, func(r domain.Record) bool {
		exp, ok := r.Expiry()
		return ok && exp.Before(ts)
	})
}

// QueryOwnedBy yields a snapshot of the records last saved by one of nodeIDs.
func (s *Store) QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error] {
	owners := domain.NewNodeSet(nodeIDs...)
	return s.query(ctx, func(r domain.Record) bool {
		return owners.Contains(r.LastNode)
	})
}

// ListOwners returns the distinct owner hints.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(domain.NodeSet)
	for _, r := range s.data {
		owners[r.LastNode] = struct{}{}
	}
	return owners.Sorted(), nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) query(ctx context.Context, match func(domain.Record) bool) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		s.mu.RLock()
		refs := make([]domain.RecordRef, 0)
		for _, r := range s.data {
			if match(r) {
				refs = append(refs, r.Ref())
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(refs, func(a, b domain.RecordRef) int {
			return a.LastAccessedAt.Compare(b.LastAccessedAt)
		})

		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				yield(domain.RecordRef{}, err)
				return
			}
			if !yield(ref, nil) {
				return
			}
		}
	}
}
