package ports

import (
	"context"
	"iter"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
)

// Store defines the capability interface every session backend implements.
// All operations are atomic at the granularity of one record; no cross-record
// transactions are required. Transient backend failures wrap
// domain.ErrStoreUnavailable.
type Store interface {
	// Load retrieves a record. Returns domain.ErrNotFound if absent.
	Load(ctx context.Context, id string) (domain.Record, error)

	// Create stores rec only if no record with rec.ID exists.
	// Returns domain.ErrAlreadyExists on collision.
	Create(ctx context.Context, rec domain.Record) error

	// Save replaces the stored record if its version equals rec.Version and
	// returns the incremented version. Returns domain.ErrStaleVersion on
	// mismatch and domain.ErrNotFound if the record is gone.
	Save(ctx context.Context, rec domain.Record) (int64, error)

	// Delete removes the record if its version equals expectedVersion.
	// Returns domain.ErrNotFound or domain.ErrStaleVersion otherwise.
	Delete(ctx context.Context, id string, expectedVersion int64) error

	// QueryExpiredBefore lazily yields records whose expiry is strictly before ts.
	// The sequence is finite and single pass; a yielded error ends it.
	QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error]

	// QueryOwnedBy lazily yields records whose LastNode is one of nodeIDs.
	QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error]

	// ListOwners returns the distinct LastNode values currently stored.
	ListOwners(ctx context.Context) ([]string, error)
}

// Collect drains a store sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[domain.RecordRef, error]) ([]domain.RecordRef, error) {
	var out []domain.RecordRef
	for ref, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ref)
	}
	return out, nil
}
