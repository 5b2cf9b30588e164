package session

import (
	"errors"
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
)

// ErrHandleReleased is returned when a handle is released twice.
var ErrHandleReleased = errors.New("session handle already released")

// ErrScavengerRunning is returned by Start on a running scavenger.
var ErrScavengerRunning = errors.New("scavenger already running")

// ConflictError reports a commit rejected because another writer advanced the
// stored version. Local is the in-memory copy that failed to commit; it is
// handed back untouched so the caller can merge or retry.
type ConflictError struct {
	ID    string
	Local domain.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: commit conflict at version %d", e.ID, e.Local.Version)
}

// Unwrap makes errors.Is(err, domain.ErrStaleVersion) hold.
func (e *ConflictError) Unwrap() error {
	return domain.ErrStaleVersion
}
