package session

import (
	"time"

	"github.com/aretw0/lattice/pkg/domain"
)

// IsOrphaned reports whether a record whose owner hint is lastNode should be
// considered abandoned: the owner is absent from live and the record has been
// idle for at least grace. The grace period absorbs the delay between a save
// committing and the membership view reflecting the writer's liveness.
func IsOrphaned(lastNode string, lastAccessedAt time.Time, live domain.NodeSet, grace time.Duration, now time.Time) bool {
	return !live.Contains(lastNode) && now.Sub(lastAccessedAt) >= grace
}

// Ownership interprets owner hints on behalf of node Self.
type Ownership struct {
	Self  string
	Grace time.Duration
}

// Orphaned applies IsOrphaned with the configured grace period.
func (o Ownership) Orphaned(ref domain.RecordRef, live domain.NodeSet, now time.Time) bool {
	return IsOrphaned(ref.LastNode, ref.LastAccessedAt, live, o.Grace, now)
}

// Reclaim returns a copy of rec owned by Self. The version is left unchanged:
// it is the compare token for the store save that commits the adoption.
func (o Ownership) Reclaim(rec domain.Record) domain.Record {
	out := rec.Clone()
	out.LastNode = o.Self
	return out
}
