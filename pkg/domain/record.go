package domain

import (
	"bytes"
	"maps"
	"slices"
	"time"
)

// InitialVersion is the version a record carries right after Create.
const InitialVersion int64 = 1

// NeverExpires is the conventional MaxInactiveInterval for immortal sessions.
// Any negative duration has the same meaning.
const NeverExpires time.Duration = -1

// Record is the unit of persisted session state.
type Record struct {
	// ID is cluster-unique and immutable once created.
	ID string

	// Attributes are opaque named values. Stores never interpret them.
	Attributes map[string][]byte

	CreatedAt      time.Time
	LastAccessedAt time.Time

	// MaxInactiveInterval bounds the idle time. Negative means never expires.
	MaxInactiveInterval time.Duration

	// LastNode is the node that last committed a save. It is an ownership
	// hint used for orphan detection, never a lock.
	LastNode string

	// Version is incremented exactly once per successful save.
	Version int64
}

// NewRecord builds a fresh record owned by node.
func NewRecord(id string, now time.Time, maxInactive time.Duration, node string) Record {
	now = Timestamp(now)
	return Record{
		ID:                  id,
		Attributes:          make(map[string][]byte),
		CreatedAt:           now,
		LastAccessedAt:      now,
		MaxInactiveInterval: maxInactive,
		LastNode:            node,
		Version:             InitialVersion,
	}
}

// Timestamp normalizes t to the precision and zone used by persisted records.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Expiry returns LastAccessedAt + MaxInactiveInterval. The boolean is false
// when the record never expires.
func (r Record) Expiry() (time.Time, bool) {
	return expiry(r.LastAccessedAt, r.MaxInactiveInterval)
}

// IsExpiredAt reports whether the record's expiry lies strictly before now.
func (r Record) IsExpiredAt(now time.Time) bool {
	exp, ok := r.Expiry()
	return ok && exp.Before(now)
}

// Touch records an access at now. LastAccessedAt never moves backwards.
func (r *Record) Touch(now time.Time) {
	now = Timestamp(now)
	if now.After(r.LastAccessedAt) {
		r.LastAccessedAt = now
	}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Attributes = make(map[string][]byte, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = slices.Clone(v)
	}
	return out
}

// Ref projects the record onto the fields queries return.
func (r Record) Ref() RecordRef {
	return RecordRef{
		ID:                  r.ID,
		Version:             r.Version,
		LastAccessedAt:      r.LastAccessedAt,
		MaxInactiveInterval: r.MaxInactiveInterval,
		LastNode:            r.LastNode,
	}
}

// SameAttributes reports whether both records hold byte-identical attributes.
func (r Record) SameAttributes(o Record) bool {
	return maps.EqualFunc(r.Attributes, o.Attributes, bytes.Equal)
}

// RecordRef is the projection yielded by store queries.
type RecordRef struct {
	ID                  string
	Version             int64
	LastAccessedAt      time.Time
	MaxInactiveInterval time.Duration
	LastNode            string
}

// Expiry mirrors Record.Expiry.
func (r RecordRef) Expiry() (time.Time, bool) {
	return expiry(r.LastAccessedAt, r.MaxInactiveInterval)
}

// IsExpiredAt mirrors Record.IsExpiredAt.
func (r RecordRef) IsExpiredAt(now time.Time) bool {
	exp, ok := r.Expiry()
	return ok && exp.Before(now)
}

func expiry(lastAccessed time.Time, maxInactive time.Duration) (time.Time, bool) {
	if maxInactive < 0 {
		return time.Time{}, false
	}
	return lastAccessed.Add(maxInactive), true
}
