package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireRecord is the persisted layout shared by every backend.
// Timestamps are unix milliseconds; intervals are milliseconds.
type wireRecord struct {
	ID                  string            `json:"id"`
	Attributes          map[string][]byte `json:"attributes"`
	CreatedAt           int64             `json:"createdAt"`
	LastAccessedAt      int64             `json:"lastAccessedAt"`
	MaxInactiveInterval int64             `json:"maxInactiveInterval"`
	LastNode            string            `json:"lastNode"`
	Version             int64             `json:"version"`
}

// MarshalJSON encodes the record in the persisted layout.
func (r Record) MarshalJSON() ([]byte, error) {
	maxInactive := r.MaxInactiveInterval.Milliseconds()
	if r.MaxInactiveInterval < 0 {
		maxInactive = -1
	}
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string][]byte{}
	}
	return json.Marshal(wireRecord{
		ID:                  r.ID,
		Attributes:          attrs,
		CreatedAt:           r.CreatedAt.UnixMilli(),
		LastAccessedAt:      r.LastAccessedAt.UnixMilli(),
		MaxInactiveInterval: maxInactive,
		LastNode:            r.LastNode,
		Version:             r.Version,
	})
}

// UnmarshalJSON decodes the persisted layout.
func (r *Record) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("domain: UnmarshalJSON on nil pointer")
	}
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return fmt.Errorf("record: missing id")
	}
	attrs := w.Attributes
	if attrs == nil {
		attrs = make(map[string][]byte)
	}
	*r = Record{
		ID:                  w.ID,
		Attributes:          attrs,
		CreatedAt:           time.UnixMilli(w.CreatedAt).UTC(),
		LastAccessedAt:      time.UnixMilli(w.LastAccessedAt).UTC(),
		MaxInactiveInterval: time.Duration(w.MaxInactiveInterval) * time.Millisecond,
		LastNode:            w.LastNode,
		Version:             w.Version,
	}
	return nil
}

// ExpiryScore returns the expiry as unix milliseconds for backend indexes.
// The boolean is false for records that never expire.
func (r Record) ExpiryScore() (int64, bool) {
	exp, ok := r.Expiry()
	if !ok {
		return 0, false
	}
	return exp.UnixMilli(), true
}
