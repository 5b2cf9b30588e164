package session_test

import (
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestIsOrphaned(t *testing.T) {
	live := domain.NewNodeSet("B", "C")
	grace := 60 * time.Second

	tests := []struct {
		name     string
		lastNode string
		idle     time.Duration
		want     bool
	}{
		{"live owner", "B", time.Hour, false},
		{"dead owner within grace", "A", 30 * time.Second, false},
		{"dead owner at grace", "A", 60 * time.Second, true},
		{"dead owner past grace", "A", 61 * time.Second, true},
		{"unknown owner", "", 61 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.IsOrphaned(tt.lastNode, t0, live, grace, t0.Add(tt.idle))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOwnership_Reclaim(t *testing.T) {
	o := session.Ownership{Self: "B", Grace: time.Minute}
	rec := domain.NewRecord("s1", t0, time.Hour, "A")
	rec.Attributes["k"] = []byte("v")
	rec.Version = 7

	got := o.Reclaim(rec)
	assert.Equal(t, "B", got.LastNode)
	assert.Equal(t, int64(7), got.Version)
	assert.True(t, got.SameAttributes(rec))
	assert.Equal(t, "A", rec.LastNode, "input must not be modified")

	got.Attributes["k"][0] = 'X'
	assert.Equal(t, "v", string(rec.Attributes["k"]))
}
