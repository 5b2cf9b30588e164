package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecord_Expiry(t *testing.T) {
	rec := domain.NewRecord("abc", t0, 1800*time.Second, "node-a")

	exp, ok := rec.Expiry()
	require.True(t, ok)
	assert.Equal(t, t0.Add(1800*time.Second), exp)

	assert.False(t, rec.IsExpiredAt(t0.Add(1799*time.Second)))
	assert.False(t, rec.IsExpiredAt(t0.Add(1800*time.Second)), "expiry is exclusive")
	assert.True(t, rec.IsExpiredAt(t0.Add(1801*time.Second)))
}

func TestRecord_Expiry_FollowsLastAccess(t *testing.T) {
	rec := domain.NewRecord("abc", t0, time.Minute, "node-a")
	rec.Touch(t0.Add(10 * time.Minute))

	exp, ok := rec.Expiry()
	require.True(t, ok)
	assert.Equal(t, t0.Add(11*time.Minute), exp)
}

func TestRecord_NeverExpires(t *testing.T) {
	rec := domain.NewRecord("abc", t0, domain.NeverExpires, "node-a")

	_, ok := rec.Expiry()
	assert.False(t, ok)
	assert.False(t, rec.IsExpiredAt(t0.Add(100*365*24*time.Hour)))
	assert.False(t, rec.Ref().IsExpiredAt(t0.Add(100*365*24*time.Hour)))

	_, ok = rec.ExpiryScore()
	assert.False(t, ok)
}

func TestRecord_TouchNeverMovesBackwards(t *testing.T) {
	rec := domain.NewRecord("abc", t0, time.Minute, "node-a")
	rec.Touch(t0.Add(-time.Hour))
	assert.Equal(t, t0, rec.LastAccessedAt)
	assert.False(t, rec.LastAccessedAt.Before(rec.CreatedAt))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := domain.NewRecord("abc", t0, time.Minute, "node-a")
	rec.Attributes["cart"] = []byte("apples")

	cp := rec.Clone()
	cp.Attributes["cart"][0] = 'A'
	cp.Attributes["extra"] = []byte("x")

	assert.Equal(t, "apples", string(rec.Attributes["cart"]))
	assert.NotContains(t, rec.Attributes, "extra")
	assert.False(t, rec.SameAttributes(cp))
}

func TestRecord_JSONLayout(t *testing.T) {
	rec := domain.NewRecord("abc", t0, 90*time.Second, "node-a")
	rec.Attributes["user"] = []byte("42")
	rec.Version = 7

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "abc", raw["id"])
	assert.Equal(t, float64(t0.UnixMilli()), raw["createdAt"])
	assert.Equal(t, float64(90000), raw["maxInactiveInterval"])
	assert.Equal(t, "node-a", raw["lastNode"])
	assert.Equal(t, float64(7), raw["version"])

	var back domain.Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec, back)
}

func TestRecord_JSONNeverExpires(t *testing.T) {
	rec := domain.NewRecord("abc", t0, -5*time.Second, "node-a")

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back domain.Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Less(t, back.MaxInactiveInterval, time.Duration(0))
}

func TestRecord_UnmarshalRejectsMissingID(t *testing.T) {
	var rec domain.Record
	err := json.Unmarshal([]byte(`{"version":1}`), &rec)
	assert.Error(t, err)
}

func TestNodeSet_Without(t *testing.T) {
	owners := domain.NewNodeSet("a", "b", "c", "d")
	live := domain.NewNodeSet("b")
	self := domain.NewNodeSet("d")

	dead := owners.Without(live, self)
	assert.Equal(t, []string{"a", "c"}, dead.Sorted())
}

func TestIsBenignRace(t *testing.T) {
	assert.True(t, domain.IsBenignRace(domain.ErrNotFound))
	assert.True(t, domain.IsBenignRace(domain.ErrStaleVersion))
	assert.False(t, domain.IsBenignRace(domain.ErrStoreUnavailable))
}
