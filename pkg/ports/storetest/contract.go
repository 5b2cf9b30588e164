// Package storetest holds the behavioural suite every ports.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractSeq atomic.Int64

// contractEpoch keeps contract timestamps far from wall-clock time so that
// backends indexing by expiry never race the real clock.
var contractEpoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func contractID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), contractSeq.Add(1))
}

func refIDs(refs []domain.RecordRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

// Run runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	ctx := context.Background()

	t.Run("Create and Load", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("create"), contractEpoch, 30*time.Minute, "node-a")
		rec.Attributes["foo"] = []byte("bar")

		require.NoError(t, store.Create(ctx, rec))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, loaded.ID)
		assert.Equal(t, domain.InitialVersion, loaded.Version)
		assert.Equal(t, "node-a", loaded.LastNode)
		assert.Equal(t, "bar", string(loaded.Attributes["foo"]))
		assert.True(t, rec.CreatedAt.Equal(loaded.CreatedAt))
		assert.True(t, rec.LastAccessedAt.Equal(loaded.LastAccessedAt))
		assert.Equal(t, rec.MaxInactiveInterval, loaded.MaxInactiveInterval)
	})

	t.Run("Create Collision", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("collide"), contractEpoch, time.Minute, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		other := rec.Clone()
		other.LastNode = "node-b"
		err := store.Create(ctx, other)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "node-a", loaded.LastNode, "collision must not overwrite")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Load(ctx, contractID("missing"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Save Round Trip", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("save"), contractEpoch, time.Hour, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		rec.Attributes["cart"] = []byte{0x00, 0xff, 0x10}
		rec.LastNode = "node-b"
		rec.Touch(contractEpoch.Add(time.Minute))

		v, err := store.Save(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.Version+1, v)

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, v, loaded.Version)
		assert.True(t, rec.SameAttributes(loaded))
		assert.Equal(t, "node-b", loaded.LastNode)
		assert.True(t, rec.LastAccessedAt.Equal(loaded.LastAccessedAt))
	})

	t.Run("Save Stale Version", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("stale"), contractEpoch, time.Hour, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		first := rec.Clone()
		first.Attributes["winner"] = []byte("first")
		_, err := store.Save(ctx, first)
		require.NoError(t, err)

		second := rec.Clone()
		second.Attributes["winner"] = []byte("second")
		_, err = store.Save(ctx, second)
		assert.ErrorIs(t, err, domain.ErrStaleVersion)

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", string(loaded.Attributes["winner"]))
		assert.Equal(t, domain.InitialVersion+1, loaded.Version)
	})

	t.Run("Save Missing", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("ghost"), contractEpoch, time.Hour, "node-a")
		_, err := store.Save(ctx, rec)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete Idempotent", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("delete"), contractEpoch, time.Hour, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		require.NoError(t, store.Delete(ctx, rec.ID, rec.Version))

		err := store.Delete(ctx, rec.ID, rec.Version)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete Stale Version", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("delstale"), contractEpoch, time.Hour, "node-a")
		require.NoError(t, store.Create(ctx, rec))
		_, err := store.Save(ctx, rec)
		require.NoError(t, err)

		err = store.Delete(ctx, rec.ID, rec.Version)
		assert.ErrorIs(t, err, domain.ErrStaleVersion)

		_, err = store.Load(ctx, rec.ID)
		assert.NoError(t, err, "stale delete must leave the record")
	})

	t.Run("Query Expired Before", func(t *testing.T) {
		store := newStore(t)
		short := domain.NewRecord(contractID("short"), contractEpoch, 1800*time.Second, "node-a")
		long := domain.NewRecord(contractID("long"), contractEpoch, 2*time.Hour, "node-a")
		forever := domain.NewRecord(contractID("forever"), contractEpoch, domain.NeverExpires, "node-a")
		for _, r := range []domain.Record{short, long, forever} {
			require.NoError(t, store.Create(ctx, r))
		}

		refs, err := ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(1799*time.Second)))
		require.NoError(t, err)
		assert.Empty(t, refs)

		refs, err = ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(1801*time.Second)))
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, short.ID, refs[0].ID)
		assert.Equal(t, short.Version, refs[0].Version)
		assert.Equal(t, "node-a", refs[0].LastNode)

		refs, err = ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(1000*time.Hour)))
		require.NoError(t, err)
		ids := refIDs(refs)
		assert.ElementsMatch(t, []string{short.ID, long.ID}, ids)
		assert.NotContains(t, ids, forever.ID)
	})

	t.Run("Query Expired Follows Saves", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("retouch"), contractEpoch, time.Minute, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		rec.Touch(contractEpoch.Add(time.Hour))
		_, err := store.Save(ctx, rec)
		require.NoError(t, err)

		refs, err := ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(30*time.Minute)))
		require.NoError(t, err)
		assert.Empty(t, refs, "expiry must be recomputed on save")

		rec.Version++
		rec.MaxInactiveInterval = domain.NeverExpires
		_, err = store.Save(ctx, rec)
		require.NoError(t, err)

		refs, err = ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(1000*time.Hour)))
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("Query Expired Many", func(t *testing.T) {
		store := newStore(t)
		var want []string
		for i := range 150 {
			r := domain.NewRecord(contractID("bulk"), contractEpoch.Add(time.Duration(i%7)*time.Millisecond), time.Second, "node-a")
			require.NoError(t, store.Create(ctx, r))
			want = append(want, r.ID)
		}

		refs, err := ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(time.Hour)))
		require.NoError(t, err)
		assert.ElementsMatch(t, want, refIDs(refs))
	})

	t.Run("Query Owned By", func(t *testing.T) {
		store := newStore(t)
		a := domain.NewRecord(contractID("own-a"), contractEpoch, time.Hour, "node-a")
		b := domain.NewRecord(contractID("own-b"), contractEpoch, time.Hour, "node-b")
		c := domain.NewRecord(contractID("own-c"), contractEpoch, time.Hour, "node-c")
		for _, r := range []domain.Record{a, b, c} {
			require.NoError(t, store.Create(ctx, r))
		}

		refs, err := ports.Collect(store.QueryOwnedBy(ctx, []string{"node-a", "node-c"}))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, c.ID}, refIDs(refs))
		for _, ref := range refs {
			assert.Equal(t, domain.InitialVersion, ref.Version)
			assert.True(t, contractEpoch.Equal(ref.LastAccessedAt))
		}

		refs, err = ports.Collect(store.QueryOwnedBy(ctx, nil))
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("Ownership Follows Saves", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("move"), contractEpoch, time.Hour, "node-a")
		require.NoError(t, store.Create(ctx, rec))

		rec.LastNode = "node-b"
		_, err := store.Save(ctx, rec)
		require.NoError(t, err)

		refs, err := ports.Collect(store.QueryOwnedBy(ctx, []string{"node-a"}))
		require.NoError(t, err)
		assert.Empty(t, refs)

		refs, err = ports.Collect(store.QueryOwnedBy(ctx, []string{"node-b"}))
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, domain.InitialVersion+1, refs[0].Version)

		owners, err := store.ListOwners(ctx)
		require.NoError(t, err)
		assert.True(t, slices.Contains(owners, "node-b"))
		assert.False(t, slices.Contains(owners, "node-a"), "owners with no records are dropped")
	})

	t.Run("Delete Clears Indexes", func(t *testing.T) {
		store := newStore(t)
		rec := domain.NewRecord(contractID("purge"), contractEpoch, time.Second, "node-z")
		require.NoError(t, store.Create(ctx, rec))
		require.NoError(t, store.Delete(ctx, rec.ID, rec.Version))

		refs, err := ports.Collect(store.QueryExpiredBefore(ctx, contractEpoch.Add(time.Hour)))
		require.NoError(t, err)
		assert.NotContains(t, refIDs(refs), rec.ID)

		refs, err = ports.Collect(store.QueryOwnedBy(ctx, []string{"node-z"}))
		require.NoError(t, err)
		assert.Empty(t, refs)

		owners, err := store.ListOwners(ctx)
		require.NoError(t, err)
		assert.NotContains(t, owners, "node-z")
	})

	t.Run("Early Break", func(t *testing.T) {
		store := newStore(t)
		for range 5 {
			r := domain.NewRecord(contractID("brk"), contractEpoch, time.Second, "node-a")
			require.NoError(t, store.Create(ctx, r))
		}
		seen := 0
		for _, err := range store.QueryExpiredBefore(ctx, contractEpoch.Add(time.Hour)) {
			require.NoError(t, err)
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
	})
}
