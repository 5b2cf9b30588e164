package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/ports/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store {
		return memory.NewStore()
	})
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rec := domain.NewRecord("iso", time.Now(), time.Hour, "node-a")
	rec.Attributes["k"] = []byte("v")
	require.NoError(t, store.Create(ctx, rec))

	// Mutating the caller's copy must not leak into the store.
	rec.Attributes["k"][0] = 'X'

	loaded, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "v", string(loaded.Attributes["k"]))

	loaded.Attributes["k"] = []byte("changed")
	again, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "v", string(again.Attributes["k"]))
}

func TestMemoryStore_QueryHonoursContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, domain.NewRecord("a", past, time.Second, "n")))
	cancel()

	_, err := ports.Collect(store.QueryExpiredBefore(ctx, time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMembership_SetAndFail(t *testing.T) {
	m := memory.NewMembership("a", "b")
	ctx := context.Background()

	live, err := m.ListLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, live.Sorted())

	m.Set("c")
	live, err = m.ListLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, live.Sorted())

	m.Fail(domain.ErrStoreUnavailable)
	_, err = m.ListLive(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
