package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/ports/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentationMiddleware_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store {
		return middleware.NewInstrumentationMiddleware(observability.NewMetrics(nil))(memory.NewStore())
	})
}

func TestInstrumentationMiddleware_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := middleware.NewInstrumentationMiddleware(metrics)(memory.NewStore())

	rec := domain.NewRecord("s1", epoch, time.Minute, "node-a")
	require.NoError(t, store.Create(ctx, rec))
	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Save(ctx, domain.Record{ID: "s1", Version: 99})
	assert.ErrorIs(t, err, domain.ErrStaleVersion)

	refs, err := ports.Collect(store.QueryExpiredBefore(ctx, epoch.Add(time.Hour)))
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	// One series per (op, outcome) pair observed.
	assert.Equal(t, 4, testutil.CollectAndCount(metrics.StoreOpDuration))
}

func TestInstrumentationMiddleware_NilMetrics(t *testing.T) {
	store := middleware.NewInstrumentationMiddleware(nil)(memory.NewStore())
	require.NoError(t, store.Create(context.Background(), domain.NewRecord("s1", epoch, time.Minute, "node-a")))
}

func TestChain_Order(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	key := generateKey(t)

	// Masking runs before encryption, so the mask is what gets sealed.
	store := middleware.Chain(underlying,
		middleware.NewPIIMiddleware([]string{"password"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
		middleware.NewInstrumentationMiddleware(nil),
	)

	rec := domain.NewRecord("s1", epoch, time.Minute, "node-a")
	rec.Attributes["password"] = []byte("hunter2")
	require.NoError(t, store.Create(ctx, rec))

	raw, err := underlying.Load(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, middleware.Mask, string(raw.Attributes["password"]), "stored value must be sealed")

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, string(loaded.Attributes["password"]))
}
