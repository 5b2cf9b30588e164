package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembership_HeartbeatAndExpiry(t *testing.T) {
	_, client := newClient(t)
	clock := clockwork.NewFakeClockAt(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a := redis.NewMembership(client, "node-a", 10*time.Second, redis.WithMembershipClock(clock))
	b := redis.NewMembership(client, "node-b", 10*time.Second, redis.WithMembershipClock(clock))

	require.NoError(t, a.Heartbeat(ctx))
	require.NoError(t, b.Heartbeat(ctx))

	live, err := a.ListLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b"}, live.Sorted())

	clock.Advance(8 * time.Second)
	require.NoError(t, b.Heartbeat(ctx))
	clock.Advance(5 * time.Second)

	live, err = a.ListLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-b"}, live.Sorted(), "node-a missed its TTL")
}

func TestMembership_Leave(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := redis.NewMembership(client, "node-a", time.Minute)
	require.NoError(t, a.Heartbeat(ctx))
	require.NoError(t, a.Leave(ctx))

	live, err := a.ListLive(ctx)
	require.NoError(t, err)
	assert.False(t, live.Contains("node-a"))
}

func TestMembership_RunLeavesOnCancel(t *testing.T) {
	_, client := newClient(t)
	clock := clockwork.NewFakeClock()
	a := redis.NewMembership(client, "node-a", 30*time.Second, redis.WithMembershipClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	live, err := a.ListLive(context.Background())
	require.NoError(t, err)
	assert.True(t, live.Contains("node-a"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	live, err = a.ListLive(context.Background())
	require.NoError(t, err)
	assert.False(t, live.Contains("node-a"))
}
