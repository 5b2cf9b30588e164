package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *session.Manager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	m, err := session.NewManager(memory.NewStore(), memory.NewMembership("node-a"), session.DefaultConfig("node-a"),
		session.WithClock(clock),
	)
	require.NoError(t, err)
	return NewServer(m, "test"), m, clock
}

func createSession(t *testing.T, m *session.Manager, attrs map[string]string) string {
	t.Helper()
	ctx := context.Background()
	id, h, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	for k, v := range attrs {
		h.Set(k, []byte(v))
	}
	require.NoError(t, m.Commit(ctx, h))
	return id
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestListAndInspect(t *testing.T) {
	s, m, _ := newTestServer(t)
	ctx := context.Background()
	id := createSession(t, m, map[string]string{"cart": "3 items"})

	list, err := s.handleListSessions(ctx, callRequest(nil), map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, id, list.Sessions[0].ID)
	assert.Equal(t, "node-a", list.Sessions[0].Owner)
	require.NotNil(t, list.Sessions[0].ExpiresAt)
	assert.True(t, epoch.Add(session.DefaultMaxInactiveInterval).Equal(*list.Sessions[0].ExpiresAt))

	filtered, err := s.handleListSessions(ctx, callRequest(nil), map[string]interface{}{"owner": "node-b"})
	require.NoError(t, err)
	assert.Empty(t, filtered.Sessions)

	got, err := s.handleInspectSession(ctx, callRequest(nil), map[string]interface{}{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "3 items", string(got.Attributes["cart"]))
	assert.Equal(t, domain.InitialVersion+1, got.Version)

	_, err = s.handleInspectSession(ctx, callRequest(nil), map[string]interface{}{"id": "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidateSession(t *testing.T) {
	s, m, _ := newTestServer(t)
	ctx := context.Background()
	id := createSession(t, m, nil)

	res, err := s.handleInvalidateSession(ctx, callRequest(map[string]any{"id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	_, err = m.Store().Load(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err = s.handleInvalidateSession(ctx, callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSweep(t *testing.T) {
	s, m, clock := newTestServer(t)
	ctx := context.Background()
	id := createSession(t, m, nil)

	clock.Advance(session.DefaultMaxInactiveInterval + time.Second)
	report, err := s.handleSweep(ctx, callRequest(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	_, err = m.Store().Load(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClusterResource(t *testing.T) {
	s, m, _ := newTestServer(t)
	createSession(t, m, nil)
	createSession(t, m, nil)

	owners, err := s.cluster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ClusterOwner{{NodeID: "node-a", Sessions: 2}}, owners)

	data, err := json.Marshal(owners)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"nodeId":"node-a","sessions":2}]`, string(data))
}
