package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	cfg := session.DefaultConfig("node-a")
	m, err := session.NewManager(memory.NewStore(), memory.NewMembership("node-a"), cfg,
		session.WithClock(clock),
		session.WithMetrics(metrics),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(m, WithGatherer(reg)))
	t.Cleanup(srv.Close)
	return srv, clock
}

func do(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[SessionView](t, resp)
	assert.True(t, session.Validate(created.ID))
	assert.Equal(t, "node-a", created.LastNode)
	assert.Equal(t, int64(1800), created.MaxInactiveInterval)

	base := srv.URL + "/sessions/" + created.ID
	resp = do(t, http.MethodPut, base+"/attributes/cart", []byte("3 items"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[SessionView](t, resp)
	assert.Equal(t, "3 items", string(got.Attributes["cart"]))
	assert.Equal(t, domain.InitialVersion+1, got.Version)

	resp = do(t, http.MethodDelete, base+"/attributes/cart", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	got = decode[SessionView](t, do(t, http.MethodGet, base, nil))
	assert.Empty(t, got.Attributes)

	resp = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "deleting twice is fine")

	resp = do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodPut, base+"/attributes/cart", []byte("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSession_Resume(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decode[SessionView](t, do(t, http.MethodPost, srv.URL+"/sessions", nil))

	body := fmt.Sprintf(`{"id": %q}`, created.ID)
	resp := do(t, http.MethodPost, srv.URL+"/sessions", []byte(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[SessionView](t, resp).ID)

	resp = do(t, http.MethodPost, srv.URL+"/sessions", []byte(`{"id": "unknown"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, "unknown", decode[SessionView](t, resp).ID)

	resp = do(t, http.MethodPost, srv.URL+"/sessions", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAttributesAreBase64(t *testing.T) {
	srv, _ := newTestServer(t)
	created := decode[SessionView](t, do(t, http.MethodPost, srv.URL+"/sessions", nil))
	raw := []byte{0x00, 0xff, 0x10}
	do(t, http.MethodPut, srv.URL+"/sessions/"+created.ID+"/attributes/bin", raw)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/"+created.ID, nil)
	var generic map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&generic))
	attrs := generic["attributes"].(map[string]any)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), attrs["bin"])
}

func TestSweepEndpoint(t *testing.T) {
	srv, clock := newTestServer(t)
	decode[SessionView](t, do(t, http.MethodPost, srv.URL+"/sessions", nil))

	clock.Advance(31 * time.Minute)
	resp := do(t, http.MethodPost, srv.URL+"/admin/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[session.SweepReport](t, resp)
	assert.Equal(t, 1, report.Expired)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "node-a", decode[map[string]string](t, resp)["node"])

	do(t, http.MethodPost, srv.URL+"/sessions", nil)
	resp = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf strings.Builder
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "lattice_sessions_created_total 1")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.ErrInvalidSessionID), http.StatusNotFound},
		{&session.ConflictError{ID: "s1"}, http.StatusConflict},
		{fmt.Errorf("redis save: %w: %w", domain.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{domain.ErrIDGenerationExhausted, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
