package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(OpenAPISpec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPI_DocumentsEveryRoute(t *testing.T) {
	doc := loadSpec(t)

	m, err := session.NewManager(memory.NewStore(), nil, session.DefaultConfig("node-a"))
	require.NoError(t, err)

	err = chi.Walk(newRouter(m), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		path := strings.TrimSuffix(route, "/")
		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "route %s is not documented", path) {
			return nil
		}
		assert.NotNil(t, item.GetOperation(method), "%s %s is not documented", method, path)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenAPI_SessionViewMatchesSchema(t *testing.T) {
	doc := loadSpec(t)
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	schema := doc.Components.Schemas["Session"].Value
	assert.NoError(t, schema.VisitJSON(body))
}

func TestOpenAPI_Served(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
}
