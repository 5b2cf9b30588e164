package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxAttributeBytes bounds a single attribute upload.
const MaxAttributeBytes = 1 << 20

// OpenAPISpec documents every route served by NewHandler.
//
//go:embed openapi.yaml
var OpenAPISpec []byte

// Manager is the session façade the API drives.
type Manager interface {
	GetOrCreate(ctx context.Context, candidateID string) (string, *session.Handle, error)
	Acquire(ctx context.Context, id string) (*session.Handle, error)
	Commit(ctx context.Context, h *session.Handle) error
	Release(ctx context.Context, h *session.Handle) error
	Invalidate(ctx context.Context, id string) error
	Sweep(ctx context.Context) (session.SweepReport, error)
	NodeID() string
}

// Server exposes a Manager over HTTP.
type Server struct {
	Manager Manager

	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewHandler creates a new HTTP handler for the manager.
func NewHandler(m Manager, opts ...Option) http.Handler {
	return enableCORS(newRouter(m, opts...))
}

func newRouter(m Manager, opts ...Option) *chi.Mux {
	server := &Server{
		Manager:  m,
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", server.GetHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(OpenAPISpec)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", server.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", server.GetSession)
			r.Delete("/", server.DeleteSession)
			r.Put("/attributes/{name}", server.PutAttribute)
			r.Delete("/attributes/{name}", server.DeleteAttribute)
		})
	})
	r.Post("/admin/sweep", server.Sweep)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionView is the JSON shape of a session. Attribute values are base64.
type SessionView struct {
	ID                  string            `json:"id"`
	CreatedAt           time.Time         `json:"createdAt"`
	LastAccessedAt      time.Time         `json:"lastAccessedAt"`
	MaxInactiveInterval int64             `json:"maxInactiveInterval"`
	LastNode            string            `json:"lastNode"`
	Version             int64             `json:"version"`
	Attributes          map[string][]byte `json:"attributes"`
}

// NewSessionView renders rec. MaxInactiveInterval is in seconds, -1 for never.
func NewSessionView(rec domain.Record) SessionView {
	maxInactive := int64(-1)
	if rec.MaxInactiveInterval >= 0 {
		maxInactive = int64(rec.MaxInactiveInterval / time.Second)
	}
	return SessionView{
		ID:                  rec.ID,
		CreatedAt:           rec.CreatedAt,
		LastAccessedAt:      rec.LastAccessedAt,
		MaxInactiveInterval: maxInactive,
		LastNode:            rec.LastNode,
		Version:             rec.Version,
		Attributes:          rec.Attributes,
	}
}

// CreateRequest optionally names a candidate session to resume.
type CreateRequest struct {
	ID string `json:"id"`
}

// CreateSession handles POST /sessions. It answers 201 for a new session and
// 200 when the candidate id was resumed.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			s.logger.Warn("CreateSession: Invalid request body", "err", err)
			return
		}
	}

	id, h, err := s.Manager.GetOrCreate(r.Context(), body.ID)
	if err != nil {
		s.fail(w, "CreateSession", err)
		return
	}
	view := NewSessionView(h.Record())
	if err := s.Manager.Release(r.Context(), h); err != nil {
		s.fail(w, "CreateSession", err)
		return
	}

	status := http.StatusCreated
	if id == body.ID {
		status = http.StatusOK
	}
	s.writeJSON(w, status, view)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	h, err := s.Manager.Acquire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "GetSession", err)
		return
	}
	rec := h.Record()
	if err := s.Manager.Release(r.Context(), h); err != nil {
		s.fail(w, "GetSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSessionView(rec))
}

// PutAttribute handles PUT /sessions/{id}/attributes/{name}. The raw body is the value.
func (s *Server) PutAttribute(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxAttributeBytes))
	if err != nil {
		http.Error(w, "Attribute too large or unreadable", http.StatusRequestEntityTooLarge)
		s.logger.Warn("PutAttribute: Invalid body", "err", err)
		return
	}
	s.mutate(w, r, "PutAttribute", func(h *session.Handle) {
		h.Set(chi.URLParam(r, "name"), value)
	})
}

// DeleteAttribute handles DELETE /sessions/{id}/attributes/{name}.
func (s *Server) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "DeleteAttribute", func(h *session.Handle) {
		h.Remove(chi.URLParam(r, "name"))
	})
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(*session.Handle)) {
	h, err := s.Manager.Acquire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	fn(h)
	if err := s.Manager.Commit(r.Context(), h); err != nil {
		s.fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSession handles DELETE /sessions/{id}. Deleting an unknown session succeeds.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Invalidate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "DeleteSession", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep handles POST /admin/sweep.
func (s *Server) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.Manager.Sweep(r.Context())
	if err != nil {
		s.fail(w, "Sweep", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"node":   s.Manager.NodeID(),
	})
}

// StatusFor maps a session error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidSessionID):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleVersion):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrIDGenerationExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err, "status", status)
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
