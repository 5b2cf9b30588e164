package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ClusterURI is the resource that describes session ownership.
const ClusterURI = "lattice://cluster"

// Manager is the part of session.Manager the MCP tools drive.
type Manager interface {
	Invalidate(ctx context.Context, id string) error
	Sweep(ctx context.Context) (session.SweepReport, error)
	Store() ports.Store
	NodeID() string
}

// SessionSummary is one listed session.
type SessionSummary struct {
	ID             string    `json:"id" jsonschema_description:"Session identifier"`
	Owner          string    `json:"owner" jsonschema_description:"Node that last saved the session"`
	Version        int64     `json:"version"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	// ExpiresAt is nil for sessions that never expire.
	ExpiresAt *time.Time `json:"expiresAt,omitempty" jsonschema_description:"Absent when the session never expires"`
}

// ListResponse is the output of list_sessions.
type ListResponse struct {
	Sessions []SessionSummary `json:"sessions" jsonschema_description:"Sessions ordered by id"`
}

// InspectResponse is the output of inspect_session. Attribute values are base64.
type InspectResponse struct {
	SessionSummary
	CreatedAt  time.Time         `json:"createdAt"`
	Attributes map[string][]byte `json:"attributes"`
}

// ClusterOwner counts the sessions of one owner hint.
type ClusterOwner struct {
	NodeID   string `json:"nodeId"`
	Sessions int    `json:"sessions"`
}

// Server exposes session administration as an MCP Server.
type Server struct {
	manager   Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for tool failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(m Manager, version string, opts ...Option) *Server {
	s := &Server{
		manager:   m,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("lattice-mcp", strings.TrimSpace(version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: list_sessions
	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored sessions, optionally only those owned by one node."),
		mcp.WithString("owner", mcp.Description("Only list sessions last saved by this node (optional)")),
		mcp.WithOutputSchema[ListResponse](),
	), mcp.NewStructuredToolHandler(s.handleListSessions))

	// TOOL: inspect_session
	s.mcpServer.AddTool(mcp.NewTool("inspect_session",
		mcp.WithDescription("Load one session with its attributes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithOutputSchema[InspectResponse](),
	), mcp.NewStructuredToolHandler(s.handleInspectSession))

	// TOOL: invalidate_session
	s.mcpServer.AddTool(mcp.NewTool("invalidate_session",
		mcp.WithDescription("Delete a session cluster-wide. Deleting a missing session succeeds."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session identifier")),
	), s.handleInvalidateSession)

	// TOOL: sweep
	s.mcpServer.AddTool(mcp.NewTool("sweep",
		mcp.WithDescription("Run one scavenger pass: delete expired sessions and reclaim orphans of dead nodes."),
		mcp.WithOutputSchema[session.SweepReport](),
	), mcp.NewStructuredToolHandler(s.handleSweep))
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ListResponse, error) {
	store := s.manager.Store()

	var owners []string
	if owner, _ := args["owner"].(string); owner != "" {
		owners = []string{owner}
	} else {
		var err error
		if owners, err = store.ListOwners(ctx); err != nil {
			return ListResponse{}, fmt.Errorf("list owners failed: %w", err)
		}
	}

	refs, err := ports.Collect(store.QueryOwnedBy(ctx, owners))
	if err != nil {
		return ListResponse{}, fmt.Errorf("list sessions failed: %w", err)
	}
	slices.SortFunc(refs, func(a, b domain.RecordRef) int {
		return strings.Compare(a.ID, b.ID)
	})

	resp := ListResponse{Sessions: make([]SessionSummary, 0, len(refs))}
	for _, ref := range refs {
		resp.Sessions = append(resp.Sessions, summarize(ref))
	}
	return resp, nil
}

func (s *Server) handleInspectSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (InspectResponse, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return InspectResponse{}, errors.New("id is required")
	}
	rec, err := s.manager.Store().Load(ctx, id)
	if err != nil {
		return InspectResponse{}, fmt.Errorf("inspect failed: %w", err)
	}
	return InspectResponse{
		SessionSummary: summarize(rec.Ref()),
		CreatedAt:      rec.CreatedAt,
		Attributes:     rec.Attributes,
	}, nil
}

func (s *Server) handleInvalidateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	if err := s.manager.Invalidate(ctx, id); err != nil {
		s.logger.Warn("MCP invalidate failed", "session", id, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("invalidate failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %s invalidated", id)), nil
}

func (s *Server) handleSweep(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (session.SweepReport, error) {
	report, err := s.manager.Sweep(ctx)
	if err != nil {
		s.logger.Warn("MCP sweep failed", "err", err)
		return session.SweepReport{}, fmt.Errorf("sweep failed: %w", err)
	}
	return report, nil
}

func (s *Server) registerResources() {
	// EXPOSE: lattice://cluster
	s.mcpServer.AddResource(mcp.NewResource(ClusterURI, "Session Ownership",
		mcp.WithResourceDescription("Sessions per owner node in the shared store"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		owners, err := s.cluster(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read ownership: %w", err)
		}
		jsonBytes, err := json.Marshal(owners)
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      ClusterURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func (s *Server) cluster(ctx context.Context) ([]ClusterOwner, error) {
	store := s.manager.Store()
	nodes, err := store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(nodes))
	for ref, err := range store.QueryOwnedBy(ctx, nodes) {
		if err != nil {
			return nil, err
		}
		counts[ref.LastNode]++
	}
	owners := make([]ClusterOwner, 0, len(nodes))
	for _, id := range nodes {
		if counts[id] > 0 {
			owners = append(owners, ClusterOwner{NodeID: id, Sessions: counts[id]})
		}
	}
	return owners, nil
}

func summarize(ref domain.RecordRef) SessionSummary {
	sum := SessionSummary{
		ID:             ref.ID,
		Owner:          ref.LastNode,
		Version:        ref.Version,
		LastAccessedAt: ref.LastAccessedAt,
	}
	if exp, ok := ref.Expiry(); ok {
		sum.ExpiresAt = &exp
	}
	return sum
}
