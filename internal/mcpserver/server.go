// Package mcpserver exposes the coordination core as MCP tools over
// streamable HTTP, alongside container probe and metrics endpoints.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/health"
	"github.com/devflow-tools/mcp-coordination/internal/log"
	"github.com/devflow-tools/mcp-coordination/internal/version"
)

const instructions = `Coordination server for distributed locking between developer tooling sessions.

Lock naming conventions:
- Use "work" to auto-detect lock scope from the current git branch
- Use "issue:{number}" for issue-specific locks (e.g., "issue:42")
- Use "wave:{id}" for wave-level locks (e.g., "wave:5c")
- Use "wave:{id}.{issue}" for wave+issue locks (e.g., "wave:5c.1")
- Use plain names for resource locks (e.g., "pytest", "pr-create")

Session management:
- Register the session at start, heartbeat periodically
- Sessions age out if no heartbeat arrives within the heartbeat TTL
- Locks auto-expire after their timeout (default 5 minutes)`

// Server hosts the MCP tool endpoint plus /healthz, /readyz and
// /metrics on a single port.
type Server struct {
	cfg        config.Config
	mcpServer  *server.MCPServer
	httpServer *http.Server
	handler    *Handler
}

// New assembles the MCP server, registers the coordination tools and
// builds the HTTP mux.
func New(cfg config.Config, handler *Handler, healthMgr *health.Manager) *Server {
	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		version.Version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
		server.WithLogging(),
	)
	registerTools(mcpServer, handler)

	streamable := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	r := chi.NewRouter()
	r.Use(httprate.LimitByIP(300, time.Minute))
	r.Handle("/mcp", streamable)
	r.Get("/healthz", healthMgr.ServeHealth)
	r.Get("/readyz", healthMgr.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		mcpServer:  mcpServer,
		httpServer: httpServer,
		handler:    handler,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger := log.WithComponent("mcp")
	logger.Info().
		Str("addr", s.httpServer.Addr).
		Str("endpoint", "/mcp").
		Msg("starting MCP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger := log.WithComponent("mcp")
	logger.Info().Msg("shutting down MCP server")
	return s.httpServer.Shutdown(ctx)
}

// Routes exposes the HTTP handler. Used by tests.
func (s *Server) Routes() http.Handler {
	return s.httpServer.Handler
}

// registerTools declares the coordination tool surface.
func registerTools(mcpServer *server.MCPServer, handler *Handler) {
	mcpServer.AddTool(mcp.Tool{
		Name:        "acquire_lock",
		Description: "Acquire a distributed lock before running an exclusive operation. The lock expires after timeout_seconds unless released or extended.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lock_name": map[string]interface{}{
					"type":        "string",
					"description": "Lock identifier: \"work\" (auto-detect from branch), \"issue:42\", \"wave:5c\", \"wave:5c.1\", \"branch:main\", or a plain resource name like \"pytest\"",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Lock TTL in seconds (default: server-configured, normally 300)",
				},
			},
			Required: []string{"lock_name"},
		},
	}, handler.AcquireLock)

	mcpServer.AddTool(mcp.Tool{
		Name:        "release_lock",
		Description: "Release a lock held by this session. Only the acquiring session can release it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lock_name": map[string]interface{}{
					"type":        "string",
					"description": "Lock to release (same name used in acquire_lock)",
				},
			},
			Required: []string{"lock_name"},
		},
	}, handler.ReleaseLock)

	mcpServer.AddTool(mcp.Tool{
		Name:        "check_lock",
		Description: "Check whether a lock is available or held, without acquiring it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"lock_name": map[string]interface{}{
					"type":        "string",
					"description": "Lock to check (use \"work\" to auto-detect from branch)",
				},
			},
			Required: []string{"lock_name"},
		},
	}, handler.CheckLock)

	mcpServer.AddTool(mcp.Tool{
		Name:        "list_locks",
		Description: "List all locks matching a glob pattern.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern over lock names (default \"*\")",
				},
			},
		},
	}, handler.ListLocks)

	mcpServer.AddTool(mcp.Tool{
		Name:        "register_session",
		Description: "Register this session with optional metadata. Call once at startup.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"metadata": map[string]interface{}{
					"type":        "object",
					"description": "Free-form session metadata",
					"additionalProperties": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}, handler.RegisterSession)

	mcpServer.AddTool(mcp.Tool{
		Name:        "heartbeat",
		Description: "Refresh this session's heartbeat. Call periodically to stay active.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handler.Heartbeat)

	mcpServer.AddTool(mcp.Tool{
		Name:        "session_status",
		Description: "List all registered sessions with their staleness tier.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handler.SessionStatus)

	mcpServer.AddTool(mcp.Tool{
		Name:        "health_check",
		Description: "Report server identity and backing-store health.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handler.HealthCheck)
}
