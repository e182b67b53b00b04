package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/coordination"
	"github.com/devflow-tools/mcp-coordination/internal/kv"
	"github.com/devflow-tools/mcp-coordination/internal/log"
)

// Handler implements the coordination MCP tools. Each tool call maps
// onto one lock- or session-manager operation; every unsuccessful
// outcome carries a machine-readable reason.
type Handler struct {
	locks    *coordination.LockManager
	sessions *coordination.SessionManager
	store    kv.Store
	cfg      config.Config
	sess     coordination.SessionContext
	logger   zerolog.Logger
}

// NewHandler wires the tool surface to the coordination core.
func NewHandler(store kv.Store, sess coordination.SessionContext, cfg config.Config) *Handler {
	locks := coordination.NewLockManager(store, sess, cfg.MaxLockTimeout)
	return &Handler{
		locks:    locks,
		sessions: coordination.NewSessionManager(store, sess, locks, cfg),
		store:    store,
		cfg:      cfg,
		sess:     sess,
		logger:   log.WithComponent("mcp"),
	}
}

// failure is the wire shape of an operation rejected before it could
// run (bad argument, unreachable backend).
type failure struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

// mapError turns core errors into structured tool results. Unknown
// errors surface as protocol-level tool errors.
func mapError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, coordination.ErrInvalidArgument):
		return mcp.NewToolResultStructuredOnly(failure{
			Reason: coordination.ReasonInvalidArgument,
			Error:  err.Error(),
		})
	case kv.IsUnavailable(err):
		return mcp.NewToolResultStructuredOnly(failure{
			Reason: coordination.ReasonBackendUnavailable,
			Error:  err.Error(),
		})
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

// AcquireLock handles the acquire_lock tool.
func (h *Handler) AcquireLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		LockName       string `json:"lock_name"`
		TimeoutSeconds *int   `json:"timeout_seconds"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	timeout := h.cfg.DefaultLockTimeout
	if args.TimeoutSeconds != nil {
		timeout = time.Duration(*args.TimeoutSeconds) * time.Second
	}

	res, err := h.locks.Acquire(ctx, args.LockName, timeout)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// ReleaseLock handles the release_lock tool.
func (h *Handler) ReleaseLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		LockName string `json:"lock_name"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	res, err := h.locks.Release(ctx, args.LockName)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// CheckLock handles the check_lock tool.
func (h *Handler) CheckLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		LockName string `json:"lock_name"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	res, err := h.locks.Check(ctx, args.LockName)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// ListLocks handles the list_locks tool.
func (h *Handler) ListLocks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Pattern string `json:"pattern"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	res, err := h.locks.List(ctx, args.Pattern)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// RegisterSession handles the register_session tool.
func (h *Handler) RegisterSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Metadata map[string]string `json:"metadata"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	res, err := h.sessions.Register(ctx, args.Metadata)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// Heartbeat handles the heartbeat tool.
func (h *Handler) Heartbeat(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.sessions.Heartbeat(ctx)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// SessionStatus handles the session_status tool.
func (h *Handler) SessionStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.sessions.Status(ctx)
	if err != nil {
		return mapError(err), nil
	}
	return mcp.NewToolResultStructuredOnly(res), nil
}

// backendHealth describes the backing store in a health report.
type backendHealth struct {
	Connected     bool   `json:"connected"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Error         string `json:"error,omitempty"`
}

// healthReport is the health_check tool result.
type healthReport struct {
	Server    string        `json:"server"`
	SessionID string        `json:"session_id"`
	Backend   backendHealth `json:"backend"`
}

// HealthCheck handles the health_check tool.
func (h *Handler) HealthCheck(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := healthReport{
		Server:    h.cfg.ServerName,
		SessionID: h.sess.SessionID,
	}

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("backend ping failed")
		report.Backend = backendHealth{Connected: false, Error: err.Error()}
		return mcp.NewToolResultStructuredOnly(report), nil
	}

	report.Backend.Connected = true
	if info, err := h.store.ServerInfo(ctx); err == nil {
		report.Backend.Version = info.Version
		report.Backend.UptimeSeconds = info.UptimeSeconds
	}
	return mcp.NewToolResultStructuredOnly(report), nil
}
