// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/udpin/internal/pipeline"
	"firestige.xyz/udpin/internal/session"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// SessionView is the part of a session the control plane reads.
type SessionView interface {
	Status() session.Status
	Stats() session.Stats
	Capabilities() session.Capabilities
}

// PipelineView exposes downstream counters.
type PipelineView interface {
	Stats() pipeline.Stats
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	session      SessionView
	pipeline     PipelineView
	shutdownFunc func() // Called by daemon_shutdown to trigger graceful stop
	startTime    time.Time
}

// NewCommandHandler creates a new command handler. pl may be nil.
func NewCommandHandler(sess SessionView, pl PipelineView) *CommandHandler {
	return &CommandHandler{
		session:   sess,
		pipeline:  pl,
		startTime: time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "session_status", "daemon_shutdown"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "session_status":
		return h.handleSessionStatus(ctx, cmd)
	case "session_stats":
		return h.handleSessionStats(ctx, cmd)
	case "session_capabilities":
		return h.handleSessionCapabilities(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}

func (h *CommandHandler) noSession(cmd Command) (Response, bool) {
	if h.session == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "no session attached"), true
	}
	return Response{}, false
}

func (h *CommandHandler) handleSessionStatus(_ context.Context, cmd Command) Response {
	if resp, ok := h.noSession(cmd); ok {
		return resp
	}
	return Response{ID: cmd.ID, Result: h.session.Status()}
}

// SessionStatsResult is the result of session_stats.
type SessionStatsResult struct {
	Session  session.Stats   `json:"session"`
	Pipeline *pipeline.Stats `json:"pipeline,omitempty"`
}

func (h *CommandHandler) handleSessionStats(_ context.Context, cmd Command) Response {
	if resp, ok := h.noSession(cmd); ok {
		return resp
	}
	result := SessionStatsResult{Session: h.session.Stats()}
	if h.pipeline != nil {
		ps := h.pipeline.Stats()
		result.Pipeline = &ps
	}
	return Response{ID: cmd.ID, Result: result}
}

func (h *CommandHandler) handleSessionCapabilities(_ context.Context, cmd Command) Response {
	if resp, ok := h.noSession(cmd); ok {
		return resp
	}
	return Response{ID: cmd.ID, Result: h.session.Capabilities()}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"status": "shutting_down",
		},
	}
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	result := map[string]any{
		"version":    Version,
		"pid":        os.Getpid(),
		"uptime_sec": int64(time.Since(h.startTime).Seconds()),
	}
	if h.session != nil {
		st := h.session.Status()
		result["session_id"] = st.ID
		result["session_state"] = st.State
	}
	return Response{ID: cmd.ID, Result: result}
}
