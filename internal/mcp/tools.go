package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"repochat/internal/indexer"
	"repochat/internal/storage"
	"repochat/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeSessionNotFound   = -32001 // Unknown session id
	ErrorCodeNoRelevantContext = -32002 // No indexed file matched the question
	ErrorCodeBudgetExceeded    = -32003 // Question cannot fit the token budget
	ErrorCodeServiceFailed     = -32004 // Model service call failed
)

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	opts := indexer.Options{
		Root:         path,
		Concurrency:  getIntDefault(args, "concurrency", 0),
		SweepMissing: getBoolDefault(args, "sweep_missing", true),
		Extensions:   getStringSlice(args, "extensions"),
	}

	report, err := s.indexer.Run(ctx, opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":     true,
		"discovered":  report.Discovered,
		"files_new":   report.Indexed,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
		"swept":       report.Swept,
		"duration_ms": report.Duration.Milliseconds(),
	}
	if len(report.Failures) > 0 {
		failureCount := len(report.Failures)
		if failureCount > 5 {
			response["failures"] = report.Failures[:5]
			response["failure_count"] = failureCount
		} else {
			response["failures"] = report.Failures
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskCodebase handles the ask_codebase tool invocation
func (s *Server) handleAskCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "question parameter is required", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	// An unknown session id starts a new session under that id, so a
	// caller can resume after a server restart.
	sessionID := getStringDefault(args, "session_id", "")
	session, err := s.sessions.Start(ctx, sessionID, "")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open session", map[string]interface{}{
			"error": err.Error(),
		})
	}

	reply, err := s.orchestrator.Ask(ctx, session, question)
	if err != nil {
		switch types.KindOf(err) {
		case types.KindNoRelevantContext:
			return nil, newMCPError(ErrorCodeNoRelevantContext,
				"no indexed files matched the question; index the codebase first or rephrase", nil)
		case types.KindBudgetExceeded:
			return nil, newMCPError(ErrorCodeBudgetExceeded, err.Error(), nil)
		case types.KindServiceTransient, types.KindServicePermanent:
			return nil, newMCPError(ErrorCodeServiceFailed, "model service call failed", map[string]interface{}{
				"error": err.Error(),
			})
		default:
			return nil, newMCPError(ErrorCodeInternalError, "ask failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	response := map[string]interface{}{
		"answer":         reply.Text,
		"session_id":     reply.SessionID,
		"context_files":  reply.ContextFiles,
		"token_estimate": reply.TokenEstimate,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"files": map[string]interface{}{
			"total":   stats.FilesTotal,
			"indexed": stats.FilesIndexed,
			"failed":  stats.FilesFailed,
			"pending": stats.FilesPending,
		},
		"total_token_estimate": stats.TotalTokens,
		"sessions":             stats.Sessions,
		"db_size_mb":           fmt.Sprintf("%.2f", float64(stats.DBSizeBytes)/(1024*1024)),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetHistory handles the get_history tool invocation
func (s *Server) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sessionID, ok := args["session_id"].(string)
	if !ok || sessionID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "session_id parameter is required", map[string]interface{}{
			"param":  "session_id",
			"reason": "missing or empty",
		})
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newMCPError(ErrorCodeSessionNotFound, "unknown session", map[string]interface{}{
				"session_id": sessionID,
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to load session", map[string]interface{}{
			"error": err.Error(),
		})
	}

	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list turns", map[string]interface{}{
			"error": err.Error(),
		})
	}

	history := make([]map[string]interface{}, 0, len(turns))
	for _, turn := range turns {
		history = append(history, map[string]interface{}{
			"turn_index":    turn.TurnIndex,
			"role":          turn.Role,
			"content":       turn.Content,
			"context_paths": turn.ContextPaths,
			"created_at":    turn.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	response := map[string]interface{}{
		"session_id": sessionID,
		"turns":      history,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, nil when absent
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
