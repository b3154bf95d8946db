package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"repochat/internal/chat"
	"repochat/internal/conversation"
	"repochat/internal/indexer"
	"repochat/internal/llm"
	"repochat/internal/retrieval"
	"repochat/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "repochat"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBDir is the default location for the database
	DefaultDBDir = "~/.repochat"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	store        storage.Store
	indexer      *indexer.Indexer
	orchestrator *chat.Orchestrator
	sessions     *conversation.Manager
}

// NewServer creates a new MCP server instance backed by the given
// model client.
func NewServer(dbDir string, client llm.Client) (*Server, error) {
	if dbDir == "" || dbDir == DefaultDBDir {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbDir = filepath.Join(home, ".repochat")
	}

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(filepath.Join(dbDir, "repochat.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:          mcpServer,
		store:        store,
		indexer:      indexer.New(store, client),
		orchestrator: chat.New(store, client, retrieval.NewEngine(), chat.Config{}),
		sessions:     conversation.NewManager(store),
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(askCodebaseTool(), s.handleAskCodebase)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(getHistoryTool(), s.handleGetHistory)
}
