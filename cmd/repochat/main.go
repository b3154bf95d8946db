package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"repochat/internal/llm"
	"repochat/internal/mcp"
	"repochat/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("repochat MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	// Log startup info to stderr (stdout reserved for MCP protocol)
	log.SetOutput(os.Stderr)
	log.Printf("repochat MCP Server v%s starting...", version)
	log.Printf("Build Mode: %s, Driver: %s", storage.BuildMode, storage.DriverName)

	// Load .env when present; process environment wins
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	dbDir := os.Getenv("REPOCHAT_DB_PATH")
	if dbDir == "" {
		dbDir = mcp.DefaultDBDir
	}

	client, err := llm.NewAnthropicClient("",
		llm.WithModel(os.Getenv("REPOCHAT_MODEL")),
		llm.WithCache(llm.NewCache(0)),
	)
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}
	defer func() { _ = client.Close() }()
	log.Printf("Model: %s", client.Model())

	server, err := mcp.NewServer(dbDir, client)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Println("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Server stopped")
}
