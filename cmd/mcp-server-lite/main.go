// Package main provides the standalone MCP server. It needs no external
// services: the workspace lives in SQLite and compiled SQL is cached in memory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/config"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/mcp"
)

func main() {
	cfg := config.LoadLiteConfig()

	// stdout carries the protocol, so the standard logger goes to stderr.
	log.SetOutput(os.Stderr)
	log.Printf("Starting measure accelerator MCP server, data directory: %s", cfg.DataDir)

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("MCP server failed: %v", err)
	}

	log.Println("MCP server stopped")
}
