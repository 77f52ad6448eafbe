// Package main serves the shared PostgreSQL workspace over MCP on stdio,
// configured the same way as the HTTP server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/cache"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/config"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/mcp"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/store"
	"github.com/Haaaz3/MeasureAccelerator-sub006/pkg/terminology"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	// stdout carries the protocol.
	logging := cfg.Logging
	logging.Output = "stderr"
	logger := config.NewLogger(logging)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	workspaceStore, err := store.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open workspace store")
	}
	defer workspaceStore.Close()

	resolver, err := terminology.NewResolver(cfg.Terminology, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create terminology resolver")
	}

	engine := service.NewEngine(
		service.WithWorkspaceStore(workspaceStore),
		service.WithValueSetResolver(resolver),
		service.WithEngineLogger(logger),
	)
	if err := engine.Load(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to load workspace")
	}

	compileCache := cache.NewMemoryCache(cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)
	compiler := service.NewCompilerService(service.NewCompiler(cfg.Compiler), compileCache, cfg.Cache.DefaultTTL, logger)

	server, err := mcp.NewServer(mcp.ServerInfo{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
	}, engine, compiler, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}

	logger.Info("MCP server stopped")
}
