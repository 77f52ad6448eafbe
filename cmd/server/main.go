package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/api"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/cache"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/config"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/database"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/repository"
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
	logger := config.NewLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting measure accelerator")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	databaseURL := configManager.GetDatabaseURL()
	migrations, err := database.NewMigrationRunner(databaseURL, cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrations.Up(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	if err := migrations.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close migration runner")
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	workspaceStore, err := store.NewPostgresStoreFromURL(databaseURL)
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

	compileCache, closeCache := newCompileCache(cfg.Cache, logger)
	defer closeCache()
	compiler := service.NewCompilerService(service.NewCompiler(cfg.Compiler), compileCache, cfg.Cache.DefaultTTL, logger)

	server := api.NewServer(configManager, api.Dependencies{
		Engine:     engine,
		Compiler:   compiler,
		Repository: repository.NewComponentRepository(db.Pool, logger),
		Health:     db.Health,
		Logger:     logger,
	})

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newCompileCache keeps compiled SQL in process, backed by Redis when a URL
// is configured. A Redis outage at startup degrades to memory only.
func newCompileCache(cfg domain.CacheConfig, logger *logrus.Logger) (cache.Cache, func()) {
	memory := cache.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL)
	if cfg.RedisURL == "" {
		return memory, func() {}
	}
	shared, err := cache.NewRedisCache(cfg, "measure-accelerator:compile:")
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, compile cache is in-process only")
		return memory, func() {}
	}
	return cache.NewTiered(memory, shared), func() {
		if err := shared.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis cache")
		}
	}
}
