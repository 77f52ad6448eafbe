package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/middleware"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/repository"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

// Dependencies are the services the HTTP API fronts. Repository and Health
// are optional.
type Dependencies struct {
	Engine     *service.Engine
	Compiler   *service.CompilerService
	Repository *repository.ComponentRepository
	Health     func(ctx context.Context) error
	Logger     *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
	log           *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
		log:           logger,
	}

	server.setupRoutes(cfg)

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes. Only /health is open; with auth
// enabled every /api/v1 route needs a reviewer token.
func (s *Server) setupRoutes(cfg *domain.Config) {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.Auth))
	v1.Use(middleware.RateLimit(cfg.RateLimit))
	{
		v1.GET("/components", s.handleSearchComponents)
		v1.GET("/components/index", s.handleComponentIndex)
		v1.GET("/components/stats", s.handleComponentStats)
		v1.GET("/components/:id", s.handleGetComponent)
		v1.GET("/components/:id/measures", s.handleComponentMeasures)
		v1.POST("/components/match", s.handleMatchElement)

		v1.POST("/components/approve", s.handleBatchApprove)
		v1.POST("/components/merge", s.handleMerge)
		v1.POST("/components/composite", s.handleCreateComposite)
		v1.POST("/components/repoint", s.handleRepoint)
		v1.POST("/components/:id/approve", s.handleApprove)
		v1.POST("/components/:id/submit", s.handleSubmit)
		v1.POST("/components/:id/archive", s.handleArchive)
		v1.POST("/components/:id/edit", s.handleEdit)

		v1.GET("/measures", s.handleListMeasures)
		v1.PUT("/measures", s.handleSaveMeasures)
		v1.POST("/measures/delete", s.handleDeleteMeasures)
		v1.GET("/measures/:id", s.handleGetMeasure)
		v1.DELETE("/measures/:id", s.handleDeleteMeasure)
		v1.POST("/measures/:id/link", s.handleLinkMeasure)
		v1.GET("/measures/:id/compile", s.handleCompileMeasure)

		v1.POST("/usage/rebuild", s.handleRebuildUsage)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	checks := gin.H{}
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	lib := s.deps.Engine.Library()
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.configManager.GetConfig().MCP.ServerVersion,
		"components": lib.Len(),
		"measures":   len(s.deps.Engine.Snapshot().Measures),
		"checks":     checks,
	})
}
