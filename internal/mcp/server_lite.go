// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/cache"
	litecfg "github.com/Haaaz3/MeasureAccelerator-sub006/internal/config"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/measurefile"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/store"
	"github.com/Haaaz3/MeasureAccelerator-sub006/pkg/terminology"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// It uses in-memory caching and SQLite for persistence.
type LiteServer struct {
	*Server
	config *litecfg.LiteConfig
	store  store.Store
	cache  *cache.MemoryCache
	logger *logrus.Logger
	now    func() time.Time
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithStore sets a custom workspace store.
func WithStore(s store.Store) LiteServerOption {
	return func(ls *LiteServer) error {
		ls.store = s
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance backed by a
// SQLite workspace under cfg.DataDir.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		// stdout carries the protocol.
		logger: litecfg.NewLogger(domain.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stderr"}),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.store == nil {
		s, err := store.NewSQLiteStore(cfg.WorkspaceDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace store: %w", err)
		}
		server.store = s
	}

	resolver, err := terminology.NewResolver(cfg.Terminology(), server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create terminology resolver: %w", err)
	}

	engine := service.NewEngine(
		service.WithWorkspaceStore(server.store),
		service.WithValueSetResolver(resolver),
		service.WithEngineLogger(server.logger),
	)

	server.cache = cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	compiler := service.NewCompilerService(service.NewCompiler(cfg.Compiler()), server.cache, cfg.CacheTTL, server.logger)

	mcpServer, err := NewServer(ServerInfo{Name: "measure-accelerator-lite", Version: "v1.0.0"}, engine, compiler, server.logger)
	if err != nil {
		return nil, err
	}
	server.Server = mcpServer

	addTool(mcpServer, "import_measures",
		"Import measures from a JSON or YAML file on the server, optionally linking them to the library.",
		server.handleImportMeasures)
	addTool(mcpServer, "export_workspace",
		"Export every component and measure to a JSON file in the data directory.",
		server.handleExportWorkspace)

	server.logger.Info("Lite server initialized successfully")
	return server, nil
}

// Start loads the workspace and serves on stdio.
func (s *LiteServer) Start(ctx context.Context) error {
	if err := s.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	return s.Server.Start(ctx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close workspace store")
			return err
		}
	}
	return nil
}

// Engine returns the workspace engine.
func (s *LiteServer) Engine() *service.Engine {
	return s.engine
}

// GetCache returns the memory cache for external access.
func (s *LiteServer) GetCache() *cache.MemoryCache {
	return s.cache
}

// ImportMeasuresParams defines parameters for import_measures tool
type ImportMeasuresParams struct {
	Path string `json:"path"`
	Link bool   `json:"link,omitempty"`
}

// ExportWorkspaceParams defines parameters for export_workspace tool
type ExportWorkspaceParams struct {
	FileName string `json:"file_name,omitempty"`
}

func (s *LiteServer) handleImportMeasures(ctx context.Context, req *mcp.CallToolRequest, params ImportMeasuresParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "import_measures").Info("Tool invoked")

	if params.Path == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("path is required")), nil, nil
	}
	measures, err := measurefile.Read(params.Path)
	if err != nil {
		return s.createErrorResult("Import failed", err), nil, nil
	}
	result, err := s.engine.SaveMeasures(ctx, measures, params.Link)
	if err != nil {
		return s.createErrorResult("Import failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Imported %d measures", len(measures)), result)
}

func (s *LiteServer) handleExportWorkspace(ctx context.Context, req *mcp.CallToolRequest, params ExportWorkspaceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "export_workspace").Info("Tool invoked")

	name := params.FileName
	if name == "" {
		name = fmt.Sprintf("workspace-%s.json", s.now().UTC().Format("20060102-150405"))
	}
	if filepath.Base(name) != name {
		return s.createErrorResult("Invalid parameter", fmt.Errorf("file_name must not contain a path")), nil, nil
	}

	dir := s.config.ExportDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.createErrorResult("Export failed", err), nil, nil
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return s.createErrorResult("Export failed", err), nil, nil
	}
	defer f.Close()

	if err := s.store.ExportJSON(ctx, f); err != nil {
		return s.createErrorResult("Export failed", err), nil, nil
	}
	return s.jsonResult("Workspace exported to "+path, map[string]string{"path": path})
}
