// Package mcp exposes the measure workspace as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

// Server serves the workspace tools over MCP.
type Server struct {
	mcpServer *mcp.Server
	engine    *service.Engine
	compiler  *service.CompilerService
	logger    *logrus.Logger
	tools     []string
}

// ServerInfo contains MCP server metadata
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewServer creates an MCP server over an engine and compiler.
func NewServer(info ServerInfo, engine *service.Engine, compiler *service.CompilerService, logger *logrus.Logger) (*Server, error) {
	if engine == nil || compiler == nil {
		return nil, fmt.Errorf("mcp server needs an engine and a compiler")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, nil)

	server := &Server{
		mcpServer: mcpServer,
		engine:    engine,
		compiler:  compiler,
		logger:    logger,
	}
	server.registerTools()

	server.logger.WithField("tool_count", len(server.tools)).Info("Successfully registered all tools")
	return server, nil
}

// Tools lists the registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Run serves on the given transport until the session ends or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcpServer.Run(ctx, transport); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Start serves on stdio.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting measure accelerator MCP server on stdio")
	return s.Run(ctx, &mcp.StdioTransport{})
}

// addTool registers a typed handler and records its name.
func addTool[In any](s *Server, name, description string, h mcp.ToolHandlerFor[In, any]) {
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: name, Description: description}, h)
	s.tools = append(s.tools, name)
	s.logger.WithField("tool_name", name).Debug("Registered MCP tool")
}

func (s *Server) registerTools() {
	addTool(s, "search_components",
		"Search the component library by category, status, complexity, type or free text.",
		s.handleSearchComponents)
	addTool(s, "get_component",
		"Fetch one library component with its version history and usage.",
		s.handleGetComponent)
	addTool(s, "match_element",
		"Find the library component matching a data element, without changing the library.",
		s.handleMatchElement)
	addTool(s, "link_measure",
		"Link every criteria node of a stored measure to the component library.",
		s.handleLinkMeasure)
	addTool(s, "compile_measure",
		"Compile a stored measure into population SQL.",
		s.handleCompileMeasure)
	addTool(s, "rebuild_usage",
		"Recompute component usage from every stored measure and archive unreferenced components.",
		s.handleRebuildUsage)
	addTool(s, "merge_components",
		"Merge atomic components into one, optionally repointing every reference.",
		s.handleMergeComponents)
	addTool(s, "approve_component",
		"Approve a library component.",
		s.handleApproveComponent)
	addTool(s, "archive_component",
		"Archive a library component.",
		s.handleArchiveComponent)
}
