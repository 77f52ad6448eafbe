package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

// DefaultActor is recorded as the author of tool-driven changes when the
// caller names nobody.
const DefaultActor = "mcp"

// SearchComponentsParams defines parameters for search_components tool
type SearchComponentsParams struct {
	Category   string `json:"category,omitempty"`
	Status     string `json:"status,omitempty"`
	Complexity string `json:"complexity,omitempty"`
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
}

// ComponentParams names a single component.
type ComponentParams struct {
	ComponentID string `json:"component_id"`
}

// MatchElementParams defines parameters for match_element tool
type MatchElementParams struct {
	Element domain.DataElement `json:"element"`
}

// MeasureParams names a single stored measure.
type MeasureParams struct {
	MeasureID string `json:"measure_id"`
}

// RebuildUsageParams is empty; rebuild always covers the whole workspace.
type RebuildUsageParams struct{}

// MergeComponentsParams defines parameters for merge_components tool
type MergeComponentsParams struct {
	ComponentIDs []string `json:"component_ids"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Repoint      bool     `json:"repoint,omitempty"`
	MergedBy     string   `json:"merged_by,omitempty"`
}

// ApproveComponentParams defines parameters for approve_component tool
type ApproveComponentParams struct {
	ComponentID string `json:"component_id"`
	ApprovedBy  string `json:"approved_by,omitempty"`
}

// ArchiveComponentParams defines parameters for archive_component tool
type ArchiveComponentParams struct {
	ComponentID string `json:"component_id"`
	Reason      string `json:"reason,omitempty"`
	ArchivedBy  string `json:"archived_by,omitempty"`
}

func (s *Server) handleSearchComponents(ctx context.Context, req *mcp.CallToolRequest, params SearchComponentsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "search_components").Info("Tool invoked")

	status := domain.ApprovalStatus(params.Status)
	if status != "" && !status.IsValid() {
		return s.createErrorResult("Invalid parameter", fmt.Errorf("unknown status %q", params.Status)), nil, nil
	}
	components := s.engine.Search(service.SearchFilter{
		Category:   params.Category,
		Status:     status,
		Complexity: domain.ComplexityLevel(params.Complexity),
		Type:       domain.ComponentType(params.Type),
		Text:       params.Text,
	})
	if components == nil {
		components = []*domain.LibraryComponent{}
	}
	return s.jsonResult(fmt.Sprintf("Found %d components", len(components)), components)
}

func (s *Server) handleGetComponent(ctx context.Context, req *mcp.CallToolRequest, params ComponentParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "get_component").Info("Tool invoked")

	if params.ComponentID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("component_id is required")), nil, nil
	}
	c, err := s.engine.Component(params.ComponentID)
	if err != nil {
		return s.createErrorResult("Component lookup failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Component %s (%s, %s)", c.Name, c.Type, c.Version.Status), c)
}

func (s *Server) handleMatchElement(ctx context.Context, req *mcp.CallToolRequest, params MatchElementParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "match_element").Info("Tool invoked")

	result := s.engine.MatchElement(&params.Element)
	summary := "No matching component"
	if result.Exact != nil {
		summary = fmt.Sprintf("Matched %s by %s", result.Exact.ID, result.Strategy)
	}
	return s.jsonResult(summary, result)
}

func (s *Server) handleLinkMeasure(ctx context.Context, req *mcp.CallToolRequest, params MeasureParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "link_measure").Info("Tool invoked")

	if params.MeasureID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("measure_id is required")), nil, nil
	}
	result, err := s.engine.LinkMeasure(ctx, params.MeasureID)
	if err != nil {
		return s.createErrorResult("Linking failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Linked measure %s: %d created, %d matched, %d warnings",
		params.MeasureID, len(result.Created), len(result.Matched), len(result.Warnings)), result)
}

func (s *Server) handleCompileMeasure(ctx context.Context, req *mcp.CallToolRequest, params MeasureParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "compile_measure").Info("Tool invoked")

	if params.MeasureID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("measure_id is required")), nil, nil
	}
	m, err := s.engine.Measure(params.MeasureID)
	if err != nil {
		return s.createErrorResult("Measure lookup failed", err), nil, nil
	}
	result := s.compiler.CompileMeasure(ctx, m)
	out, _, rerr := s.jsonResult(fmt.Sprintf("Compiled %s: %d CTEs, %d errors, %d warnings",
		m.ID, len(result.CTEs), len(result.Errors), len(result.Warnings)), result)
	if out != nil && !result.OK() {
		out.IsError = true
	}
	return out, nil, rerr
}

func (s *Server) handleRebuildUsage(ctx context.Context, req *mcp.CallToolRequest, params RebuildUsageParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "rebuild_usage").Info("Tool invoked")

	report, err := s.engine.RebuildUsage(ctx)
	if err != nil {
		return s.createErrorResult("Usage rebuild failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Usage rebuilt: %d changed, %d archived, %d restored",
		len(report.Changed), len(report.Archived), len(report.Restored)), report)
}

func (s *Server) handleMergeComponents(ctx context.Context, req *mcp.CallToolRequest, params MergeComponentsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":       "merge_components",
		"components": len(params.ComponentIDs),
	}).Info("Tool invoked")

	if params.Name == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("name is required")), nil, nil
	}
	result, err := s.engine.Merge(ctx, service.MergeRequest{
		ComponentIDs: params.ComponentIDs,
		Name:         params.Name,
		Description:  params.Description,
		MergedBy:     actor(params.MergedBy),
	}, params.Repoint)
	if err != nil {
		return s.createErrorResult("Merge failed", err), nil, nil
	}
	if !result.Success {
		out, _, rerr := s.jsonResult("Merge rejected: "+result.Error, result)
		if out != nil {
			out.IsError = true
		}
		return out, nil, rerr
	}
	return s.jsonResult(fmt.Sprintf("Merged %d components into %s", len(result.ArchivedIDs), result.Component.ID), result)
}

func (s *Server) handleApproveComponent(ctx context.Context, req *mcp.CallToolRequest, params ApproveComponentParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "approve_component").Info("Tool invoked")

	if params.ComponentID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("component_id is required")), nil, nil
	}
	c, err := s.engine.Approve(ctx, params.ComponentID, actor(params.ApprovedBy))
	if err != nil {
		return s.createErrorResult("Approval failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Component %s approved", c.ID), c)
}

func (s *Server) handleArchiveComponent(ctx context.Context, req *mcp.CallToolRequest, params ArchiveComponentParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "archive_component").Info("Tool invoked")

	if params.ComponentID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("component_id is required")), nil, nil
	}
	c, err := s.engine.Archive(ctx, params.ComponentID, actor(params.ArchivedBy), params.Reason)
	if err != nil {
		return s.createErrorResult("Archive failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Component %s archived", c.ID), c)
}

func actor(name string) string {
	if name == "" {
		return DefaultActor
	}
	return name
}

// jsonResult returns a one-line summary followed by the JSON payload.
func (s *Server) jsonResult(summary string, payload any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
