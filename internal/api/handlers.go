package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/middleware"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/repository"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

// ComponentChangesRequest is the wire form of service.ComponentChanges.
type ComponentChangesRequest struct {
	Name              *string                `json:"name,omitempty"`
	Description       *string                `json:"description,omitempty"`
	Category          *string                `json:"category,omitempty"`
	ValueSets         []domain.ValueSetRef   `json:"valueSets,omitempty"`
	Timing            *domain.Timing         `json:"timing,omitempty"`
	ClearTiming       bool                   `json:"clearTiming,omitempty"`
	Negation          *bool                  `json:"negation,omitempty"`
	Operator          domain.LogicalOperator `json:"operator,omitempty"`
	ChildIDs          []string               `json:"childIds,omitempty"`
	ChangeDescription string                 `json:"changeDescription,omitempty"`
	KeepStatus        bool                   `json:"keepStatus,omitempty"`
}

func (r ComponentChangesRequest) changes() service.ComponentChanges {
	return service.ComponentChanges{
		Name:              r.Name,
		Description:       r.Description,
		Category:          r.Category,
		ValueSets:         r.ValueSets,
		Timing:            r.Timing,
		ClearTiming:       r.ClearTiming,
		Negation:          r.Negation,
		Operator:          r.Operator,
		ChildIDs:          r.ChildIDs,
		ChangeDescription: r.ChangeDescription,
		KeepStatus:        r.KeepStatus,
	}
}

// EditRequest is the body of POST /components/:id/edit.
type EditRequest struct {
	Changes    ComponentChangesRequest `json:"changes"`
	Mode       string                  `json:"mode" binding:"required"`
	MeasureIDs []string                `json:"measureIds,omitempty"`
}

// MergeRequest is the body of POST /components/merge.
type MergeRequest struct {
	ComponentIDs []string `json:"componentIds" binding:"required,min=2"`
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description,omitempty"`
	Repoint      bool     `json:"repoint"`
}

// CompositeRequest is the body of POST /components/composite.
type CompositeRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Operator    domain.LogicalOperator `json:"operator" binding:"required"`
	ChildIDs    []string               `json:"childIds" binding:"required"`
}

// RepointRequest is the body of POST /components/repoint.
type RepointRequest struct {
	Mapping    map[string]string `json:"mapping" binding:"required"`
	MeasureIDs []string          `json:"measureIds,omitempty"`
}

// SaveMeasuresRequest is the body of PUT /measures.
type SaveMeasuresRequest struct {
	Measures []*domain.Measure `json:"measures" binding:"required"`
	Link     bool              `json:"link"`
}

type idsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type archiveRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSearchComponents(c *gin.Context) {
	filter := service.SearchFilter{
		Category:   c.Query("category"),
		Status:     domain.ApprovalStatus(c.Query("status")),
		Complexity: domain.ComplexityLevel(c.Query("complexity")),
		Type:       domain.ComponentType(c.Query("type")),
		Text:       c.Query("q"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		s.badRequest(c, "unknown status "+string(filter.Status), nil)
		return
	}
	components := s.deps.Engine.Search(filter)
	if components == nil {
		components = []*domain.LibraryComponent{}
	}
	c.JSON(http.StatusOK, gin.H{"components": components, "total": len(components)})
}

// IndexQuery pages through component summaries.
type IndexQuery struct {
	Category   string `form:"category"`
	Status     string `form:"status"`
	Complexity string `form:"complexity"`
	Type       string `form:"type"`
	Text       string `form:"q"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// handleComponentIndex pages summaries from the components table when a
// repository is configured, otherwise from the in-memory library.
func (s *Server) handleComponentIndex(c *gin.Context) {
	var q IndexQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, "invalid query", err)
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	query := repository.ComponentQuery{
		Category:   q.Category,
		Status:     domain.ApprovalStatus(q.Status),
		Complexity: domain.ComplexityLevel(q.Complexity),
		Type:       domain.ComponentType(q.Type),
		Text:       q.Text,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	if query.Status != "" && !query.Status.IsValid() {
		s.badRequest(c, "unknown status "+q.Status, nil)
		return
	}

	var summaries []repository.ComponentSummary
	if s.deps.Repository != nil {
		var err error
		if summaries, err = s.deps.Repository.Search(c.Request.Context(), query); err != nil {
			s.fail(c, err)
			return
		}
	} else {
		matched := s.deps.Engine.Search(service.SearchFilter{
			Category:   query.Category,
			Status:     query.Status,
			Complexity: query.Complexity,
			Type:       query.Type,
			Text:       query.Text,
		})
		for i := query.Offset; i < len(matched) && len(summaries) < query.Limit; i++ {
			summaries = append(summaries, repository.Summarize(matched[i]))
		}
	}
	if summaries == nil {
		summaries = []repository.ComponentSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"components": summaries, "limit": query.Limit, "offset": query.Offset})
}

func (s *Server) handleComponentStats(c *gin.Context) {
	var counts map[domain.ApprovalStatus]int
	if s.deps.Repository != nil {
		var err error
		if counts, err = s.deps.Repository.StatusCounts(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
	} else {
		counts = make(map[domain.ApprovalStatus]int)
		for _, component := range s.deps.Engine.Library().Components() {
			counts[component.Version.Status]++
		}
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"byStatus": counts, "total": total})
}

func (s *Server) handleGetComponent(c *gin.Context) {
	component, err := s.deps.Engine.Component(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

// handleComponentMeasures answers from the persisted reference table when a
// repository is configured, otherwise from the usage index.
func (s *Server) handleComponentMeasures(c *gin.Context) {
	id := c.Param("id")
	component, err := s.deps.Engine.Component(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ids := component.Usage.MeasureIDs
	if s.deps.Repository != nil {
		ids, err = s.deps.Repository.MeasuresReferencing(c.Request.Context(), id)
		if err != nil {
			s.fail(c, err)
			return
		}
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"componentId": id, "measureIds": ids})
}

func (s *Server) handleMatchElement(c *gin.Context) {
	var el domain.DataElement
	if err := c.ShouldBindJSON(&el); err != nil {
		s.badRequest(c, "invalid data element", err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.MatchElement(&el))
}

func (s *Server) handleApprove(c *gin.Context) {
	component, err := s.deps.Engine.Approve(c.Request.Context(), c.Param("id"), middleware.Reviewer(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (s *Server) handleBatchApprove(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid batch approve request", err)
		return
	}
	components, err := s.deps.Engine.BatchApprove(c.Request.Context(), req.IDs, middleware.Reviewer(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"components": components})
}

func (s *Server) handleSubmit(c *gin.Context) {
	component, err := s.deps.Engine.SubmitForReview(c.Request.Context(), c.Param("id"), middleware.Reviewer(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (s *Server) handleArchive(c *gin.Context) {
	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid archive request", err)
			return
		}
	}
	component, err := s.deps.Engine.Archive(c.Request.Context(), c.Param("id"), middleware.Reviewer(c), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (s *Server) handleEdit(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid edit request", err)
		return
	}
	mode, err := service.ParseEditMode(req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.deps.Engine.Edit(c.Request.Context(), service.EditRequest{
		ComponentID: c.Param("id"),
		Changes:     req.Changes.changes(),
		Mode:        mode,
		MeasureIDs:  req.MeasureIDs,
		EditedBy:    middleware.Reviewer(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleMerge reports a failed precondition as 409 with the merge result so
// callers can see which sources were skipped.
func (s *Server) handleMerge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid merge request", err)
		return
	}
	result, err := s.deps.Engine.Merge(c.Request.Context(), service.MergeRequest{
		ComponentIDs: req.ComponentIDs,
		Name:         req.Name,
		Description:  req.Description,
		MergedBy:     middleware.Reviewer(c),
	}, req.Repoint)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleCreateComposite(c *gin.Context) {
	var req CompositeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid composite request", err)
		return
	}
	component, err := s.deps.Engine.CreateComposite(c.Request.Context(), service.CompositeSpec{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Operator:    req.Operator,
		ChildIDs:    req.ChildIDs,
		CreatedBy:   middleware.Reviewer(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, component)
}

func (s *Server) handleRepoint(c *gin.Context) {
	var req RepointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid repoint request", err)
		return
	}
	report, err := s.deps.Engine.RepointReferences(c.Request.Context(), req.Mapping, req.MeasureIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListMeasures(c *gin.Context) {
	measures := s.deps.Engine.Measures()
	c.JSON(http.StatusOK, gin.H{"measures": measures, "total": len(measures)})
}

func (s *Server) handleGetMeasure(c *gin.Context) {
	m, err := s.deps.Engine.Measure(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleSaveMeasures(c *gin.Context) {
	var req SaveMeasuresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid measures request", err)
		return
	}
	result, err := s.deps.Engine.SaveMeasures(c.Request.Context(), req.Measures, req.Link)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteMeasure(c *gin.Context) {
	report, err := s.deps.Engine.DeleteMeasures(c.Request.Context(), []string{c.Param("id")})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleDeleteMeasures(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid delete request", err)
		return
	}
	report, err := s.deps.Engine.DeleteMeasures(c.Request.Context(), req.IDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleLinkMeasure(c *gin.Context) {
	result, err := s.deps.Engine.LinkMeasure(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleCompileMeasure always answers 200; compile issues are part of the
// result rather than request failures.
func (s *Server) handleCompileMeasure(c *gin.Context) {
	m, err := s.deps.Engine.Measure(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Compiler.CompileMeasure(c.Request.Context(), m))
}

func (s *Server) handleRebuildUsage(c *gin.Context) {
	report, err := s.deps.Engine.RebuildUsage(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
