package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// Workspace is one consistent snapshot of every measure and the component
// library. Snapshots are never modified in place.
type Workspace struct {
	Library  *Library
	Measures map[string]*domain.Measure
}

// MeasureList returns the measures ordered by id.
func (w *Workspace) MeasureList() []*domain.Measure {
	ids := make([]string, 0, len(w.Measures))
	for id := range w.Measures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*domain.Measure, len(ids))
	for i, id := range ids {
		out[i] = w.Measures[id]
	}
	return out
}

func (w *Workspace) clone() *Workspace {
	measures := make(map[string]*domain.Measure, len(w.Measures))
	for id, m := range w.Measures {
		measures[id] = m
	}
	return &Workspace{Library: w.Library, Measures: measures}
}

func (w *Workspace) rebuild() (*Workspace, RebuildReport) {
	lib, report := RebuildUsageIndex(w.MeasureList(), w.Library)
	next := w.clone()
	next.Library = lib
	return next, report
}

// EditMode chooses how a component edit reaches the measures using it.
type EditMode string

const (
	// EditPropagate versions the component in place; every referencing
	// measure picks up the change.
	EditPropagate EditMode = "propagate"
	// EditFork creates a new component and repoints only the chosen measures.
	EditFork EditMode = "fork"
)

// ParseEditMode validates an edit mode string.
func ParseEditMode(s string) (EditMode, error) {
	switch EditMode(s) {
	case EditPropagate, EditFork:
		return EditMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownEditMode, s)
	}
}

// EditRequest describes a component edit.
type EditRequest struct {
	ComponentID string
	Changes     ComponentChanges
	Mode        EditMode
	// MeasureIDs lists the measures a fork is applied to.
	MeasureIDs []string
	EditedBy   string
}

// EditResult reports the component an edit produced and the measures it touched.
type EditResult struct {
	Component *domain.LibraryComponent `json:"component"`
	Mode      EditMode                 `json:"mode"`
	Measures  []string                 `json:"measures,omitempty"`
	Rebuild   RebuildReport            `json:"rebuild"`
}

// SaveResult reports the outcome of saving a batch of measures.
type SaveResult struct {
	Links   []LinkResult  `json:"links,omitempty"`
	Rebuild RebuildReport `json:"rebuild"`
}

// Engine owns the workspace. Every mutating operation runs under an
// exclusive lock against the current snapshot and commits a new snapshot
// only when the whole operation, persistence included, succeeds.
type Engine struct {
	mu      sync.RWMutex
	ws      *Workspace
	store   domain.WorkspaceStore
	linker  *Linker
	libOpts []LibraryOption
	logger  *logrus.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkspaceStore mirrors every committed snapshot into the store.
func WithWorkspaceStore(store domain.WorkspaceStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithValueSetResolver lets linking expand value sets extracted without codes.
func WithValueSetResolver(resolver domain.ValueSetResolver) EngineOption {
	return func(e *Engine) { e.linker = NewLinker(resolver, e.linker.actor) }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *logrus.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithLibraryOptions passes options to every library the engine builds.
func WithLibraryOptions(opts ...LibraryOption) EngineOption {
	return func(e *Engine) { e.libOpts = append(e.libOpts, opts...) }
}

// NewEngine creates an engine over an empty workspace.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		linker: NewLinker(nil, "system"),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ws = &Workspace{Library: NewLibrary(e.libOpts...), Measures: map[string]*domain.Measure{}}
	return e
}

// Load replaces the workspace with the store's contents.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	components, err := e.store.LoadComponents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	measures, err := e.store.LoadMeasures(ctx)
	if err != nil {
		return fmt.Errorf("failed to load measures: %w", err)
	}
	e.Replace(components, measures)
	e.logger.WithFields(logrus.Fields{
		"components": len(components),
		"measures":   len(measures),
	}).Info("Workspace loaded")
	return nil
}

// Replace swaps in a workspace built from the given entities without
// persisting it.
func (e *Engine) Replace(components []*domain.LibraryComponent, measures []*domain.Measure) {
	ws := &Workspace{
		Library:  LoadLibrary(components, e.libOpts...),
		Measures: make(map[string]*domain.Measure, len(measures)),
	}
	for _, m := range measures {
		ws.Measures[m.ID] = m.Clone()
	}
	e.mu.Lock()
	e.ws = ws
	e.mu.Unlock()
}

// Snapshot returns the current workspace.
func (e *Engine) Snapshot() *Workspace {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ws
}

// Library returns the current library snapshot.
func (e *Engine) Library() *Library {
	return e.Snapshot().Library
}

// Measure returns a copy of a stored measure.
func (e *Engine) Measure(id string) (*domain.Measure, error) {
	m, ok := e.Snapshot().Measures[id]
	if !ok {
		return nil, fmt.Errorf("measure %s: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// Measures returns copies of all measures ordered by id.
func (e *Engine) Measures() []*domain.Measure {
	list := e.Snapshot().MeasureList()
	out := make([]*domain.Measure, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// Component returns a copy of a component.
func (e *Engine) Component(id string) (*domain.LibraryComponent, error) {
	c, ok := e.Library().Get(id)
	if !ok {
		return nil, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// Search filters the library.
func (e *Engine) Search(filter SearchFilter) []*domain.LibraryComponent {
	return e.Library().Search(filter)
}

// MatchElement resolves a single leaf against the library without changing it.
func (e *Engine) MatchElement(el *domain.DataElement) MatchResult {
	return Match(CandidateFromElement(el), e.Library())
}

// update runs fn against the current snapshot and commits the result.
func (e *Engine) update(ctx context.Context, op string, fn func(ws *Workspace) (*Workspace, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.ws)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"operation": op, "error": err}).Warn("Workspace operation rejected")
		return err
	}
	if err := e.persist(ctx, e.ws, next); err != nil {
		e.logger.WithFields(logrus.Fields{"operation": op, "error": err}).Error("Failed to persist workspace")
		return err
	}
	e.ws = next
	e.logger.WithField("operation", op).Debug("Workspace committed")
	return nil
}

// persist writes the components and measures that differ between snapshots
// as one store transaction. Unchanged entities are shared by pointer, so
// comparison is by identity.
func (e *Engine) persist(ctx context.Context, prev, next *Workspace) error {
	if e.store == nil {
		return nil
	}
	var components []*domain.LibraryComponent
	for _, id := range next.Library.order {
		c := next.Library.components[id]
		if old, ok := prev.Library.components[id]; !ok || old != c {
			components = append(components, c)
		}
	}
	var measures []*domain.Measure
	for _, m := range next.MeasureList() {
		if old, ok := prev.Measures[m.ID]; !ok || old != m {
			measures = append(measures, m)
		}
	}
	var deleted []string
	for id := range prev.Measures {
		if _, ok := next.Measures[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)

	if len(components) == 0 && len(measures) == 0 && len(deleted) == 0 {
		return nil
	}
	if err := e.store.SaveWorkspace(ctx, components, measures, deleted); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

// SaveMeasures stores a batch of measures, optionally linking each against
// the library first, then rebuilds usage. Any invalid measure rejects the
// whole batch.
func (e *Engine) SaveMeasures(ctx context.Context, measures []*domain.Measure, link bool) (SaveResult, error) {
	var result SaveResult
	err := e.update(ctx, "save_measures", func(ws *Workspace) (*Workspace, error) {
		seen := make(map[string]bool, len(measures))
		for _, m := range measures {
			if m == nil {
				return nil, fmt.Errorf("%w: nil measure", domain.ErrBatchRejected)
			}
			if err := m.Validate(); err != nil {
				return nil, fmt.Errorf("%w: measure %q: %w", domain.ErrBatchRejected, m.ID, err)
			}
			if seen[m.ID] {
				return nil, fmt.Errorf("%w: duplicate measure %s", domain.ErrBatchRejected, m.ID)
			}
			seen[m.ID] = true
		}

		next := ws.clone()
		for _, m := range measures {
			saved := m.Clone()
			if link {
				linked, lib, lr, err := e.linker.Link(ctx, saved, next.Library)
				if err != nil {
					return nil, fmt.Errorf("%w: link measure %s: %w", domain.ErrBatchRejected, m.ID, err)
				}
				saved, next.Library = linked, lib
				result.Links = append(result.Links, lr)
			}
			saved.UpdatedAt = next.Library.now()
			next.Measures[saved.ID] = saved
		}
		next, result.Rebuild = next.rebuild()
		return next, nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"measures": len(measures),
		"linked":   link,
		"archived": len(result.Rebuild.Archived),
		"restored": len(result.Rebuild.Restored),
	}).Info("Measures saved")
	return result, nil
}

// DeleteMeasures removes measures and rebuilds usage. Unknown ids reject the
// whole batch.
func (e *Engine) DeleteMeasures(ctx context.Context, ids []string) (RebuildReport, error) {
	var report RebuildReport
	err := e.update(ctx, "delete_measures", func(ws *Workspace) (*Workspace, error) {
		for _, id := range ids {
			if _, ok := ws.Measures[id]; !ok {
				return nil, fmt.Errorf("%w: measure %s: %w", domain.ErrBatchRejected, id, domain.ErrNotFound)
			}
		}
		next := ws.clone()
		for _, id := range ids {
			delete(next.Measures, id)
		}
		next, report = next.rebuild()
		return next, nil
	})
	return report, err
}

// LinkMeasure links a stored measure against the library and rebuilds usage.
func (e *Engine) LinkMeasure(ctx context.Context, id string) (LinkResult, error) {
	var result LinkResult
	err := e.update(ctx, "link_measure", func(ws *Workspace) (*Workspace, error) {
		m, ok := ws.Measures[id]
		if !ok {
			return nil, fmt.Errorf("measure %s: %w", id, domain.ErrNotFound)
		}
		linked, lib, lr, err := e.linker.Link(ctx, m, ws.Library)
		if err != nil {
			return nil, err
		}
		next := ws.clone()
		next.Library = lib
		next.Measures[id] = linked
		next, _ = next.rebuild()
		result = lr
		return next, nil
	})
	if err != nil {
		return LinkResult{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"measure_id": id,
		"created":    len(result.Created),
		"matched":    len(result.Matched),
		"warnings":   len(result.Warnings),
	}).Info("Measure linked")
	return result, nil
}

// RebuildUsage recomputes the usage index from the stored measures.
func (e *Engine) RebuildUsage(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	err := e.update(ctx, "rebuild_usage", func(ws *Workspace) (*Workspace, error) {
		var next *Workspace
		next, report = ws.rebuild()
		return next, nil
	})
	if err == nil && len(report.Dangling) > 0 {
		e.logger.WithField("dangling", len(report.Dangling)).Warn("Measures reference missing components")
	}
	return report, err
}

// Merge folds atomic components into one. With repoint set, every measure
// referencing a source is repointed to the merged component before usage is
// rebuilt, all under one lock so no rebuild sees a half-applied merge.
// A failed precondition is reported in the result and leaves the workspace
// unchanged.
func (e *Engine) Merge(ctx context.Context, req MergeRequest, repoint bool) (MergeResult, error) {
	var result MergeResult
	err := e.update(ctx, "merge", func(ws *Workspace) (*Workspace, error) {
		lib, mr := ws.Library.Merge(req)
		result = mr
		if !mr.Success {
			return ws, nil
		}
		next := ws.clone()
		next.Library = lib
		if repoint {
			mapping := make(map[string]string, len(mr.ArchivedIDs))
			for _, id := range mr.ArchivedIDs {
				mapping[id] = mr.Component.ID
			}
			if err := next.repoint(mapping, nil); err != nil {
				return nil, err
			}
			next, _ = next.rebuild()
			if c, ok := next.Library.Get(mr.Component.ID); ok {
				result.Component = c
			}
		}
		return next, nil
	})
	return result, err
}

// repoint rewrites references in the listed measures, or in every measure
// when ids is nil.
func (w *Workspace) repoint(mapping map[string]string, ids []string) error {
	var targets []*domain.Measure
	if ids == nil {
		targets = w.MeasureList()
	} else {
		for _, id := range ids {
			m, ok := w.Measures[id]
			if !ok {
				return fmt.Errorf("%w: measure %s: %w", domain.ErrBatchRejected, id, domain.ErrNotFound)
			}
			targets = append(targets, m)
		}
	}
	rewritten, _, err := RepointReferences(targets, mapping, w.Library)
	if err != nil {
		return err
	}
	for _, m := range rewritten {
		w.Measures[m.ID] = m
	}
	return nil
}

// RepointReferences rewrites component references in the listed measures
// (all measures when measureIDs is empty) and rebuilds usage. The batch is
// all-or-nothing.
func (e *Engine) RepointReferences(ctx context.Context, mapping map[string]string, measureIDs []string) (RebuildReport, error) {
	var report RebuildReport
	err := e.update(ctx, "repoint", func(ws *Workspace) (*Workspace, error) {
		next := ws.clone()
		ids := measureIDs
		if len(ids) == 0 {
			ids = nil
		}
		if err := next.repoint(mapping, ids); err != nil {
			return nil, err
		}
		next, report = next.rebuild()
		return next, nil
	})
	return report, err
}

func (e *Engine) libraryOp(ctx context.Context, op string, fn func(lib *Library) (*Library, *domain.LibraryComponent, error)) (*domain.LibraryComponent, error) {
	var out *domain.LibraryComponent
	err := e.update(ctx, op, func(ws *Workspace) (*Workspace, error) {
		lib, c, err := fn(ws.Library)
		if err != nil {
			return nil, err
		}
		next := ws.clone()
		next.Library = lib
		out = c
		return next, nil
	})
	return out, err
}

// Approve approves a component.
func (e *Engine) Approve(ctx context.Context, id, approvedBy string) (*domain.LibraryComponent, error) {
	return e.libraryOp(ctx, "approve", func(lib *Library) (*Library, *domain.LibraryComponent, error) {
		return lib.Approve(id, approvedBy)
	})
}

// BatchApprove approves every listed component or none of them.
func (e *Engine) BatchApprove(ctx context.Context, ids []string, approvedBy string) ([]*domain.LibraryComponent, error) {
	var out []*domain.LibraryComponent
	err := e.update(ctx, "batch_approve", func(ws *Workspace) (*Workspace, error) {
		lib := ws.Library
		out = out[:0]
		for _, id := range ids {
			next, c, err := lib.Approve(id, approvedBy)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrBatchRejected, err)
			}
			lib = next
			out = append(out, c)
		}
		next := ws.clone()
		next.Library = lib
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitForReview moves a draft component to pending review.
func (e *Engine) SubmitForReview(ctx context.Context, id, submittedBy string) (*domain.LibraryComponent, error) {
	return e.libraryOp(ctx, "submit_for_review", func(lib *Library) (*Library, *domain.LibraryComponent, error) {
		return lib.SubmitForReview(id, submittedBy)
	})
}

// Archive archives a component by hand. A later rebuild restores it if
// measures still reference it.
func (e *Engine) Archive(ctx context.Context, id, archivedBy, reason string) (*domain.LibraryComponent, error) {
	return e.libraryOp(ctx, "archive", func(lib *Library) (*Library, *domain.LibraryComponent, error) {
		return lib.ArchiveVersion(id, "", archivedBy, reason)
	})
}

// Edit changes a component either in place or as a fork.
func (e *Engine) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	result := EditResult{Mode: req.Mode}
	err := e.update(ctx, "edit", func(ws *Workspace) (*Workspace, error) {
		next := ws.clone()
		switch req.Mode {
		case EditPropagate:
			lib, c, err := ws.Library.CreateVersion(req.ComponentID, req.Changes, req.EditedBy)
			if err != nil {
				return nil, err
			}
			next.Library = lib
			result.Component = c
			// Measures carry only predicate fields; a rename leaves them as is.
			if req.Changes.ChangesIdentity() {
				result.Measures = next.propagate(c)
			}
		case EditFork:
			lib, c, err := ws.Library.Fork(req.ComponentID, req.Changes, req.EditedBy)
			if err != nil {
				return nil, err
			}
			next.Library = lib
			if len(req.MeasureIDs) > 0 {
				if err := next.repoint(map[string]string{req.ComponentID: c.ID}, req.MeasureIDs); err != nil {
					return nil, err
				}
				next.propagate(c)
			}
			result.Component = c
			result.Measures = append([]string(nil), req.MeasureIDs...)
		default:
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEditMode, req.Mode)
		}
		next, result.Rebuild = next.rebuild()
		if c, ok := next.Library.Get(result.Component.ID); ok {
			result.Component = c
		}
		return next, nil
	})
	if err != nil {
		return EditResult{}, err
	}
	return result, nil
}

// propagate copies an atomic component's predicate fields onto every element
// that references it, returning the ids of the measures changed.
func (w *Workspace) propagate(c *domain.LibraryComponent) []string {
	if c.Type != domain.ComponentAtomic {
		return nil
	}
	var changed []string
	for _, m := range w.MeasureList() {
		if _, ok := m.ComponentRefs()[c.ID]; !ok {
			continue
		}
		next := m.Clone()
		next.Elements(func(_ *domain.Population, el *domain.DataElement) {
			if el.ComponentRef() != c.ID {
				return
			}
			applyComponent(el, c)
		})
		w.Measures[m.ID] = next
		changed = append(changed, m.ID)
	}
	return changed
}

func applyComponent(el *domain.DataElement, c *domain.LibraryComponent) {
	el.Timing = c.Timing.Clone()
	el.Negation = c.Negation
	if len(c.ValueSets) == 0 {
		return
	}
	el.ValueSet = c.ValueSets[0].Clone()
	el.DirectCodes = nil
	for _, vs := range c.ValueSets[1:] {
		el.DirectCodes = append(el.DirectCodes, vs.Codes...)
	}
}

// CreateVersion appends a version to a component without touching measures.
func (e *Engine) CreateVersion(ctx context.Context, id string, changes ComponentChanges, updatedBy string) (*domain.LibraryComponent, error) {
	return e.libraryOp(ctx, "create_version", func(lib *Library) (*Library, *domain.LibraryComponent, error) {
		return lib.CreateVersion(id, changes, updatedBy)
	})
}

// CreateComposite adds a composite over existing components.
func (e *Engine) CreateComposite(ctx context.Context, spec CompositeSpec) (*domain.LibraryComponent, error) {
	return e.libraryOp(ctx, "create_composite", func(lib *Library) (*Library, *domain.LibraryComponent, error) {
		return lib.CreateComposite(spec)
	})
}
