package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

const initialVersion = "1.0.0"

// Library is an immutable snapshot of the component library. Every mutating
// operation returns a new snapshot and leaves the receiver untouched;
// unchanged components are shared between snapshots.
type Library struct {
	components map[string]*domain.LibraryComponent
	order      []string
	seq        int64
	now        func() time.Time
	newID      func() string
}

// LibraryOption configures a new Library.
type LibraryOption func(*Library)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) LibraryOption {
	return func(l *Library) { l.now = now }
}

// WithIDGenerator overrides how new component ids are minted.
func WithIDGenerator(newID func() string) LibraryOption {
	return func(l *Library) { l.newID = newID }
}

// NewLibrary returns an empty library.
func NewLibrary(opts ...LibraryOption) *Library {
	l := &Library{
		components: make(map[string]*domain.LibraryComponent),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadLibrary builds a library from persisted components, ordered by their
// creation sequence.
func LoadLibrary(components []*domain.LibraryComponent, opts ...LibraryOption) *Library {
	l := NewLibrary(opts...)
	sorted := make([]*domain.LibraryComponent, 0, len(components))
	for _, c := range components {
		if c != nil && c.ID != "" {
			sorted = append(sorted, c.Clone())
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Sequence != sorted[j].Sequence {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, c := range sorted {
		if _, dup := l.components[c.ID]; dup {
			continue
		}
		if c.Sequence <= l.seq {
			c.Sequence = l.seq + 1
		}
		l.seq = c.Sequence
		c.Usage.MeasureIDs = sortedUnique(c.Usage.MeasureIDs)
		c.Usage.UsageCount = len(c.Usage.MeasureIDs)
		l.components[c.ID] = c
		l.order = append(l.order, c.ID)
	}
	return l
}

// fork copies the index so the result can be modified without touching l.
func (l *Library) fork() *Library {
	out := &Library{
		components: make(map[string]*domain.LibraryComponent, len(l.components)+1),
		order:      append([]string(nil), l.order...),
		seq:        l.seq,
		now:        l.now,
		newID:      l.newID,
	}
	for id, c := range l.components {
		out.components[id] = c
	}
	return out
}

func (l *Library) lookup(id string) (*domain.LibraryComponent, bool) {
	c, ok := l.components[id]
	return c, ok
}

// insert adds a new component to a forked library.
func (l *Library) insert(c *domain.LibraryComponent) {
	l.seq++
	c.Sequence = l.seq
	l.components[c.ID] = c
	l.order = append(l.order, c.ID)
}

// update applies fn to a copy of the component and returns a new library
// holding the copy.
func (l *Library) update(id string, fn func(c *domain.LibraryComponent) error) (*Library, *domain.LibraryComponent, error) {
	current, ok := l.components[id]
	if !ok {
		return l, nil, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return l, nil, err
	}
	out := l.fork()
	out.components[id] = next
	return out, next.Clone(), nil
}

// Len returns the number of components, archived ones included.
func (l *Library) Len() int {
	return len(l.order)
}

// Get returns a copy of the component.
func (l *Library) Get(id string) (*domain.LibraryComponent, bool) {
	c, ok := l.components[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Components returns copies of every component in creation order.
func (l *Library) Components() []*domain.LibraryComponent {
	out := make([]*domain.LibraryComponent, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.components[id].Clone())
	}
	return out
}

// Key returns the identity key of a component.
func (l *Library) Key(id string) (IdentityKey, bool) {
	c, ok := l.components[id]
	if !ok {
		return IdentityKey{}, false
	}
	return ComponentKey(c, l.lookup)
}

func (l *Library) complexityOf(c *domain.LibraryComponent) domain.Complexity {
	if c.Type == domain.ComponentComposite {
		return CompositeComplexity(c, l.lookup)
	}
	return AtomicComplexity(c)
}

func transition(c *domain.LibraryComponent, to domain.ApprovalStatus, at time.Time, by, reason string) {
	if c.Version.Status == to {
		return
	}
	c.Version.StatusChanges = append(c.Version.StatusChanges, domain.StatusChange{
		From:   c.Version.Status,
		To:     to,
		At:     at,
		By:     by,
		Reason: reason,
	})
	c.Version.Status = to
}

func nextVersion(current string) string {
	v, err := semver.NewVersion(current)
	if err != nil {
		return initialVersion
	}
	return v.IncMinor().String()
}

func newVersionInfo(at time.Time, by, description string) domain.VersionInfo {
	return domain.VersionInfo{
		VersionID: initialVersion,
		Status:    domain.StatusDraft,
		History: []domain.VersionRecord{{
			VersionID:         initialVersion,
			Status:            domain.StatusDraft,
			CreatedAt:         at,
			CreatedBy:         by,
			ChangeDescription: description,
		}},
		StatusChanges: []domain.StatusChange{{To: domain.StatusDraft, At: at, By: by, Reason: "created"}},
	}
}

// AtomicSpec describes a new atomic component.
type AtomicSpec struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	ElementType domain.ElementType
	ValueSets   []domain.ValueSetRef
	Timing      *domain.Timing
	Negation    bool
	CreatedBy   string
}

// CreateAtomic adds a draft atomic component. It rejects specs without any
// code with ErrZeroCodes.
func (l *Library) CreateAtomic(spec AtomicSpec) (*Library, *domain.LibraryComponent, error) {
	c := &domain.LibraryComponent{
		Type:        domain.ComponentAtomic,
		Name:        spec.Name,
		Description: spec.Description,
		Category:    spec.Category,
		Tags:        append([]string(nil), spec.Tags...),
		ElementType: spec.ElementType,
		Timing:      spec.Timing.Clone(),
		Negation:    spec.Negation,
	}
	for _, vs := range spec.ValueSets {
		c.ValueSets = append(c.ValueSets, *vs.Clone())
	}
	if !c.HasCodes() {
		return l, nil, fmt.Errorf("create atomic %q: %w", spec.Name, domain.ErrZeroCodes)
	}
	if c.Name == "" && len(c.ValueSets) > 0 {
		c.Name = c.ValueSets[0].Name
	}
	if c.Category == "" {
		c.Category = string(spec.ElementType)
	}

	now := l.now()
	c.ID = l.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	c.CreatedBy, c.UpdatedBy = spec.CreatedBy, spec.CreatedBy
	c.Version = newVersionInfo(now, spec.CreatedBy, "Initial version")
	c.Usage = domain.UsageInfo{MeasureIDs: []string{}}
	c.Complexity = AtomicComplexity(c)

	out := l.fork()
	out.insert(c)
	return out, c.Clone(), nil
}

// CompositeSpec describes a new composite component.
type CompositeSpec struct {
	Name        string
	Description string
	Category    string
	Operator    domain.LogicalOperator
	ChildIDs    []string
	CreatedBy   string
}

// CreateComposite adds a draft composite over existing components.
func (l *Library) CreateComposite(spec CompositeSpec) (*Library, *domain.LibraryComponent, error) {
	if spec.Operator != domain.OperatorAnd && spec.Operator != domain.OperatorOr {
		return l, nil, fmt.Errorf("create composite: %w: %q", domain.ErrInvalidOperator, spec.Operator)
	}
	if len(spec.ChildIDs) < 2 {
		return l, nil, domain.NewValidationError("children", "a composite needs at least two children", len(spec.ChildIDs))
	}

	c := &domain.LibraryComponent{
		Type:        domain.ComponentComposite,
		Name:        spec.Name,
		Description: spec.Description,
		Category:    spec.Category,
		Operator:    spec.Operator,
	}
	names := make([]string, 0, len(spec.ChildIDs))
	for _, id := range spec.ChildIDs {
		child, ok := l.components[id]
		if !ok {
			return l, nil, fmt.Errorf("composite child %s: %w", id, domain.ErrNotFound)
		}
		c.Children = append(c.Children, domain.ChildRef{ComponentID: id, VersionID: child.Version.VersionID})
		names = append(names, child.Name)
	}
	if c.Name == "" {
		c.Name = strings.Join(names, " "+string(spec.Operator)+" ")
	}
	if c.Category == "" {
		c.Category = "composite"
	}

	now := l.now()
	c.ID = l.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	c.CreatedBy, c.UpdatedBy = spec.CreatedBy, spec.CreatedBy
	c.Version = newVersionInfo(now, spec.CreatedBy, "Initial version")
	c.Usage = domain.UsageInfo{MeasureIDs: []string{}}

	out := l.fork()
	c.Complexity = CompositeComplexity(c, out.lookup)
	out.insert(c)
	return out, c.Clone(), nil
}

// ComponentChanges lists the fields a new version changes. Nil fields are
// left as they are.
type ComponentChanges struct {
	Name              *string
	Description       *string
	Category          *string
	ValueSets         []domain.ValueSetRef
	Timing            *domain.Timing
	ClearTiming       bool
	Negation          *bool
	Operator          domain.LogicalOperator
	ChildIDs          []string
	ChangeDescription string
	KeepStatus        bool
}

// ChangesIdentity reports whether applying the changes can move the
// component to a different identity key.
func (ch ComponentChanges) ChangesIdentity() bool {
	return ch.ValueSets != nil || ch.Timing != nil || ch.ClearTiming || ch.Negation != nil || ch.Operator != "" || ch.ChildIDs != nil
}

func (l *Library) applyChanges(c *domain.LibraryComponent, ch ComponentChanges) error {
	if ch.Name != nil {
		c.Name = *ch.Name
	}
	if ch.Description != nil {
		c.Description = *ch.Description
	}
	if ch.Category != nil {
		c.Category = *ch.Category
	}
	if c.Type == domain.ComponentComposite {
		if ch.Operator != "" {
			if ch.Operator != domain.OperatorAnd && ch.Operator != domain.OperatorOr {
				return fmt.Errorf("%w: %q", domain.ErrInvalidOperator, ch.Operator)
			}
			c.Operator = ch.Operator
		}
		if ch.ChildIDs != nil {
			children := make([]domain.ChildRef, 0, len(ch.ChildIDs))
			for _, id := range ch.ChildIDs {
				child, ok := l.components[id]
				if !ok {
					return fmt.Errorf("composite child %s: %w", id, domain.ErrNotFound)
				}
				children = append(children, domain.ChildRef{ComponentID: id, VersionID: child.Version.VersionID})
			}
			c.Children = children
		}
		return nil
	}
	if ch.ValueSets != nil {
		c.ValueSets = make([]domain.ValueSetRef, len(ch.ValueSets))
		for i := range ch.ValueSets {
			c.ValueSets[i] = *ch.ValueSets[i].Clone()
		}
	}
	if ch.ClearTiming {
		c.Timing = nil
	} else if ch.Timing != nil {
		c.Timing = ch.Timing.Clone()
	}
	if ch.Negation != nil {
		c.Negation = *ch.Negation
	}
	return nil
}

// CreateVersion appends a new version with the given changes. The status
// resets to draft unless KeepStatus is set. Identity-relevant changes mean
// later candidates resolve against the new identity.
func (l *Library) CreateVersion(id string, changes ComponentChanges, updatedBy string) (*Library, *domain.LibraryComponent, error) {
	return l.update(id, func(c *domain.LibraryComponent) error {
		if c.IsArchived() {
			return fmt.Errorf("version %s: %w", id, domain.ErrArchivedComponent)
		}
		if err := l.applyChanges(c, changes); err != nil {
			return fmt.Errorf("version %s: %w", id, err)
		}
		if c.Type == domain.ComponentAtomic && !c.HasCodes() {
			return fmt.Errorf("version %s: %w", id, domain.ErrZeroCodes)
		}
		now := l.now()
		status := c.Version.Status
		if !changes.KeepStatus {
			status = domain.StatusDraft
		}
		c.Version.VersionID = nextVersion(c.Version.VersionID)
		c.Version.History = append(c.Version.History, domain.VersionRecord{
			VersionID:         c.Version.VersionID,
			Status:            status,
			CreatedAt:         now,
			CreatedBy:         updatedBy,
			ChangeDescription: changes.ChangeDescription,
		})
		if status != c.Version.Status {
			transition(c, status, now, updatedBy, "new version "+c.Version.VersionID)
			c.Version.ApprovedBy, c.Version.ApprovedAt = "", nil
		}
		c.UpdatedAt, c.UpdatedBy = now, updatedBy
		c.Complexity = l.complexityOf(c)
		return nil
	})
}

// ArchiveVersion archives the component, keeping its history. A non-empty
// supersededBy records the component that replaces it.
func (l *Library) ArchiveVersion(id, supersededBy, archivedBy, reason string) (*Library, *domain.LibraryComponent, error) {
	if supersededBy != "" {
		if _, ok := l.components[supersededBy]; !ok {
			return l, nil, fmt.Errorf("superseding component %s: %w", supersededBy, domain.ErrNotFound)
		}
	}
	return l.update(id, func(c *domain.LibraryComponent) error {
		now := l.now()
		if supersededBy != "" {
			c.Version.SupersededBy = supersededBy
		}
		if reason == "" {
			reason = "archived"
		}
		transition(c, domain.StatusArchived, now, archivedBy, reason)
		c.UpdatedAt, c.UpdatedBy = now, archivedBy
		return nil
	})
}

// Approve marks the component approved. Zero-code atomics and archived
// components are rejected.
func (l *Library) Approve(id, approvedBy string) (*Library, *domain.LibraryComponent, error) {
	return l.update(id, func(c *domain.LibraryComponent) error {
		if c.IsArchived() {
			return fmt.Errorf("approve %s: %w: %w", id, domain.ErrInvalidTransition, domain.ErrArchivedComponent)
		}
		if c.Type == domain.ComponentAtomic && !c.HasCodes() {
			return fmt.Errorf("approve %s: %w", id, domain.ErrZeroCodes)
		}
		if c.Version.Status == domain.StatusApproved {
			return nil
		}
		now := l.now()
		transition(c, domain.StatusApproved, now, approvedBy, "approved")
		c.Version.ApprovedBy = approvedBy
		c.Version.ApprovedAt = &now
		c.UpdatedAt, c.UpdatedBy = now, approvedBy
		return nil
	})
}

// SubmitForReview moves a draft to pending_review.
func (l *Library) SubmitForReview(id, submittedBy string) (*Library, *domain.LibraryComponent, error) {
	return l.update(id, func(c *domain.LibraryComponent) error {
		if c.Version.Status != domain.StatusDraft {
			return fmt.Errorf("submit %s from %s: %w", id, c.Version.Status, domain.ErrInvalidTransition)
		}
		now := l.now()
		transition(c, domain.StatusPendingReview, now, submittedBy, "submitted for review")
		c.UpdatedAt, c.UpdatedBy = now, submittedBy
		return nil
	})
}

// AddUsageReference records that the measure references the component. It
// is idempotent and never changes status.
func (l *Library) AddUsageReference(id, measureID string) (*Library, error) {
	c, ok := l.components[id]
	if !ok {
		return l, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	if c.Usage.Has(measureID) {
		return l, nil
	}
	out, _, err := l.update(id, func(c *domain.LibraryComponent) error {
		now := l.now()
		c.Usage.MeasureIDs = insertSorted(c.Usage.MeasureIDs, measureID)
		c.Usage.UsageCount = len(c.Usage.MeasureIDs)
		c.Usage.LastUsedAt = &now
		return nil
	})
	return out, err
}

// RemoveUsageReference drops the measure from the component's usage. It is
// idempotent and never changes status.
func (l *Library) RemoveUsageReference(id, measureID string) (*Library, error) {
	c, ok := l.components[id]
	if !ok {
		return l, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	if !c.Usage.Has(measureID) {
		return l, nil
	}
	out, _, err := l.update(id, func(c *domain.LibraryComponent) error {
		c.Usage.MeasureIDs = removeSorted(c.Usage.MeasureIDs, measureID)
		c.Usage.UsageCount = len(c.Usage.MeasureIDs)
		return nil
	})
	return out, err
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// sortedUnique restores the sorted set form that insertSorted and
// removeSorted rely on. Persisted ids may arrive in any order.
func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	sort.Strings(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

func removeSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return ids
	}
	return append(ids[:i], ids[i+1:]...)
}

// BackfillCodes unions codes into the component's value set identified by
// valueSetID, or its only value set when the id does not match. It returns
// how many codes were added. Backfill is not a new version.
func (l *Library) BackfillCodes(id, valueSetID string, codes []domain.Code) (*Library, int, error) {
	c, ok := l.components[id]
	if !ok {
		return l, 0, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	if c.Type != domain.ComponentAtomic {
		return l, 0, fmt.Errorf("backfill %s: %w", id, domain.ErrNotAtomic)
	}
	if len(codes) == 0 {
		return l, 0, nil
	}

	added := 0
	out, _, err := l.update(id, func(c *domain.LibraryComponent) error {
		target := -1
		for i, vs := range c.ValueSets {
			if valueSetID != "" && (vs.ID == valueSetID || ValueSetIdentifier(vs) == valueSetID) {
				target = i
				break
			}
		}
		if target < 0 && len(c.ValueSets) == 1 {
			target = 0
		}
		if target < 0 {
			c.ValueSets = append(c.ValueSets, domain.ValueSetRef{ID: valueSetID})
			target = len(c.ValueSets) - 1
		}
		before := len(c.ValueSets[target].Codes)
		c.ValueSets[target].Codes = domain.UniqueCodes(append(c.ValueSets[target].Codes, codes...))
		added = len(c.ValueSets[target].Codes) - before
		c.Complexity = AtomicComplexity(c)
		c.UpdatedAt = l.now()
		return nil
	})
	if err != nil || added == 0 {
		return l, 0, err
	}
	return out, added, nil
}

// MergeRequest names the atomic components to fold into one.
type MergeRequest struct {
	ComponentIDs []string `json:"componentIds"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	MergedBy     string   `json:"mergedBy,omitempty"`
}

// SkippedSource is a merge source that was filtered out.
type SkippedSource struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// MergeResult reports the outcome of a merge. On failure the library is
// unchanged and Error explains why.
type MergeResult struct {
	Success     bool                     `json:"success"`
	Error       string                   `json:"error,omitempty"`
	Component   *domain.LibraryComponent `json:"component,omitempty"`
	ArchivedIDs []string                 `json:"archivedIds,omitempty"`
	Skipped     []SkippedSource          `json:"skipped,omitempty"`
}

// Merge replaces the valid atomic sources with one new draft atomic that
// carries the union of their value sets and usage, and archives the sources
// as superseded by it. Missing, archived and composite sources are skipped;
// fewer than two remaining sources fails the merge.
func (l *Library) Merge(req MergeRequest) (*Library, MergeResult) {
	var sources []*domain.LibraryComponent
	var skipped []SkippedSource
	seen := make(map[string]bool)
	for _, id := range req.ComponentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		c, ok := l.components[id]
		switch {
		case !ok:
			skipped = append(skipped, SkippedSource{ID: id, Reason: "not found"})
		case c.IsArchived():
			skipped = append(skipped, SkippedSource{ID: id, Reason: "archived"})
		case c.Type != domain.ComponentAtomic:
			skipped = append(skipped, SkippedSource{ID: id, Reason: "not atomic"})
		default:
			sources = append(sources, c)
		}
	}
	if len(sources) < 2 {
		return l, MergeResult{
			Error:   fmt.Sprintf("%v: %d valid of %d requested", domain.ErrInsufficientMergeSources, len(sources), len(seen)),
			Skipped: skipped,
		}
	}

	var valueSets []domain.ValueSetRef
	index := make(map[string]int)
	var measureIDs []string
	var lastUsed *time.Time
	for _, src := range sources {
		for _, vs := range src.ValueSets {
			key := ValueSetIdentifier(vs)
			if key == "" {
				continue
			}
			if i, ok := index[key]; ok {
				valueSets[i].Codes = domain.UniqueCodes(append(valueSets[i].Codes, vs.Codes...))
				continue
			}
			index[key] = len(valueSets)
			valueSets = append(valueSets, *vs.Clone())
		}
		for _, m := range src.Usage.MeasureIDs {
			measureIDs = insertSorted(measureIDs, m)
		}
		if src.Usage.LastUsedAt != nil && (lastUsed == nil || src.Usage.LastUsedAt.After(*lastUsed)) {
			at := *src.Usage.LastUsedAt
			lastUsed = &at
		}
	}

	first := sources[0]
	name := req.Name
	if name == "" {
		name = first.Name
	}
	out, merged, err := l.CreateAtomic(AtomicSpec{
		Name:        name,
		Description: req.Description,
		Category:    first.Category,
		Tags:        first.Tags,
		ElementType: first.ElementType,
		ValueSets:   valueSets,
		Timing:      first.Timing,
		Negation:    first.Negation,
		CreatedBy:   req.MergedBy,
	})
	if err != nil {
		return l, MergeResult{Error: err.Error(), Skipped: skipped}
	}

	m := out.components[merged.ID]
	if measureIDs == nil {
		measureIDs = []string{}
	}
	m.Usage = domain.UsageInfo{MeasureIDs: measureIDs, UsageCount: len(measureIDs), LastUsedAt: lastUsed}
	m.Version.History[0].ChangeDescription = fmt.Sprintf("Merged from %d components", len(sources))

	now := l.now()
	archived := make([]string, 0, len(sources))
	for _, src := range sources {
		next := src.Clone()
		next.Version.SupersededBy = m.ID
		transition(next, domain.StatusArchived, now, req.MergedBy, "merged into "+m.ID)
		next.UpdatedAt, next.UpdatedBy = now, req.MergedBy
		out.components[src.ID] = next
		archived = append(archived, src.ID)
	}

	return out, MergeResult{Success: true, Component: m.Clone(), ArchivedIDs: archived, Skipped: skipped}
}

// SearchFilter narrows Search. Zero fields match everything.
type SearchFilter struct {
	Category   string                 `json:"category,omitempty"`
	Status     domain.ApprovalStatus  `json:"status,omitempty"`
	Complexity domain.ComplexityLevel `json:"complexity,omitempty"`
	Type       domain.ComponentType   `json:"type,omitempty"`
	Text       string                 `json:"text,omitempty"`
}

// Search returns copies of matching components in creation order.
func (l *Library) Search(f SearchFilter) []*domain.LibraryComponent {
	text := NormalizeName(f.Text)
	var out []*domain.LibraryComponent
	for _, id := range l.order {
		c := l.components[id]
		if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
			continue
		}
		if f.Status != "" && c.Version.Status != f.Status {
			continue
		}
		if f.Complexity != "" && c.Complexity.Level != f.Complexity {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		if text != "" && !componentMatchesText(c, text) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

func componentMatchesText(c *domain.LibraryComponent, text string) bool {
	fields := []string{c.Name, c.Description}
	fields = append(fields, c.Tags...)
	for _, vs := range c.ValueSets {
		fields = append(fields, vs.Name, vs.ID)
	}
	for _, f := range fields {
		if strings.Contains(NormalizeName(f), text) {
			return true
		}
	}
	return false
}

// Fork copies the component under a new id with the changes applied. The
// original is left as it is; the copy starts as a draft without usage.
func (l *Library) Fork(id string, changes ComponentChanges, createdBy string) (*Library, *domain.LibraryComponent, error) {
	current, ok := l.components[id]
	if !ok {
		return l, nil, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	c := current.Clone()
	if err := l.applyChanges(c, changes); err != nil {
		return l, nil, fmt.Errorf("fork %s: %w", id, err)
	}
	if c.Type == domain.ComponentAtomic && !c.HasCodes() {
		return l, nil, fmt.Errorf("fork %s: %w", id, domain.ErrZeroCodes)
	}

	now := l.now()
	description := changes.ChangeDescription
	if description == "" {
		description = "Forked from " + id
	}
	c.ID = l.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	c.CreatedBy, c.UpdatedBy = createdBy, createdBy
	c.Version = newVersionInfo(now, createdBy, description)
	c.Usage = domain.UsageInfo{MeasureIDs: []string{}}

	out := l.fork()
	c.Complexity = out.complexityOf(c)
	out.insert(c)
	return out, c.Clone(), nil
}
