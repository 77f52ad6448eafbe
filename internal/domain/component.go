package domain

import (
	"sort"
	"time"
)

// ComponentType distinguishes atomic from composite library components.
type ComponentType string

const (
	ComponentAtomic    ComponentType = "atomic"
	ComponentComposite ComponentType = "composite"
)

// ApprovalStatus is the lifecycle state of a component.
type ApprovalStatus string

const (
	StatusDraft         ApprovalStatus = "draft"
	StatusPendingReview ApprovalStatus = "pending_review"
	StatusApproved      ApprovalStatus = "approved"
	StatusArchived      ApprovalStatus = "archived"
)

// IsValid reports whether the status is known.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusArchived:
		return true
	default:
		return false
	}
}

// ComplexityLevel buckets a complexity score.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

// Complexity is the derived complexity of a component.
type Complexity struct {
	Score   int             `json:"score"`
	Level   ComplexityLevel `json:"level"`
	Factors []string        `json:"factors,omitempty"`
}

// VersionRecord is one entry of a component's append-only version history.
type VersionRecord struct {
	VersionID         string         `json:"versionId"`
	Status            ApprovalStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	CreatedBy         string         `json:"createdBy,omitempty"`
	ChangeDescription string         `json:"changeDescription,omitempty"`
}

// StatusChange records one lifecycle transition.
type StatusChange struct {
	From   ApprovalStatus `json:"from,omitempty"`
	To     ApprovalStatus `json:"to"`
	At     time.Time      `json:"at"`
	By     string         `json:"by,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// VersionInfo carries the current version, its status and the history that
// led to it.
type VersionInfo struct {
	VersionID     string          `json:"versionId"`
	Status        ApprovalStatus  `json:"status"`
	History       []VersionRecord `json:"versionHistory"`
	StatusChanges []StatusChange  `json:"statusChanges,omitempty"`
	ApprovedBy    string          `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time      `json:"approvedAt,omitempty"`
	SupersededBy  string          `json:"supersededBy,omitempty"`
}

// LastActiveStatus returns the most recent non-archived status in the
// component's history, or approved when none was ever recorded.
func (v VersionInfo) LastActiveStatus() ApprovalStatus {
	for i := len(v.StatusChanges) - 1; i >= 0; i-- {
		if s := v.StatusChanges[i].To; s != StatusArchived && s.IsValid() {
			return s
		}
	}
	for i := len(v.History) - 1; i >= 0; i-- {
		if s := v.History[i].Status; s != StatusArchived && s.IsValid() {
			return s
		}
	}
	return StatusApproved
}

// UsageInfo is the derived index of measures referencing a component.
type UsageInfo struct {
	MeasureIDs []string   `json:"measureIds"`
	UsageCount int        `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// Has reports whether the measure is in the usage set.
func (u UsageInfo) Has(measureID string) bool {
	i := sort.SearchStrings(u.MeasureIDs, measureID)
	return i < len(u.MeasureIDs) && u.MeasureIDs[i] == measureID
}

// ChildRef points a composite at one of its children.
type ChildRef struct {
	ComponentID string `json:"componentId"`
	VersionID   string `json:"versionId,omitempty"`
}

// LibraryComponent is a deduplicated, reusable unit. Atomic components use
// ValueSets, Timing and Negation; composites use Operator and Children.
type LibraryComponent struct {
	ID          string        `json:"id"`
	Type        ComponentType `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	Tags        []string      `json:"tags,omitempty"`

	ElementType ElementType   `json:"elementType,omitempty"`
	ValueSets   []ValueSetRef `json:"valueSets,omitempty"`
	Timing      *Timing       `json:"timing,omitempty"`
	Negation    bool          `json:"negation,omitempty"`

	Operator LogicalOperator `json:"operator,omitempty"`
	Children []ChildRef      `json:"children,omitempty"`

	Complexity Complexity  `json:"complexity"`
	Version    VersionInfo `json:"versionInfo"`
	Usage      UsageInfo   `json:"usage"`

	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// Status is shorthand for Version.Status.
func (c *LibraryComponent) Status() ApprovalStatus {
	return c.Version.Status
}

// IsArchived reports whether the component is archived.
func (c *LibraryComponent) IsArchived() bool {
	return c.Version.Status == StatusArchived
}

// Codes returns every code across all of the component's value sets.
func (c *LibraryComponent) Codes() []Code {
	var all []Code
	for _, vs := range c.ValueSets {
		all = append(all, vs.Codes...)
	}
	return UniqueCodes(all)
}

// HasCodes reports whether any value set of the component carries a code.
func (c *LibraryComponent) HasCodes() bool {
	for _, vs := range c.ValueSets {
		if len(vs.Codes) > 0 {
			return true
		}
	}
	return false
}

// ChildIDs returns the ids of a composite's children in display order.
func (c *LibraryComponent) ChildIDs() []string {
	ids := make([]string, len(c.Children))
	for i, ch := range c.Children {
		ids[i] = ch.ComponentID
	}
	return ids
}

// Clone returns a deep copy.
func (c *LibraryComponent) Clone() *LibraryComponent {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.ValueSets = make([]ValueSetRef, len(c.ValueSets))
	for i := range c.ValueSets {
		out.ValueSets[i] = *c.ValueSets[i].Clone()
	}
	out.Timing = c.Timing.Clone()
	out.Children = append([]ChildRef(nil), c.Children...)
	out.Complexity.Factors = append([]string(nil), c.Complexity.Factors...)
	out.Version.History = append([]VersionRecord(nil), c.Version.History...)
	out.Version.StatusChanges = append([]StatusChange(nil), c.Version.StatusChanges...)
	if c.Version.ApprovedAt != nil {
		at := *c.Version.ApprovedAt
		out.Version.ApprovedAt = &at
	}
	out.Usage.MeasureIDs = append([]string(nil), c.Usage.MeasureIDs...)
	if c.Usage.LastUsedAt != nil {
		at := *c.Usage.LastUsedAt
		out.Usage.LastUsedAt = &at
	}
	return &out
}
