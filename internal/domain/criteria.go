// Package domain contains the core entities of the measure compiler: the
// criteria tree that describes a population's eligibility logic, the measures
// that own those trees, and the reusable library components that leaves and
// clauses are deduplicated into.
package domain

import (
	"fmt"
	"strings"
)

// LogicalOperator combines the children of a LogicalClause.
type LogicalOperator string

const (
	OperatorAnd LogicalOperator = "AND"
	OperatorOr  LogicalOperator = "OR"
	OperatorNot LogicalOperator = "NOT"
)

// IsValid reports whether the operator is one of AND, OR or NOT.
func (o LogicalOperator) IsValid() bool {
	switch o {
	case OperatorAnd, OperatorOr, OperatorNot:
		return true
	default:
		return false
	}
}

// ParseLogicalOperator accepts any casing and surrounding whitespace.
func ParseLogicalOperator(s string) (LogicalOperator, error) {
	op := LogicalOperator(strings.ToUpper(strings.TrimSpace(s)))
	if !op.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

// ElementType is the clinical category of a leaf predicate. It selects the
// fact table a leaf is compiled against.
type ElementType string

const (
	ElementDiagnosis    ElementType = "diagnosis"
	ElementEncounter    ElementType = "encounter"
	ElementProcedure    ElementType = "procedure"
	ElementMedication   ElementType = "medication"
	ElementObservation  ElementType = "observation"
	ElementDemographic  ElementType = "demographic"
	ElementImmunization ElementType = "immunization"
	ElementAssessment   ElementType = "assessment"
	ElementDevice       ElementType = "device"
	ElementAllergy      ElementType = "allergy"
)

// KnownElementTypes lists every element type the compiler has a default
// fact-table mapping for.
var KnownElementTypes = []ElementType{
	ElementDiagnosis, ElementEncounter, ElementProcedure, ElementMedication,
	ElementObservation, ElementDemographic, ElementImmunization,
	ElementAssessment, ElementDevice, ElementAllergy,
}

// Code is a single coded concept from a terminology such as ICD-10, CPT or SNOMED CT.
type Code struct {
	Code    string `json:"code"`
	System  string `json:"system,omitempty"`
	Display string `json:"display,omitempty"`
}

// Key identifies the code independent of its display text.
func (c Code) Key() string {
	return c.System + "|" + c.Code
}

// ValueSetRef points at a named collection of codes. ID is the OID or
// canonical URL; it may be empty when extraction only produced codes.
type ValueSetRef struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Codes   []Code `json:"codes,omitempty"`
}

// Clone returns a deep copy.
func (v *ValueSetRef) Clone() *ValueSetRef {
	if v == nil {
		return nil
	}
	out := *v
	out.Codes = append([]Code(nil), v.Codes...)
	return &out
}

// TimingOperator relates the event date of a leaf to its anchor.
type TimingOperator string

const (
	TimingDuring TimingOperator = "during"
	TimingBefore TimingOperator = "before"
	TimingAfter  TimingOperator = "after"
	TimingWithin TimingOperator = "within"
)

// TimingAnchor is the reference point a timing constraint is measured from.
type TimingAnchor string

const (
	AnchorMeasurementPeriod      TimingAnchor = "measurement_period"
	AnchorMeasurementPeriodStart TimingAnchor = "measurement_period_start"
	AnchorMeasurementPeriodEnd   TimingAnchor = "measurement_period_end"
	AnchorToday                  TimingAnchor = "today"
	AnchorIndexEvent             TimingAnchor = "index_event"
)

// OffsetDirection places an offset window before or after the anchor.
type OffsetDirection string

const (
	DirectionBefore OffsetDirection = "before"
	DirectionAfter  OffsetDirection = "after"
)

// TimeUnit is the unit of a timing offset.
type TimeUnit string

const (
	UnitHours  TimeUnit = "hours"
	UnitDays   TimeUnit = "days"
	UnitWeeks  TimeUnit = "weeks"
	UnitMonths TimeUnit = "months"
	UnitYears  TimeUnit = "years"
)

// TimingOffset is an optional window relative to the anchor, e.g. "1 year before".
type TimingOffset struct {
	Value     float64         `json:"value"`
	Unit      TimeUnit        `json:"unit"`
	Direction OffsetDirection `json:"direction,omitempty"`
}

// Timing constrains when the clinical event of a leaf must have happened.
type Timing struct {
	Operator   TimingOperator `json:"operator"`
	Offset     *TimingOffset  `json:"offset,omitempty"`
	Anchor     TimingAnchor   `json:"anchor,omitempty"`
	IndexEvent string         `json:"indexEvent,omitempty"`
	Display    string         `json:"display,omitempty"`
}

// Clone returns a deep copy.
func (t *Timing) Clone() *Timing {
	if t == nil {
		return nil
	}
	out := *t
	if t.Offset != nil {
		off := *t.Offset
		out.Offset = &off
	}
	return &out
}

// Thresholds are numeric range limits for demographic and observation leaves.
type Thresholds struct {
	AgeMin   *float64 `json:"ageMin,omitempty"`
	AgeMax   *float64 `json:"ageMax,omitempty"`
	ValueMin *float64 `json:"valueMin,omitempty"`
	ValueMax *float64 `json:"valueMax,omitempty"`
	Unit     string   `json:"unit,omitempty"`
}

// Clone returns a deep copy.
func (t *Thresholds) Clone() *Thresholds {
	if t == nil {
		return nil
	}
	out := Thresholds{Unit: t.Unit}
	out.AgeMin = cloneFloat(t.AgeMin)
	out.AgeMax = cloneFloat(t.AgeMax)
	out.ValueMin = cloneFloat(t.ValueMin)
	out.ValueMax = cloneFloat(t.ValueMax)
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// ZeroCodesSentinel marks an element that was seen by the linker but carried
// no codes. It is not a component reference.
const ZeroCodesSentinel = "__ZERO_CODES__"

// DataElement is a leaf predicate of the criteria tree.
type DataElement struct {
	ID                 string       `json:"id"`
	Type               ElementType  `json:"elementType"`
	Description        string       `json:"description,omitempty"`
	ValueSet           *ValueSetRef `json:"valueSet,omitempty"`
	DirectCodes        []Code       `json:"directCodes,omitempty"`
	Timing             *Timing      `json:"timing,omitempty"`
	Negation           bool         `json:"negation,omitempty"`
	Thresholds         *Thresholds  `json:"thresholds,omitempty"`
	LibraryComponentID string       `json:"libraryComponentId,omitempty"`
}

// Codes returns the value-set codes followed by any direct codes, without duplicates.
func (e *DataElement) Codes() []Code {
	var all []Code
	if e.ValueSet != nil {
		all = append(all, e.ValueSet.Codes...)
	}
	all = append(all, e.DirectCodes...)
	return UniqueCodes(all)
}

// HasCodes reports whether the element resolves to at least one code.
func (e *DataElement) HasCodes() bool {
	if e.ValueSet != nil && len(e.ValueSet.Codes) > 0 {
		return true
	}
	return len(e.DirectCodes) > 0
}

// ComponentRef returns the linked component id, or "" when the element is
// unlinked or carries the zero-codes sentinel.
func (e *DataElement) ComponentRef() string {
	if e.LibraryComponentID == ZeroCodesSentinel {
		return ""
	}
	return e.LibraryComponentID
}

// Clone returns a deep copy.
func (e *DataElement) Clone() *DataElement {
	if e == nil {
		return nil
	}
	out := *e
	out.ValueSet = e.ValueSet.Clone()
	out.DirectCodes = append([]Code(nil), e.DirectCodes...)
	out.Timing = e.Timing.Clone()
	out.Thresholds = e.Thresholds.Clone()
	return &out
}

// LogicalClause is an interior node of the criteria tree. Child order is kept
// for display; it carries no meaning for identity or compiled semantics.
type LogicalClause struct {
	ID                 string          `json:"id"`
	Operator           LogicalOperator `json:"operator"`
	Description        string          `json:"description,omitempty"`
	Children           []CriteriaNode  `json:"children"`
	LibraryComponentID string          `json:"libraryComponentId,omitempty"`
}

// Clone returns a deep copy of the clause and its subtree.
func (c *LogicalClause) Clone() *LogicalClause {
	if c == nil {
		return nil
	}
	out := *c
	out.Children = make([]CriteriaNode, len(c.Children))
	for i, child := range c.Children {
		out.Children[i] = child.Clone()
	}
	return &out
}

// IsEmpty reports whether the clause has no children.
func (c *LogicalClause) IsEmpty() bool {
	return c == nil || len(c.Children) == 0
}

// NodeKind discriminates the two variants of CriteriaNode.
type NodeKind string

const (
	NodeClause  NodeKind = "clause"
	NodeElement NodeKind = "element"
)

// CriteriaNode is a tagged union of LogicalClause and DataElement. Exactly
// one of Clause and Element is set, matching Kind.
type CriteriaNode struct {
	Kind    NodeKind       `json:"kind"`
	Clause  *LogicalClause `json:"clause,omitempty"`
	Element *DataElement   `json:"element,omitempty"`
}

// ClauseNode wraps a clause.
func ClauseNode(c *LogicalClause) CriteriaNode {
	return CriteriaNode{Kind: NodeClause, Clause: c}
}

// ElementNode wraps a leaf.
func ElementNode(e *DataElement) CriteriaNode {
	return CriteriaNode{Kind: NodeElement, Element: e}
}

// ID returns the id of whichever variant is set.
func (n CriteriaNode) ID() string {
	switch {
	case n.Kind == NodeClause && n.Clause != nil:
		return n.Clause.ID
	case n.Kind == NodeElement && n.Element != nil:
		return n.Element.ID
	default:
		return ""
	}
}

// IsLeaf reports whether the node is a well-formed DataElement.
func (n CriteriaNode) IsLeaf() bool {
	return n.Kind == NodeElement && n.Element != nil
}

// Check verifies the discriminant agrees with the payload. It does not descend.
func (n CriteriaNode) Check() error {
	switch n.Kind {
	case NodeClause:
		if n.Clause == nil || n.Element != nil {
			return fmt.Errorf("%w: clause node must carry exactly a clause", ErrMalformedTree)
		}
	case NodeElement:
		if n.Element == nil || n.Clause != nil {
			return fmt.Errorf("%w: element node must carry exactly an element", ErrMalformedTree)
		}
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrMalformedTree, n.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (n CriteriaNode) Clone() CriteriaNode {
	return CriteriaNode{Kind: n.Kind, Clause: n.Clause.Clone(), Element: n.Element.Clone()}
}

// WalkElements calls fn for every leaf under the clause in depth-first order.
func WalkElements(c *LogicalClause, fn func(e *DataElement)) {
	if c == nil {
		return
	}
	for _, child := range c.Children {
		switch {
		case child.Kind == NodeElement && child.Element != nil:
			fn(child.Element)
		case child.Kind == NodeClause && child.Clause != nil:
			WalkElements(child.Clause, fn)
		}
	}
}

// WalkClauses calls fn for the clause and every clause beneath it, children
// before parents.
func WalkClauses(c *LogicalClause, fn func(c *LogicalClause)) {
	if c == nil {
		return
	}
	for _, child := range c.Children {
		if child.Kind == NodeClause && child.Clause != nil {
			WalkClauses(child.Clause, fn)
		}
	}
	fn(c)
}

// ValidateTree reports every structural defect beneath the clause. The
// compiler tolerates these per sub-tree; callers that persist trees use it to
// warn early.
func ValidateTree(c *LogicalClause) []error {
	var errs []error
	var visit func(c *LogicalClause)
	visit = func(c *LogicalClause) {
		if !c.Operator.IsValid() {
			errs = append(errs, fmt.Errorf("%w: clause %s has operator %q", ErrInvalidOperator, c.ID, c.Operator))
		}
		if c.Operator == OperatorNot && len(c.Children) != 1 {
			errs = append(errs, fmt.Errorf("%w: NOT clause %s has %d children", ErrMalformedTree, c.ID, len(c.Children)))
		}
		for _, child := range c.Children {
			if err := child.Check(); err != nil {
				errs = append(errs, fmt.Errorf("clause %s: %w", c.ID, err))
				continue
			}
			if child.Kind == NodeClause {
				visit(child.Clause)
				continue
			}
			if child.Element.Type == "" {
				errs = append(errs, NewValidationError("elementType", "element "+child.Element.ID+" has no element type", ""))
			}
		}
	}
	if c != nil {
		visit(c)
	}
	return errs
}

// UniqueCodes removes duplicate codes by system and code, keeping first occurrences.
func UniqueCodes(codes []Code) []Code {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]Code, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}
