package domain

import (
	"fmt"
	"time"
)

// PopulationType identifies one of the standard quality-measure populations.
type PopulationType string

const (
	PopulationInitial              PopulationType = "initial_population"
	PopulationDenominator          PopulationType = "denominator"
	PopulationDenominatorExclusion PopulationType = "denominator_exclusion"
	PopulationDenominatorException PopulationType = "denominator_exception"
	PopulationNumerator            PopulationType = "numerator"
	PopulationNumeratorExclusion   PopulationType = "numerator_exclusion"
)

// PopulationOrder is the order populations are compiled and reported in.
var PopulationOrder = []PopulationType{
	PopulationInitial,
	PopulationDenominator,
	PopulationDenominatorExclusion,
	PopulationDenominatorException,
	PopulationNumerator,
	PopulationNumeratorExclusion,
}

// IsValid reports whether the population type is known.
func (p PopulationType) IsValid() bool {
	for _, known := range PopulationOrder {
		if p == known {
			return true
		}
	}
	return false
}

// Population is one population of a measure and its criteria tree.
type Population struct {
	ID          string         `json:"id"`
	Type        PopulationType `json:"type"`
	Description string         `json:"description,omitempty"`
	Criteria    *LogicalClause `json:"criteria,omitempty"`
}

// Period is a closed date range.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Measure is a clinical quality measure: populations plus the value sets its
// trees were extracted with.
type Measure struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Version           string        `json:"version,omitempty"`
	MeasurementPeriod Period        `json:"measurementPeriod"`
	Populations       []Population  `json:"populations"`
	ValueSets         []ValueSetRef `json:"valueSets,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy.
func (m *Measure) Clone() *Measure {
	if m == nil {
		return nil
	}
	out := *m
	out.Populations = make([]Population, len(m.Populations))
	for i, p := range m.Populations {
		p.Criteria = p.Criteria.Clone()
		out.Populations[i] = p
	}
	out.ValueSets = make([]ValueSetRef, len(m.ValueSets))
	for i := range m.ValueSets {
		out.ValueSets[i] = *m.ValueSets[i].Clone()
	}
	return &out
}

// Population returns the first population of the given type.
func (m *Measure) Population(t PopulationType) (*Population, bool) {
	for i := range m.Populations {
		if m.Populations[i].Type == t {
			return &m.Populations[i], true
		}
	}
	return nil, false
}

// Elements calls fn for every leaf of every population.
func (m *Measure) Elements(fn func(p *Population, e *DataElement)) {
	for i := range m.Populations {
		p := &m.Populations[i]
		WalkElements(p.Criteria, func(e *DataElement) { fn(p, e) })
	}
}

// Clauses calls fn for every clause of every population, children first.
func (m *Measure) Clauses(fn func(p *Population, c *LogicalClause)) {
	for i := range m.Populations {
		p := &m.Populations[i]
		WalkClauses(p.Criteria, func(c *LogicalClause) { fn(p, c) })
	}
}

// ComponentRefs returns the set of real component ids referenced by the
// measure's elements and clauses. The zero-codes sentinel is excluded.
func (m *Measure) ComponentRefs() map[string]struct{} {
	refs := make(map[string]struct{})
	m.Elements(func(_ *Population, e *DataElement) {
		if id := e.ComponentRef(); id != "" {
			refs[id] = struct{}{}
		}
	})
	m.Clauses(func(_ *Population, c *LogicalClause) {
		if c.LibraryComponentID != "" && c.LibraryComponentID != ZeroCodesSentinel {
			refs[c.LibraryComponentID] = struct{}{}
		}
	})
	return refs
}

// CatalogValueSet looks up a value set carried on the measure by id.
func (m *Measure) CatalogValueSet(id string) (*ValueSetRef, bool) {
	if id == "" {
		return nil, false
	}
	for i := range m.ValueSets {
		if m.ValueSets[i].ID == id {
			return &m.ValueSets[i], true
		}
	}
	return nil, false
}

// Validate checks the fields every operation relies on.
func (m *Measure) Validate() error {
	if m.ID == "" {
		return NewValidationError("id", "measure id is required", m.ID)
	}
	if !m.MeasurementPeriod.IsZero() && m.MeasurementPeriod.End.Before(m.MeasurementPeriod.Start) {
		return NewValidationError("measurementPeriod", "end precedes start", m.MeasurementPeriod)
	}
	for _, p := range m.Populations {
		if !p.Type.IsValid() {
			return NewValidationError("populations.type", fmt.Sprintf("unknown population type %q", p.Type), p.Type)
		}
	}
	return nil
}
