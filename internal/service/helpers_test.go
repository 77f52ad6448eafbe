package service

import (
	"fmt"
	"time"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// testOptions gives a library deterministic ids and an advancing clock.
func testOptions() []LibraryOption {
	n := 0
	tick := 0
	return []LibraryOption{
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("comp-%d", n)
		}),
		WithClock(func() time.Time {
			tick++
			return testEpoch.Add(time.Duration(tick) * time.Minute)
		}),
	}
}

func newTestLibrary() *Library {
	return NewLibrary(testOptions()...)
}

func duringMP() *domain.Timing {
	return &domain.Timing{Operator: domain.TimingDuring, Anchor: domain.AnchorMeasurementPeriod}
}

func withinYearBeforeStart() *domain.Timing {
	return &domain.Timing{
		Operator: domain.TimingWithin,
		Anchor:   domain.AnchorMeasurementPeriodStart,
		Offset:   &domain.TimingOffset{Value: 1, Unit: domain.UnitYears, Direction: domain.DirectionBefore},
	}
}

func diabetesVS() domain.ValueSetRef {
	return domain.ValueSetRef{
		ID:   "2.16.840.1.113883.3.464.1003.103.12.1001",
		Name: "Diabetes",
		Codes: []domain.Code{
			{Code: "E11.9", System: "ICD10CM"},
			{Code: "E10.9", System: "ICD10CM"},
		},
	}
}

func hba1cVS() domain.ValueSetRef {
	return domain.ValueSetRef{
		ID:    "2.16.840.1.113883.3.464.1003.198.12.1013",
		Name:  "HbA1c Laboratory Test",
		Codes: []domain.Code{{Code: "4548-4", System: "LOINC"}},
	}
}

func element(id string, t domain.ElementType, vs domain.ValueSetRef, timing *domain.Timing) *domain.DataElement {
	return &domain.DataElement{ID: id, Type: t, ValueSet: vs.Clone(), Timing: timing}
}

func and(id string, children ...domain.CriteriaNode) *domain.LogicalClause {
	return &domain.LogicalClause{ID: id, Operator: domain.OperatorAnd, Children: children}
}

func or(id string, children ...domain.CriteriaNode) *domain.LogicalClause {
	return &domain.LogicalClause{ID: id, Operator: domain.OperatorOr, Children: children}
}

func not(id string, children ...domain.CriteriaNode) *domain.LogicalClause {
	return &domain.LogicalClause{ID: id, Operator: domain.OperatorNot, Children: children}
}

func leaf(e *domain.DataElement) domain.CriteriaNode {
	return domain.ElementNode(e)
}

func group(c *domain.LogicalClause) domain.CriteriaNode {
	return domain.ClauseNode(c)
}

func measureWith(id string, ip *domain.LogicalClause) *domain.Measure {
	return &domain.Measure{
		ID:    id,
		Title: "Measure " + id,
		Populations: []domain.Population{
			{ID: id + "-ip", Type: domain.PopulationInitial, Criteria: ip},
		},
	}
}

// referencing builds a measure whose single leaf points at componentID.
func referencing(measureID, componentID string) *domain.Measure {
	e := element(measureID+"-e1", domain.ElementDiagnosis, diabetesVS(), duringMP())
	e.LibraryComponentID = componentID
	return measureWith(measureID, and(measureID+"-root", leaf(e)))
}
