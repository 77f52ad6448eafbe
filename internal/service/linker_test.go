package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

type stubResolver struct {
	sets  map[string]*domain.ValueSetRef
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, id string) (*domain.ValueSetRef, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if vs, ok := s.sets[id]; ok {
		return vs.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func diabetesMeasure(id string) *domain.Measure {
	return measureWith(id, and(id+"-root",
		leaf(element(id+"-dx", domain.ElementDiagnosis, diabetesVS(), duringMP())),
		leaf(element(id+"-a1c", domain.ElementObservation, hba1cVS(), duringMP())),
	))
}

func TestLinker_CreatesThenMatches(t *testing.T) {
	ctx := context.Background()
	linker := NewLinker(nil, "tester")
	lib := newTestLibrary()

	m1, lib, r1, err := linker.Link(ctx, diabetesMeasure("m1"), lib)
	require.NoError(t, err)
	assert.Len(t, r1.Created, 3, "two atomics and the AND composite")
	assert.Empty(t, r1.Matched)
	assert.Len(t, r1.LinkMap, 2)
	root := m1.Populations[0].Criteria
	assert.NotEmpty(t, root.LibraryComponentID)
	assert.Equal(t, root.LibraryComponentID, r1.ClauseLinks["m1-root"])
	for _, child := range root.Children {
		assert.Equal(t, r1.LinkMap[child.Element.ID], child.Element.LibraryComponentID)
	}

	_, lib, r2, err := linker.Link(ctx, diabetesMeasure("m2"), lib)
	require.NoError(t, err)
	assert.Empty(t, r2.Created)
	assert.Len(t, r2.Matched, 3)
	assert.Equal(t, 3, lib.Len())

	for _, c := range lib.Components() {
		assert.Equal(t, []string{"m1", "m2"}, c.Usage.MeasureIDs, c.ID)
	}
}

func TestLinker_ZeroCodesSentinel(t *testing.T) {
	ctx := context.Background()
	empty := domain.ValueSetRef{ID: "1.2.3", Name: "Unknown"}
	m := measureWith("m1", and("root", leaf(element("e1", domain.ElementDiagnosis, empty, nil))))

	out, lib, result, err := NewLinker(nil, "tester").Link(ctx, m, newTestLibrary())
	require.NoError(t, err)
	assert.Equal(t, 0, lib.Len(), "zero-code elements never become components")
	assert.Equal(t, domain.ZeroCodesSentinel, result.LinkMap["e1"])
	assert.Equal(t, domain.ZeroCodesSentinel, out.Populations[0].Criteria.Children[0].Element.LibraryComponentID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "e1", result.Warnings[0].ElementID)
	assert.Empty(t, out.ComponentRefs())
}

func TestLinker_ResolvesCodesFromCatalogThenResolver(t *testing.T) {
	ctx := context.Background()
	bare := domain.ValueSetRef{ID: diabetesVS().ID}
	m := measureWith("m1", and("root", leaf(element("e1", domain.ElementDiagnosis, bare, nil))))
	m.ValueSets = []domain.ValueSetRef{diabetesVS()}

	resolver := &stubResolver{}
	out, lib, _, err := NewLinker(resolver, "tester").Link(ctx, m, newTestLibrary())
	require.NoError(t, err)
	assert.Zero(t, resolver.calls, "catalog is consulted first")
	assert.Len(t, out.Populations[0].Criteria.Children[0].Element.ValueSet.Codes, 2)
	assert.Equal(t, 1, lib.Len())

	hba := hba1cVS()
	resolver.sets = map[string]*domain.ValueSetRef{hba.ID: &hba}
	m2 := measureWith("m2", and("root", leaf(element("e1", domain.ElementObservation, domain.ValueSetRef{ID: hba.ID}, nil))))
	_, lib, result, err := NewLinker(resolver, "tester").Link(ctx, m2, lib)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
	assert.Len(t, result.Created, 1)
	created, _ := lib.Get(result.Created[0])
	assert.Equal(t, "HbA1c Laboratory Test", created.Name)
}

func TestLinker_ResolverFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	m := measureWith("m1", and("root", leaf(element("e1", domain.ElementDiagnosis, domain.ValueSetRef{ID: "1.2.3"}, nil))))
	_, _, result, err := NewLinker(&stubResolver{err: errors.New("boom")}, "tester").Link(ctx, m, newTestLibrary())
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 2, "expansion failure and zero codes")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, _, err = NewLinker(&stubResolver{err: context.Canceled}, "tester").Link(cancelled, m, newTestLibrary())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinker_BackfillsZeroCodeMatch(t *testing.T) {
	ctx := context.Background()
	legacy := &domain.LibraryComponent{
		ID: "legacy", Type: domain.ComponentAtomic,
		ValueSets: []domain.ValueSetRef{{ID: diabetesVS().ID, Name: "Diabetes"}},
		Timing:    duringMP(),
		Version:   domain.VersionInfo{VersionID: "1.0.0", Status: domain.StatusDraft},
	}
	lib := LoadLibrary([]*domain.LibraryComponent{legacy}, testOptions()...)
	m := measureWith("m1", and("root", leaf(element("e1", domain.ElementDiagnosis, diabetesVS(), duringMP()))))

	_, lib, result, err := NewLinker(nil, "tester").Link(ctx, m, lib)
	require.NoError(t, err)
	assert.Equal(t, "legacy", result.LinkMap["e1"])
	assert.Equal(t, []string{"legacy"}, result.Backfilled)

	got, _ := lib.Get("legacy")
	cand := element("e1", domain.ElementDiagnosis, diabetesVS(), nil).Codes()
	assert.Subset(t, got.Codes(), cand, "matching never loses codes")
}

func TestLinker_FollowsMergeSuccessor(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary()
	lib, c1, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, Timing: duringMP()})
	require.NoError(t, err)
	lib, c2, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{hba1cVS()}, Timing: duringMP()})
	require.NoError(t, err)
	lib, merge := lib.Merge(MergeRequest{ComponentIDs: []string{c1.ID, c2.ID}, Name: "merged"})
	require.True(t, merge.Success)

	m := measureWith("m1", and("root", leaf(element("e1", domain.ElementDiagnosis, diabetesVS(), duringMP()))))
	_, _, result, err := NewLinker(nil, "tester").Link(ctx, m, lib)
	require.NoError(t, err)
	assert.Equal(t, merge.Component.ID, result.LinkMap["e1"])
}

func TestLinker_KeepsExistingLinkWithSameIdentity(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary()
	lib, first, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, Timing: duringMP()})
	require.NoError(t, err)
	name := "Fork"
	lib, fork, err := lib.Fork(first.ID, ComponentChanges{Name: &name}, "bob")
	require.NoError(t, err)

	e := element("e1", domain.ElementDiagnosis, diabetesVS(), duringMP())
	e.LibraryComponentID = fork.ID
	_, _, result, err := NewLinker(nil, "tester").Link(ctx, measureWith("m1", and("root", leaf(e))), lib)
	require.NoError(t, err)
	assert.Equal(t, fork.ID, result.LinkMap["e1"])
}
