package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

func TestCreateAtomic(t *testing.T) {
	lib := newTestLibrary()
	next, c, err := lib.CreateAtomic(AtomicSpec{
		ElementType: domain.ElementDiagnosis,
		ValueSets:   []domain.ValueSetRef{diabetesVS()},
		Timing:      duringMP(),
		CreatedBy:   "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "comp-1", c.ID)
	assert.Equal(t, "Diabetes", c.Name)
	assert.Equal(t, domain.StatusDraft, c.Status())
	assert.Equal(t, "1.0.0", c.Version.VersionID)
	assert.Len(t, c.Version.History, 1)
	assert.Empty(t, c.Usage.MeasureIDs)
	assert.Equal(t, 0, c.Usage.UsageCount)
	assert.Equal(t, "diagnosis", c.Category)

	assert.Equal(t, 0, lib.Len(), "receiver snapshot must not change")
	assert.Equal(t, 1, next.Len())
}

func TestCreateAtomic_RejectsZeroCodes(t *testing.T) {
	lib := newTestLibrary()
	next, c, err := lib.CreateAtomic(AtomicSpec{Name: "Empty", ValueSets: []domain.ValueSetRef{{ID: "1.2.3", Name: "Empty"}}})
	assert.ErrorIs(t, err, domain.ErrZeroCodes)
	assert.Nil(t, c)
	assert.Same(t, lib, next)
	assert.Equal(t, 0, next.Len())
}

func TestCreateComposite(t *testing.T) {
	lib := newTestLibrary()
	lib, a, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)

	_, _, err = lib.CreateComposite(CompositeSpec{Operator: domain.OperatorAnd, ChildIDs: []string{a.ID}})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, _, err = lib.CreateComposite(CompositeSpec{Operator: domain.OperatorAnd, ChildIDs: []string{a.ID, "missing"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = lib.CreateComposite(CompositeSpec{Operator: domain.OperatorNot, ChildIDs: []string{a.ID, a.ID}})
	assert.ErrorIs(t, err, domain.ErrInvalidOperator)

	lib, b, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{hba1cVS()}})
	require.NoError(t, err)
	_, c, err := lib.CreateComposite(CompositeSpec{Operator: domain.OperatorOr, ChildIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, domain.ComponentComposite, c.Type)
	assert.Equal(t, "Diabetes OR HbA1c Laboratory Test", c.Name)
	assert.Equal(t, []string{a.ID, b.ID}, c.ChildIDs())
	assert.Equal(t, "1.0.0", c.Children[0].VersionID)
}

func TestCreateVersion(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, Timing: duringMP()})
	require.NoError(t, err)
	lib, c, err = lib.Approve(c.ID, "reviewer")
	require.NoError(t, err)
	before, _ := lib.Key(c.ID)

	v2, updated, err := lib.CreateVersion(c.ID, ComponentChanges{Timing: withinYearBeforeStart(), ChangeDescription: "lookback"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", updated.Version.VersionID)
	assert.Equal(t, domain.StatusDraft, updated.Status())
	assert.Len(t, updated.Version.History, 2)
	assert.Empty(t, updated.Version.ApprovedBy)
	assert.Equal(t, domain.StatusDraft, updated.Version.History[1].Status)
	after, _ := v2.Key(c.ID)
	assert.NotEqual(t, before, after)

	// The earlier snapshot still sees the approved version.
	old, _ := lib.Get(c.ID)
	assert.Equal(t, domain.StatusApproved, old.Status())

	name := "Renamed"
	_, kept, err := v2.CreateVersion(c.ID, ComponentChanges{Name: &name, KeepStatus: true}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", kept.Version.VersionID)
	assert.Equal(t, domain.StatusDraft, kept.Status())
	assert.Equal(t, "Renamed", kept.Name)
}

func TestCreateVersion_RejectsArchived(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)
	lib, _, err = lib.ArchiveVersion(c.ID, "", "alice", "")
	require.NoError(t, err)

	_, _, err = lib.CreateVersion(c.ID, ComponentChanges{}, "bob")
	assert.ErrorIs(t, err, domain.ErrArchivedComponent)
}

func TestCreateVersion_RejectsZeroCodes(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)

	next, _, err := lib.CreateVersion(c.ID, ComponentChanges{
		ValueSets: []domain.ValueSetRef{{ID: "1.2.3", Name: "Empty"}},
	}, "bob")
	assert.ErrorIs(t, err, domain.ErrZeroCodes)
	assert.Same(t, lib, next)

	got, _ := lib.Get(c.ID)
	assert.Equal(t, "1.0.0", got.Version.VersionID)
	assert.True(t, got.HasCodes())
}

func TestApprove(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)

	lib, approved, err := lib.Approve(c.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status())
	assert.Equal(t, "reviewer", approved.Version.ApprovedBy)
	require.NotNil(t, approved.Version.ApprovedAt)

	changes := approved.Version.StatusChanges
	require.Len(t, changes, 2)
	assert.Equal(t, domain.StatusDraft, changes[1].From)
	assert.Equal(t, domain.StatusApproved, changes[1].To)

	_, _, err = lib.Approve("missing", "reviewer")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	lib, _, err = lib.ArchiveVersion(c.ID, "", "alice", "retired")
	require.NoError(t, err)
	_, _, err = lib.Approve(c.ID, "reviewer")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, domain.ErrArchivedComponent)
}

func TestApprove_RejectsZeroCodes(t *testing.T) {
	zero := &domain.LibraryComponent{
		ID:        "legacy",
		Type:      domain.ComponentAtomic,
		ValueSets: []domain.ValueSetRef{{ID: "1.2.3"}},
		Version:   domain.VersionInfo{VersionID: "1.0.0", Status: domain.StatusDraft},
	}
	lib := LoadLibrary([]*domain.LibraryComponent{zero}, testOptions()...)
	_, _, err := lib.Approve("legacy", "reviewer")
	assert.ErrorIs(t, err, domain.ErrZeroCodes)
}

func TestSubmitForReview(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)

	lib, pending, err := lib.SubmitForReview(c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReview, pending.Status())

	_, _, err = lib.SubmitForReview(c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUsageReferences(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)

	lib, err = lib.AddUsageReference(c.ID, "m2")
	require.NoError(t, err)
	lib, err = lib.AddUsageReference(c.ID, "m1")
	require.NoError(t, err)
	again, err := lib.AddUsageReference(c.ID, "m1")
	require.NoError(t, err)
	assert.Same(t, lib, again, "adding an existing reference is a no-op")

	got, _ := lib.Get(c.ID)
	assert.Equal(t, []string{"m1", "m2"}, got.Usage.MeasureIDs)
	assert.Equal(t, 2, got.Usage.UsageCount)
	assert.NotNil(t, got.Usage.LastUsedAt)
	assert.Equal(t, domain.StatusDraft, got.Status())

	lib, err = lib.RemoveUsageReference(c.ID, "m1")
	require.NoError(t, err)
	lib, err = lib.RemoveUsageReference(c.ID, "m2")
	require.NoError(t, err)
	lib, err = lib.RemoveUsageReference(c.ID, "m2")
	require.NoError(t, err)

	got, _ = lib.Get(c.ID)
	assert.Empty(t, got.Usage.MeasureIDs)
	assert.Equal(t, 0, got.Usage.UsageCount)
	assert.Equal(t, domain.StatusDraft, got.Status(), "usage changes never move status")

	_, err = lib.AddUsageReference("missing", "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadLibrary_NormalizesUsage(t *testing.T) {
	loaded := LoadLibrary([]*domain.LibraryComponent{{
		ID:      "c1",
		Type:    domain.ComponentAtomic,
		Version: domain.VersionInfo{VersionID: "1.0.0", Status: domain.StatusDraft},
		Usage:   domain.UsageInfo{MeasureIDs: []string{"m2", "m1", "m2"}, UsageCount: 7},
	}}, testOptions()...)

	got, _ := loaded.Get("c1")
	assert.Equal(t, []string{"m1", "m2"}, got.Usage.MeasureIDs)
	assert.Equal(t, 2, got.Usage.UsageCount)
	assert.True(t, got.Usage.Has("m1"))

	lib, err := loaded.AddUsageReference("c1", "m1")
	require.NoError(t, err)
	assert.Same(t, loaded, lib, "m1 is already referenced")

	lib, err = lib.RemoveUsageReference("c1", "m2")
	require.NoError(t, err)
	got, _ = lib.Get("c1")
	assert.Equal(t, []string{"m1"}, got.Usage.MeasureIDs)
	assert.Equal(t, 1, got.Usage.UsageCount)
}

func TestBackfillCodes(t *testing.T) {
	zero := &domain.LibraryComponent{
		ID:        "legacy",
		Type:      domain.ComponentAtomic,
		ValueSets: []domain.ValueSetRef{{ID: "1.2.3", Name: "Legacy"}},
		Version:   domain.VersionInfo{VersionID: "1.0.0", Status: domain.StatusDraft},
	}
	lib := LoadLibrary([]*domain.LibraryComponent{zero}, testOptions()...)

	codes := []domain.Code{{Code: "A", System: "SCT"}, {Code: "B", System: "SCT"}}
	next, added, err := lib.BackfillCodes("legacy", "1.2.3", codes)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	got, _ := next.Get("legacy")
	assert.ElementsMatch(t, codes, got.Codes())
	assert.Equal(t, "1.0.0", got.Version.VersionID, "backfill is not a new version")
	assert.Equal(t, 1, got.Complexity.Score)

	same, added, err := next.BackfillCodes("legacy", "1.2.3", codes[:1])
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Same(t, next, same)
}

func TestMerge(t *testing.T) {
	lib := newTestLibrary()
	lib, c1, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, Timing: duringMP()})
	require.NoError(t, err)
	other := diabetesVS()
	other.Codes = []domain.Code{{Code: "E11.65", System: "ICD10CM"}}
	lib, c2, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{other, hba1cVS()}, Timing: duringMP()})
	require.NoError(t, err)
	lib, _ = lib.AddUsageReference(c1.ID, "m1")
	lib, _ = lib.AddUsageReference(c2.ID, "m2")

	merged, result := lib.Merge(MergeRequest{ComponentIDs: []string{c1.ID, c2.ID}, Name: "Diabetes (merged)", MergedBy: "alice"})
	require.True(t, result.Success, result.Error)
	m := result.Component
	assert.Equal(t, "Diabetes (merged)", m.Name)
	assert.Equal(t, domain.StatusDraft, m.Status())
	assert.Equal(t, []string{"m1", "m2"}, m.Usage.MeasureIDs)
	assert.Equal(t, 2, m.Usage.UsageCount)
	require.Len(t, m.ValueSets, 2, "value sets are unioned by identifier")
	assert.Len(t, m.ValueSets[0].Codes, 3, "codes of duplicate value sets are unioned")
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, result.ArchivedIDs)

	for _, id := range []string{c1.ID, c2.ID} {
		src, _ := merged.Get(id)
		assert.Equal(t, domain.StatusArchived, src.Status())
		assert.Equal(t, m.ID, src.Version.SupersededBy)
	}
}

func TestMerge_FailsWithoutTwoValidSources(t *testing.T) {
	lib := newTestLibrary()
	lib, c1, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)
	lib, c2, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{hba1cVS()}})
	require.NoError(t, err)
	lib, comp, err := lib.CreateComposite(CompositeSpec{Operator: domain.OperatorAnd, ChildIDs: []string{c1.ID, c2.ID}})
	require.NoError(t, err)
	lib, _, err = lib.ArchiveVersion(c2.ID, "", "alice", "")
	require.NoError(t, err)

	after, result := lib.Merge(MergeRequest{ComponentIDs: []string{c1.ID, c2.ID, comp.ID, "ghost"}, Name: "x"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, domain.ErrInsufficientMergeSources.Error())
	assert.Len(t, result.Skipped, 3)
	assert.Same(t, lib, after, "failed merge leaves the library unchanged")
	got, _ := after.Get(c1.ID)
	assert.Equal(t, domain.StatusDraft, got.Status())
}

func TestFork(t *testing.T) {
	lib := newTestLibrary()
	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, Timing: duringMP()})
	require.NoError(t, err)
	lib, _ = lib.AddUsageReference(c.ID, "m1")

	next, forked, err := lib.Fork(c.ID, ComponentChanges{Timing: withinYearBeforeStart()}, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, forked.ID)
	assert.Empty(t, forked.Usage.MeasureIDs)
	assert.Equal(t, "1.0.0", forked.Version.VersionID)

	orig, _ := next.Get(c.ID)
	assert.Equal(t, duringMP(), orig.Timing)
	assert.Equal(t, []string{"m1"}, orig.Usage.MeasureIDs)
}

func TestSearch(t *testing.T) {
	lib := newTestLibrary()
	lib, a, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}, ElementType: domain.ElementDiagnosis, Tags: []string{"chronic"}})
	require.NoError(t, err)
	lib, _, err = lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{hba1cVS()}, ElementType: domain.ElementObservation, Negation: true, Timing: duringMP()})
	require.NoError(t, err)
	lib, _, err = lib.Approve(a.ID, "reviewer")
	require.NoError(t, err)

	assert.Len(t, lib.Search(SearchFilter{}), 2)
	assert.Len(t, lib.Search(SearchFilter{Status: domain.StatusApproved}), 1)
	assert.Len(t, lib.Search(SearchFilter{Category: "OBSERVATION"}), 1)
	assert.Len(t, lib.Search(SearchFilter{Complexity: domain.ComplexityMedium}), 1)
	assert.Len(t, lib.Search(SearchFilter{Text: "  HBA1C "}), 1)
	assert.Len(t, lib.Search(SearchFilter{Text: "chronic"}), 1)
	assert.Empty(t, lib.Search(SearchFilter{Type: domain.ComponentComposite}))
}

func TestLoadLibrary_OrdersBySequence(t *testing.T) {
	comps := []*domain.LibraryComponent{
		{ID: "b", Type: domain.ComponentAtomic, Sequence: 2, Usage: domain.UsageInfo{MeasureIDs: []string{"m1"}}},
		{ID: "a", Type: domain.ComponentAtomic, Sequence: 1},
		{ID: "a", Type: domain.ComponentAtomic, Sequence: 3},
	}
	lib := LoadLibrary(comps, testOptions()...)
	all := lib.Components()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, 1, all[1].Usage.UsageCount)

	lib, c, err := lib.CreateAtomic(AtomicSpec{ValueSets: []domain.ValueSetRef{diabetesVS()}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Sequence)
	assert.Equal(t, 3, lib.Len())
}
