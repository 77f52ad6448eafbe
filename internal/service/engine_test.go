package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// recordingStore keeps whatever the engine persisted. A workspace save
// applies all of its writes or none of them.
type recordingStore struct {
	components   map[string]*domain.LibraryComponent
	measures     map[string]*domain.Measure
	saves        int
	fail         error
	failMeasures error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		components: map[string]*domain.LibraryComponent{},
		measures:   map[string]*domain.Measure{},
	}
}

func (s *recordingStore) SaveComponents(ctx context.Context, components []*domain.LibraryComponent) error {
	return s.SaveWorkspace(ctx, components, nil, nil)
}

func (s *recordingStore) SaveMeasures(ctx context.Context, measures []*domain.Measure) error {
	return s.SaveWorkspace(ctx, nil, measures, nil)
}

func (s *recordingStore) DeleteMeasures(ctx context.Context, ids []string) error {
	return s.SaveWorkspace(ctx, nil, nil, ids)
}

func (s *recordingStore) SaveWorkspace(_ context.Context, components []*domain.LibraryComponent, measures []*domain.Measure, deletedIDs []string) error {
	if s.fail != nil {
		return s.fail
	}
	if s.failMeasures != nil && len(measures) > 0 {
		return s.failMeasures
	}
	s.saves++
	for _, c := range components {
		s.components[c.ID] = c.Clone()
	}
	for _, m := range measures {
		s.measures[m.ID] = m.Clone()
	}
	for _, id := range deletedIDs {
		delete(s.measures, id)
	}
	return nil
}

func (s *recordingStore) LoadComponents(context.Context) ([]*domain.LibraryComponent, error) {
	var out []*domain.LibraryComponent
	for _, c := range s.components {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *recordingStore) LoadMeasures(context.Context) ([]*domain.Measure, error) {
	var out []*domain.Measure
	for _, m := range s.measures {
		out = append(out, m.Clone())
	}
	return out, nil
}

func newTestEngine(store domain.WorkspaceStore) *Engine {
	logger, _ := test.NewNullLogger()
	opts := []EngineOption{WithEngineLogger(logger), WithLibraryOptions(testOptions()...)}
	if store != nil {
		opts = append(opts, WithWorkspaceStore(store))
	}
	return NewEngine(opts...)
}

func TestEngine_SaveMeasuresLinksAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	engine := newTestEngine(store)

	result, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1"), diabetesMeasure("m2")}, true)
	require.NoError(t, err)
	require.Len(t, result.Links, 2)
	assert.Empty(t, result.Rebuild.Archived)

	assert.Equal(t, 3, engine.Library().Len())
	assert.Len(t, store.components, 3)
	assert.Len(t, store.measures, 2)
	for _, c := range engine.Library().Components() {
		assert.Equal(t, []string{"m1", "m2"}, c.Usage.MeasureIDs)
	}

	reloaded := newTestEngine(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 3, reloaded.Library().Len())
	assert.Len(t, reloaded.Measures(), 2)
}

func TestEngine_SaveMeasuresIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)

	bad := &domain.Measure{ID: ""}
	_, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1"), bad}, true)
	assert.ErrorIs(t, err, domain.ErrBatchRejected)
	assert.Equal(t, 0, engine.Library().Len())
	assert.Empty(t, engine.Measures())
}

func TestEngine_PersistFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.fail = errors.New("disk full")
	engine := newTestEngine(store)

	_, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	assert.Error(t, err)
	assert.Equal(t, 0, engine.Library().Len())
}

func TestEngine_DeleteMeasures(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	engine := newTestEngine(store)
	_, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	require.NoError(t, err)

	_, err = engine.DeleteMeasures(ctx, []string{"m1", "ghost"})
	assert.ErrorIs(t, err, domain.ErrBatchRejected)
	assert.Len(t, engine.Measures(), 1, "rejected batch deletes nothing")

	report, err := engine.DeleteMeasures(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Len(t, report.Archived, 3)
	assert.Empty(t, store.measures)
	for _, c := range engine.Library().Components() {
		assert.True(t, c.IsArchived())
	}
}

func TestEngine_MergeWithRepoint(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)

	other := diabetesVS()
	other.ID = "9.9.9"
	other.Name = "Diabetes Mellitus"
	m1 := measureWith("m1", and("r1", leaf(element("e1", domain.ElementDiagnosis, diabetesVS(), duringMP()))))
	m2 := measureWith("m2", and("r2", leaf(element("e2", domain.ElementDiagnosis, other, duringMP()))))
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{m1, m2}, true)
	require.NoError(t, err)
	c1 := save.Links[0].LinkMap["e1"]
	c2 := save.Links[1].LinkMap["e2"]
	require.NotEqual(t, c1, c2)

	result, err := engine.Merge(ctx, MergeRequest{ComponentIDs: []string{c1, c2}, Name: "Diabetes"}, true)
	require.NoError(t, err)
	require.True(t, result.Success)
	merged := result.Component
	assert.Equal(t, domain.StatusDraft, merged.Status())
	assert.Equal(t, []string{"m1", "m2"}, merged.Usage.MeasureIDs)

	for _, m := range engine.Measures() {
		assert.Contains(t, m.ComponentRefs(), merged.ID)
	}

	failed, err := engine.Merge(ctx, MergeRequest{ComponentIDs: []string{c1, c2}}, true)
	require.NoError(t, err)
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.Error)
}

func TestEngine_MergeWriteFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	engine := newTestEngine(store)

	other := diabetesVS()
	other.ID = "9.9.9"
	other.Name = "Diabetes Mellitus"
	m1 := measureWith("m1", and("r1", leaf(element("e1", domain.ElementDiagnosis, diabetesVS(), duringMP()))))
	m2 := measureWith("m2", and("r2", leaf(element("e2", domain.ElementDiagnosis, other, duringMP()))))
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{m1, m2}, true)
	require.NoError(t, err)
	c1 := save.Links[0].LinkMap["e1"]
	c2 := save.Links[1].LinkMap["e2"]
	saves, stored := store.saves, len(store.components)

	store.failMeasures = errors.New("disk full")
	_, err = engine.Merge(ctx, MergeRequest{ComponentIDs: []string{c1, c2}, Name: "Diabetes"}, true)
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, saves, store.saves)
	assert.Len(t, store.components, stored, "merged component must not be stored")
	for _, id := range []string{c1, c2} {
		assert.Equal(t, domain.StatusDraft, store.components[id].Status())
		assert.Empty(t, store.components[id].Version.SupersededBy)
		got, _ := engine.Library().Get(id)
		assert.Equal(t, domain.StatusDraft, got.Status())
	}

	store.failMeasures = nil
	reloaded := newTestEngine(store)
	require.NoError(t, reloaded.Load(ctx))
	report, err := reloaded.RebuildUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Archived)
	for _, id := range []string{c1, c2} {
		got, _ := reloaded.Library().Get(id)
		assert.False(t, got.IsArchived())
		assert.Equal(t, 1, got.Usage.UsageCount)
	}
}

func TestEngine_EditPropagate(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1"), diabetesMeasure("m2")}, true)
	require.NoError(t, err)
	dx := save.Links[0].LinkMap["m1-dx"]

	result, err := engine.Edit(ctx, EditRequest{
		ComponentID: dx,
		Mode:        EditPropagate,
		Changes:     ComponentChanges{Timing: withinYearBeforeStart()},
		EditedBy:    "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, dx, result.Component.ID)
	assert.Equal(t, "1.1.0", result.Component.Version.VersionID)
	assert.ElementsMatch(t, []string{"m1", "m2"}, result.Measures)

	m, err := engine.Measure("m1")
	require.NoError(t, err)
	for _, child := range m.Populations[0].Criteria.Children {
		if child.Element.ID == "m1-dx" {
			assert.Equal(t, withinYearBeforeStart(), child.Element.Timing)
		}
	}
}

func TestEngine_EditPropagateRenameLeavesMeasures(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	require.NoError(t, err)
	dx := save.Links[0].LinkMap["m1-dx"]
	before, err := engine.Measure("m1")
	require.NoError(t, err)

	name := "Diabetes (any type)"
	result, err := engine.Edit(ctx, EditRequest{
		ComponentID: dx,
		Mode:        EditPropagate,
		Changes:     ComponentChanges{Name: &name},
	})
	require.NoError(t, err)
	assert.Equal(t, name, result.Component.Name)
	assert.Empty(t, result.Measures)

	after, err := engine.Measure("m1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_EditFork(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1"), diabetesMeasure("m2")}, true)
	require.NoError(t, err)
	dx := save.Links[0].LinkMap["m1-dx"]

	result, err := engine.Edit(ctx, EditRequest{
		ComponentID: dx,
		Mode:        EditFork,
		Changes:     ComponentChanges{Timing: withinYearBeforeStart()},
		MeasureIDs:  []string{"m2"},
		EditedBy:    "bob",
	})
	require.NoError(t, err)
	assert.NotEqual(t, dx, result.Component.ID)
	assert.Equal(t, []string{"m2"}, result.Component.Usage.MeasureIDs)

	orig, err := engine.Component(dx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, orig.Usage.MeasureIDs)
	assert.Equal(t, "1.0.0", orig.Version.VersionID)

	_, err = engine.Edit(ctx, EditRequest{ComponentID: dx, Mode: "overwrite"})
	assert.ErrorIs(t, err, domain.ErrUnknownEditMode)
}

func TestEngine_BatchApprove(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	require.NoError(t, err)
	dx := save.Links[0].LinkMap["m1-dx"]

	_, err = engine.BatchApprove(ctx, []string{dx, "ghost"}, "reviewer")
	assert.ErrorIs(t, err, domain.ErrBatchRejected)
	c, _ := engine.Component(dx)
	assert.Equal(t, domain.StatusDraft, c.Status(), "no component in a rejected batch is approved")

	approved, err := engine.BatchApprove(ctx, []string{dx}, "reviewer")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, domain.StatusApproved, approved[0].Status())
}

func TestEngine_ManualArchiveRevertedByRebuild(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	engine := NewEngine(WithEngineLogger(logger), WithLibraryOptions(testOptions()...))
	save, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	require.NoError(t, err)
	dx := save.Links[0].LinkMap["m1-dx"]

	archived, err := engine.Archive(ctx, dx, "alice", "duplicate")
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())

	report, err := engine.RebuildUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dx}, report.Restored)
	c, _ := engine.Component(dx)
	assert.Equal(t, domain.StatusDraft, c.Status())
	assert.NotEmpty(t, hook.AllEntries())
}

func TestEngine_MatchElementIsReadOnly(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)
	_, err := engine.SaveMeasures(ctx, []*domain.Measure{diabetesMeasure("m1")}, true)
	require.NoError(t, err)
	before := engine.Snapshot()

	got := engine.MatchElement(element("x", domain.ElementDiagnosis, diabetesVS(), duringMP()))
	assert.True(t, got.Found())
	assert.Same(t, before, engine.Snapshot())
}

func TestParseEditMode(t *testing.T) {
	mode, err := ParseEditMode("fork")
	require.NoError(t, err)
	assert.Equal(t, EditFork, mode)
	_, err = ParseEditMode("replace")
	assert.ErrorIs(t, err, domain.ErrUnknownEditMode)
}
