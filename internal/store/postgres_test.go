package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store, mock
}

func TestNewPostgresStore_RequiresConnection(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_RebindsPlaceholders(t *testing.T) {
	store, _ := newMockStore(t)
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", store.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &sqlStore{}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPostgresStore_SaveComponents(t *testing.T) {
	store, mock := newMockStore(t)
	c := testComponent("comp-1", 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).
		WithArgs("comp-1", c.Name, "condition", "atomic", "draft", "1.0.0", "low", 0, int64(1), sqlmock.AnyArg(), c.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveComponents(context.Background(), []*domain.LibraryComponent{c}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveComponentsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := store.SaveComponents(context.Background(), []*domain.LibraryComponent{
		testComponent("comp-1", 1), testComponent("comp-2", 2),
	})
	assert.ErrorContains(t, err, "comp-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMeasuresRewritesReferences(t *testing.T) {
	store, mock := newMockStore(t)
	m := testMeasure("m1", "comp-2", "comp-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measures")).
		WithArgs("m1", "Measure m1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measure_component_refs WHERE measure_id = $1")).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measure_component_refs (measure_id, component_id) VALUES ($1, $2)")).
		WithArgs("m1", "comp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measure_component_refs")).
		WithArgs("m1", "comp-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveMeasures(context.Background(), []*domain.Measure{m}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetComponent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM components WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err := store.GetComponent(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	doc, err := toComponentRow(testComponent("comp-1", 1))
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM components WHERE id = $1")).
		WithArgs("comp-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc.Document))
	got, err := store.GetComponent(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, "Diabetes comp-1", got.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MeasuresReferencing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT measure_id FROM measure_component_refs WHERE component_id = $1")).
		WithArgs("comp-1").
		WillReturnRows(sqlmock.NewRows([]string{"measure_id"}).AddRow("m1").AddRow("m2"))

	ids, err := store.MeasuresReferencing(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteMeasures(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measure_component_refs")).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measures WHERE id = $1")).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteMeasures(context.Background(), []string{"m1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveWorkspaceIsOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).WithArgs(
		"comp-3", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measures")).WithArgs("m1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measure_component_refs")).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measure_component_refs")).WithArgs("m1", "comp-3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measure_component_refs")).WithArgs("m2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM measures WHERE id = $1")).WithArgs("m2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveWorkspace(context.Background(),
		[]*domain.LibraryComponent{testComponent("comp-3", 3)},
		[]*domain.Measure{testMeasure("m1", "comp-3")},
		[]string{"m2"},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveWorkspaceRollsBackComponents(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO components")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measures")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveWorkspace(context.Background(),
		[]*domain.LibraryComponent{testComponent("comp-1", 1), testComponent("comp-3", 3)},
		[]*domain.Measure{testMeasure("m1", "comp-3")},
		nil,
	)
	assert.ErrorContains(t, err, "failed to save measure m1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveWorkspaceEmptyDeltaSkipsTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.SaveWorkspace(context.Background(), nil, nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// getTestDB returns a live database with the schema applied, or skips.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS components (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			component_type TEXT NOT NULL,
			status TEXT NOT NULL,
			version_id TEXT NOT NULL,
			complexity TEXT NOT NULL DEFAULT '',
			usage_count INTEGER NOT NULL DEFAULT 0,
			sequence BIGINT NOT NULL DEFAULT 0,
			document JSONB NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS measures (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			document JSONB NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS measure_component_refs (
			measure_id TEXT NOT NULL,
			component_id TEXT NOT NULL,
			PRIMARY KEY (measure_id, component_id)
		)`,
		"DELETE FROM measure_component_refs",
		"DELETE FROM measures",
		"DELETE FROM components",
	} {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SaveComponents(ctx, []*domain.LibraryComponent{testComponent("comp-1", 1)}))
	require.NoError(t, store.SaveMeasures(ctx, []*domain.Measure{testMeasure("m1", "comp-1")}))

	components, err := store.LoadComponents(ctx)
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.Equal(t, "comp-1", components[0].ID)

	refs, err := store.MeasuresReferencing(ctx, "comp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, refs)
}
