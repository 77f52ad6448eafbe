package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file. It backs lite mode.
type SQLiteStore struct {
	*sqlStore
	dbPath string
}

// NewSQLiteStore opens the workspace database, creating the file and schema
// if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers proceed during the engine's write transactions.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		sqlStore: &sqlStore{db: db},
		dbPath:   dbPath,
	}, nil
}

var _ Store = (*SQLiteStore)(nil)

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT DEFAULT '',
		component_type TEXT NOT NULL,
		status TEXT NOT NULL,
		version_id TEXT NOT NULL,
		complexity TEXT DEFAULT '',
		usage_count INTEGER NOT NULL DEFAULT 0,
		sequence INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS measures (
		id TEXT PRIMARY KEY,
		title TEXT DEFAULT '',
		document TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS measure_component_refs (
		measure_id TEXT NOT NULL,
		component_id TEXT NOT NULL,
		PRIMARY KEY (measure_id, component_id)
	);

	CREATE INDEX IF NOT EXISTS idx_components_status ON components(status);
	CREATE INDEX IF NOT EXISTS idx_components_category ON components(category);
	CREATE INDEX IF NOT EXISTS idx_refs_component ON measure_component_refs(component_id);
	`

	_, err := db.Exec(schema)
	return err
}
