package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per driver.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const upsertComponentSQL = `
	INSERT INTO components (
		id, name, category, component_type, status, version_id,
		complexity, usage_count, sequence, document, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		category = excluded.category,
		component_type = excluded.component_type,
		status = excluded.status,
		version_id = excluded.version_id,
		complexity = excluded.complexity,
		usage_count = excluded.usage_count,
		sequence = excluded.sequence,
		document = excluded.document,
		updated_at = excluded.updated_at
`

const upsertMeasureSQL = `
	INSERT INTO measures (id, title, document, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		document = excluded.document,
		updated_at = excluded.updated_at
`

// withTx runs fn in a transaction, rolling back on any error.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SaveComponents inserts or replaces components in one transaction.
func (s *sqlStore) SaveComponents(ctx context.Context, components []*domain.LibraryComponent) error {
	if len(components) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveComponents(ctx, tx, components)
	})
}

// SaveMeasures inserts or replaces measures and rewrites their component
// reference rows in one transaction.
func (s *sqlStore) SaveMeasures(ctx context.Context, measures []*domain.Measure) error {
	if len(measures) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveMeasures(ctx, tx, measures)
	})
}

// DeleteMeasures removes measures and their reference rows.
func (s *sqlStore) DeleteMeasures(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteMeasures(ctx, tx, ids)
	})
}

// SaveWorkspace writes one workspace delta in a single transaction: either
// every component, measure and deletion lands or none does.
func (s *sqlStore) SaveWorkspace(ctx context.Context, components []*domain.LibraryComponent, measures []*domain.Measure, deletedIDs []string) error {
	if len(components) == 0 && len(measures) == 0 && len(deletedIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.saveComponents(ctx, tx, components); err != nil {
			return err
		}
		if err := s.saveMeasures(ctx, tx, measures); err != nil {
			return err
		}
		return s.deleteMeasures(ctx, tx, deletedIDs)
	})
}

func (s *sqlStore) saveComponents(ctx context.Context, tx *sql.Tx, components []*domain.LibraryComponent) error {
	query := s.rebind(upsertComponentSQL)
	for _, c := range components {
		row, err := toComponentRow(c)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query,
			row.ID, row.Name, row.Category, row.Type, row.Status, row.VersionID,
			row.Complexity, row.UsageCount, row.Sequence, string(row.Document), row.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save component %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *sqlStore) saveMeasures(ctx context.Context, tx *sql.Tx, measures []*domain.Measure) error {
	upsert := s.rebind(upsertMeasureSQL)
	clearRefs := s.rebind("DELETE FROM measure_component_refs WHERE measure_id = ?")
	addRef := s.rebind("INSERT INTO measure_component_refs (measure_id, component_id) VALUES (?, ?)")
	for _, m := range measures {
		doc, refs, err := encodeMeasure(m)
		if err != nil {
			return err
		}
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, upsert, m.ID, m.Title, string(doc), updated); err != nil {
			return fmt.Errorf("failed to save measure %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, clearRefs, m.ID); err != nil {
			return fmt.Errorf("failed to clear references of %s: %w", m.ID, err)
		}
		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx, addRef, m.ID, ref); err != nil {
				return fmt.Errorf("failed to save reference %s -> %s: %w", m.ID, ref, err)
			}
		}
	}
	return nil
}

func (s *sqlStore) deleteMeasures(ctx context.Context, tx *sql.Tx, ids []string) error {
	clearRefs := s.rebind("DELETE FROM measure_component_refs WHERE measure_id = ?")
	del := s.rebind("DELETE FROM measures WHERE id = ?")
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, clearRefs, id); err != nil {
			return fmt.Errorf("failed to clear references of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return fmt.Errorf("failed to delete measure %s: %w", id, err)
		}
	}
	return nil
}

// LoadComponents returns every component in creation order.
func (s *sqlStore) LoadComponents(ctx context.Context) ([]*domain.LibraryComponent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT document FROM components ORDER BY sequence, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query components: %w", err)
	}
	defer rows.Close()

	var out []*domain.LibraryComponent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		c, err := decodeComponent(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadMeasures returns every measure ordered by id.
func (s *sqlStore) LoadMeasures(ctx context.Context) ([]*domain.Measure, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT document FROM measures ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query measures: %w", err)
	}
	defer rows.Close()

	var out []*domain.Measure
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan measure: %w", err)
		}
		m, err := decodeMeasure(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetComponent returns one component.
func (s *sqlStore) GetComponent(ctx context.Context, id string) (*domain.LibraryComponent, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT document FROM components WHERE id = ?"), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	return decodeComponent(doc)
}

// GetMeasure returns one measure.
func (s *sqlStore) GetMeasure(ctx context.Context, id string) (*domain.Measure, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT document FROM measures WHERE id = ?"), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("measure %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get measure: %w", err)
	}
	return decodeMeasure(doc)
}

// MeasuresReferencing returns the measures whose saved revision references
// componentID.
func (s *sqlStore) MeasuresReferencing(ctx context.Context, componentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT measure_id FROM measure_component_refs WHERE component_id = ? ORDER BY measure_id"),
		componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored components and measures.
func (s *sqlStore) Count(ctx context.Context) (int64, int64, error) {
	var components, measures int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM components").Scan(&components); err != nil {
		return 0, 0, fmt.Errorf("failed to count components: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM measures").Scan(&measures); err != nil {
		return 0, 0, fmt.Errorf("failed to count measures: %w", err)
	}
	return components, measures, nil
}

// ExportJSON writes every component and measure to writer.
func (s *sqlStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports entities not already stored.
func (s *sqlStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the database.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
