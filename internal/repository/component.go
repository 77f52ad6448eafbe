package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// ComponentQuery filters persisted components. Empty fields match anything.
type ComponentQuery struct {
	Category   string
	Status     domain.ApprovalStatus
	Complexity domain.ComplexityLevel
	Type       domain.ComponentType
	Text       string
	Limit      int
	Offset     int
}

// ComponentSummary is the indexed projection of a stored component.
type ComponentSummary struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Category   string                 `json:"category"`
	Type       domain.ComponentType   `json:"type"`
	Status     domain.ApprovalStatus  `json:"status"`
	VersionID  string                 `json:"versionId"`
	Complexity domain.ComplexityLevel `json:"complexity"`
	UsageCount int                    `json:"usageCount"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// ComponentRepository is the read side over the full-mode workspace tables.
// Writes go through the store so the engine stays the only writer.
type ComponentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewComponentRepository creates a new component repository
func NewComponentRepository(db *pgxpool.Pool, logger *logrus.Logger) *ComponentRepository {
	return &ComponentRepository{
		db:  db,
		log: logger,
	}
}

// Summarize projects a component the way the components table indexes it.
func Summarize(c *domain.LibraryComponent) ComponentSummary {
	return ComponentSummary{
		ID:         c.ID,
		Name:       c.Name,
		Category:   c.Category,
		Type:       c.Type,
		Status:     c.Version.Status,
		VersionID:  c.Version.VersionID,
		Complexity: c.Complexity.Level,
		UsageCount: c.Usage.UsageCount,
		UpdatedAt:  c.UpdatedAt,
	}
}

// buildSearch renders the WHERE clause and arguments for q.
func buildSearch(q ComponentQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Category != "" {
		add("LOWER(category) = LOWER($%d)", q.Category)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.Complexity != "" {
		add("complexity = $%d", string(q.Complexity))
	}
	if q.Type != "" {
		add("component_type = $%d", string(q.Type))
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		add("(LOWER(name) LIKE $%[1]d OR LOWER(document->>'description') LIKE $%[1]d)", "%"+escapeLike(strings.ToLower(text))+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// Search returns matching components in creation order.
func (r *ComponentRepository) Search(ctx context.Context, q ComponentQuery) ([]ComponentSummary, error) {
	where, args := buildSearch(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT id, name, category, component_type, status, version_id,
			   complexity, usage_count, updated_at
		FROM components%s
		ORDER BY sequence, id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"query": q,
			"error": err,
		}).Error("Failed to search components")
		return nil, fmt.Errorf("searching components: %w", err)
	}
	defer rows.Close()

	var out []ComponentSummary
	for rows.Next() {
		var s ComponentSummary
		var typ, status, complexity string
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &typ, &status, &s.VersionID,
			&complexity, &s.UsageCount, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning component: %w", err)
		}
		s.Type = domain.ComponentType(typ)
		s.Status = domain.ApprovalStatus(status)
		s.Complexity = domain.ComplexityLevel(complexity)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating components: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"results": len(out),
		"status":  q.Status,
		"text":    q.Text,
	}).Debug("Component search completed")
	return out, nil
}

// MeasuresReferencing returns the ids of stored measures referencing the
// component.
func (r *ComponentRepository) MeasuresReferencing(ctx context.Context, componentID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		"SELECT measure_id FROM measure_component_refs WHERE component_id = $1 ORDER BY measure_id",
		componentID)
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting references: %w", err)
	}
	return ids, nil
}

// StatusCounts returns the number of components in each status.
func (r *ComponentRepository) StatusCounts(ctx context.Context) (map[domain.ApprovalStatus]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM components GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting components: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ApprovalStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[domain.ApprovalStatus(status)] = n
	}
	return counts, rows.Err()
}
