// Package store persists the workspace: library components and measures,
// each saved whole as a JSON document under its stable string id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// ExportVersion is the current export document version.
const ExportVersion = "1.0"

// Store defines the persistence operations for a workspace.
type Store interface {
	domain.WorkspaceStore

	// GetComponent returns one component, or domain.ErrNotFound.
	GetComponent(ctx context.Context, id string) (*domain.LibraryComponent, error)

	// GetMeasure returns one measure, or domain.ErrNotFound.
	GetMeasure(ctx context.Context, id string) (*domain.Measure, error)

	// MeasuresReferencing returns the ids of measures whose last saved
	// revision references the component.
	MeasuresReferencing(ctx context.Context, componentID string) ([]string, error)

	// Count returns the number of stored components and measures.
	Count(ctx context.Context) (components int64, measures int64, err error)

	// ExportJSON writes every component and measure to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export. Entities whose id is already stored are
	// skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close releases resources.
	Close() error
}

// WorkspaceExport is the JSON export format.
type WorkspaceExport struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Components []*domain.LibraryComponent `json:"components"`
	Measures   []*domain.Measure          `json:"measures"`
}

// componentRow is the indexed projection stored beside each component
// document.
type componentRow struct {
	ID         string
	Name       string
	Category   string
	Type       string
	Status     string
	VersionID  string
	Complexity string
	UsageCount int
	Sequence   int64
	Document   []byte
	UpdatedAt  time.Time
}

func toComponentRow(c *domain.LibraryComponent) (componentRow, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return componentRow{}, fmt.Errorf("failed to encode component %s: %w", c.ID, err)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = c.CreatedAt
	}
	return componentRow{
		ID:         c.ID,
		Name:       c.Name,
		Category:   c.Category,
		Type:       string(c.Type),
		Status:     string(c.Status()),
		VersionID:  c.Version.VersionID,
		Complexity: string(c.Complexity.Level),
		UsageCount: c.Usage.UsageCount,
		Sequence:   c.Sequence,
		Document:   doc,
		UpdatedAt:  updated,
	}, nil
}

func decodeComponent(doc []byte) (*domain.LibraryComponent, error) {
	var c domain.LibraryComponent
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to decode component: %w", err)
	}
	return &c, nil
}

func encodeMeasure(m *domain.Measure) ([]byte, []string, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode measure %s: %w", m.ID, err)
	}
	refs := make([]string, 0)
	for id := range m.ComponentRefs() {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return doc, refs, nil
}

func decodeMeasure(doc []byte) (*domain.Measure, error) {
	var m domain.Measure
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("failed to decode measure: %w", err)
	}
	return &m, nil
}

// exportJSON writes a WorkspaceExport built from s.
func exportJSON(ctx context.Context, s domain.WorkspaceStore, writer io.Writer) error {
	components, err := s.LoadComponents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list components: %w", err)
	}
	measures, err := s.LoadMeasures(ctx)
	if err != nil {
		return fmt.Errorf("failed to list measures: %w", err)
	}
	export := &WorkspaceExport{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Components: components,
		Measures:   measures,
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importJSON saves the entities of an export that s does not hold yet.
func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export WorkspaceExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	var components []*domain.LibraryComponent
	for _, c := range export.Components {
		if c == nil || c.ID == "" {
			skipped++
			continue
		}
		if _, err := s.GetComponent(ctx, c.ID); err == nil {
			skipped++
			continue
		} else if !isNotFound(err) {
			return 0, 0, fmt.Errorf("failed to check component %s: %w", c.ID, err)
		}
		components = append(components, c)
	}

	var measures []*domain.Measure
	for _, m := range export.Measures {
		if m == nil || m.ID == "" {
			skipped++
			continue
		}
		if _, err := s.GetMeasure(ctx, m.ID); err == nil {
			skipped++
			continue
		} else if !isNotFound(err) {
			return 0, 0, fmt.Errorf("failed to check measure %s: %w", m.ID, err)
		}
		measures = append(measures, m)
	}

	if err := s.SaveWorkspace(ctx, components, measures, nil); err != nil {
		return 0, skipped, fmt.Errorf("failed to import workspace: %w", err)
	}
	return len(components) + len(measures), skipped, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
