// Package terminology resolves value-set identifiers into codes. Value sets
// come from FHIR R4 ValueSet resources loaded from disk, or from a remote
// terminology server's $expand operation.
package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

const oidPrefix = "urn:oid:"

// LoadStats reports what a load call added to the catalog.
type LoadStats struct {
	ValueSetsLoaded int
	FilesSkipped    int
	Errors          int
}

// Catalog is an in-memory value-set index. Every value set is reachable by
// its canonical URL, resource id, and any OID identifier.
type Catalog struct {
	mu        sync.RWMutex
	valueSets map[string]*domain.ValueSetRef
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{valueSets: make(map[string]*domain.ValueSetRef)}
}

// Resolve implements domain.ValueSetResolver.
func (c *Catalog) Resolve(ctx context.Context, id string) (*domain.ValueSetRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	vs, ok := c.valueSets[normalizeID(id)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("value set %s: %w", id, domain.ErrNotFound)
	}
	return vs.Clone(), nil
}

// Len returns the number of distinct value sets held.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[*domain.ValueSetRef]struct{}, len(c.valueSets))
	for _, vs := range c.valueSets {
		seen[vs] = struct{}{}
	}
	return len(seen)
}

// Add stores a value set under id and any extra aliases.
func (c *Catalog) Add(vs *domain.ValueSetRef, aliases ...string) error {
	if vs == nil || vs.ID == "" {
		return fmt.Errorf("value set has no identifier")
	}
	stored := vs.Clone()
	stored.Codes = domain.UniqueCodes(stored.Codes)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.valueSets[normalizeID(vs.ID)] = stored
	for _, alias := range aliases {
		if alias != "" {
			c.valueSets[normalizeID(alias)] = stored
		}
	}
	return nil
}

// LoadR4ValueSet adds a parsed FHIR ValueSet. Expansion codes are preferred;
// explicitly enumerated compose concepts are used when there is no expansion.
func (c *Catalog) LoadR4ValueSet(vs *r4.ValueSet) error {
	ref, aliases, err := FromR4(vs)
	if err != nil {
		return err
	}
	return c.Add(ref, aliases...)
}

// LoadFile loads a ValueSet resource or a Bundle of them.
func (c *Catalog) LoadFile(path string) (*LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return c.LoadJSON(data)
}

// LoadJSON loads a ValueSet resource or a Bundle of them from raw JSON.
func (c *Catalog) LoadJSON(data []byte) (*LoadStats, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing resource: %w", err)
	}

	stats := &LoadStats{}
	switch probe.ResourceType {
	case "ValueSet":
		if err := c.loadValueSetJSON(data); err != nil {
			stats.Errors++
			return stats, err
		}
		stats.ValueSetsLoaded++
	case "Bundle":
		for _, entry := range probe.Entry {
			var kind struct {
				ResourceType string `json:"resourceType"`
			}
			if json.Unmarshal(entry.Resource, &kind) != nil || kind.ResourceType != "ValueSet" {
				continue
			}
			if err := c.loadValueSetJSON(entry.Resource); err != nil {
				stats.Errors++
				continue
			}
			stats.ValueSetsLoaded++
		}
	default:
		return nil, fmt.Errorf("unsupported resourceType: %q", probe.ResourceType)
	}
	return stats, nil
}

func (c *Catalog) loadValueSetJSON(data []byte) error {
	var vs r4.ValueSet
	if err := json.Unmarshal(data, &vs); err != nil {
		return fmt.Errorf("parsing ValueSet: %w", err)
	}
	return c.LoadR4ValueSet(&vs)
}

// LoadDir loads every *.json file in dir. Files that are not ValueSets or
// Bundles are skipped; malformed ValueSets are counted as errors.
func (c *Catalog) LoadDir(dir string) (*LoadStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	total := &LoadStats{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		stats, err := c.LoadFile(filepath.Join(dir, entry.Name()))
		if stats == nil {
			total.FilesSkipped++
			continue
		}
		total.ValueSetsLoaded += stats.ValueSetsLoaded
		total.Errors += stats.Errors
		if err != nil && stats.Errors == 0 {
			total.Errors++
		}
	}
	return total, nil
}

// FromR4 converts a FHIR ValueSet. The returned id prefers an OID identifier,
// then the resource id, then the canonical URL; the others become aliases.
func FromR4(vs *r4.ValueSet) (*domain.ValueSetRef, []string, error) {
	if vs == nil {
		return nil, nil, fmt.Errorf("value set is nil")
	}

	var ids []string
	for _, ident := range vs.Identifier {
		if ident.Value != nil && strings.HasPrefix(*ident.Value, oidPrefix) {
			ids = append(ids, strings.TrimPrefix(*ident.Value, oidPrefix))
		}
	}
	ids = append(ids, deref(vs.Id), deref(vs.Url))
	var primary string
	var aliases []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if primary == "" {
			primary = id
			continue
		}
		aliases = append(aliases, id)
	}
	if primary == "" {
		return nil, nil, fmt.Errorf("value set has no url, id or OID identifier")
	}

	ref := &domain.ValueSetRef{
		ID:      primary,
		Name:    firstNonEmpty(deref(vs.Title), deref(vs.Name)),
		Version: deref(vs.Version),
	}
	if vs.Expansion != nil && len(vs.Expansion.Contains) > 0 {
		for i := range vs.Expansion.Contains {
			ref.Codes = appendContains(ref.Codes, &vs.Expansion.Contains[i])
		}
	} else if vs.Compose != nil {
		for i := range vs.Compose.Include {
			include := &vs.Compose.Include[i]
			system := deref(include.System)
			for j := range include.Concept {
				concept := &include.Concept[j]
				if concept.Code == nil {
					continue
				}
				ref.Codes = append(ref.Codes, domain.Code{
					Code:    *concept.Code,
					System:  SystemName(system),
					Display: deref(concept.Display),
				})
			}
		}
	}
	ref.Codes = domain.UniqueCodes(ref.Codes)
	return ref, aliases, nil
}

func appendContains(codes []domain.Code, contains *r4.ValueSetExpansionContains) []domain.Code {
	if contains.Code != nil {
		codes = append(codes, domain.Code{
			Code:    *contains.Code,
			System:  SystemName(deref(contains.System)),
			Display: deref(contains.Display),
		})
	}
	for i := range contains.Contains {
		codes = appendContains(codes, &contains.Contains[i])
	}
	return codes
}

var systemNames = map[string]string{
	"http://hl7.org/fhir/sid/icd-10-cm":           "ICD10CM",
	"http://www.cms.gov/Medicare/Coding/ICD10":    "ICD10PCS",
	"http://snomed.info/sct":                      "SNOMEDCT",
	"http://loinc.org":                            "LOINC",
	"http://www.nlm.nih.gov/research/umls/rxnorm": "RXNORM",
	"http://www.ama-assn.org/go/cpt":              "CPT",
	"http://hl7.org/fhir/sid/cvx":                 "CVX",
}

// SystemName maps a FHIR code system URI onto the short system name the fact
// tables store. Unknown systems are returned unchanged.
func SystemName(uri string) string {
	if name, ok := systemNames[uri]; ok {
		return name
	}
	return uri
}

func normalizeID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), oidPrefix)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
