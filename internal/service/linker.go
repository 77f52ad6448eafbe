package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// maxSupersedeHops bounds how far a link follows merge successors.
const maxSupersedeHops = 8

// LinkWarning flags an element that could not be linked to the library.
type LinkWarning struct {
	ElementID string `json:"elementId"`
	Message   string `json:"message"`
}

// LinkResult is the outcome of linking one measure.
type LinkResult struct {
	MeasureID   string            `json:"measureId"`
	LinkMap     map[string]string `json:"linkMap"`
	ClauseLinks map[string]string `json:"clauseLinks,omitempty"`
	Created     []string          `json:"created,omitempty"`
	Matched     []string          `json:"matched,omitempty"`
	Backfilled  []string          `json:"backfilled,omitempty"`
	Warnings    []LinkWarning     `json:"warnings,omitempty"`
}

// Linker resolves a measure's leaves and leaf groups against the library,
// creating components for unmatched candidates that carry codes.
type Linker struct {
	resolver domain.ValueSetResolver
	actor    string
}

// NewLinker creates a linker. The resolver may be nil, in which case only the
// measure's own value-set catalog is consulted for missing codes.
func NewLinker(resolver domain.ValueSetResolver, actor string) *Linker {
	return &Linker{resolver: resolver, actor: actor}
}

// Link returns a copy of the measure with libraryComponentId set on every
// element and qualifying clause, together with the updated library.
func (l *Linker) Link(ctx context.Context, m *domain.Measure, lib *Library) (*domain.Measure, *Library, LinkResult, error) {
	out := m.Clone()
	result := LinkResult{
		MeasureID:   m.ID,
		LinkMap:     make(map[string]string),
		ClauseLinks: make(map[string]string),
	}

	var linkErr error
	out.Elements(func(_ *domain.Population, e *domain.DataElement) {
		if linkErr != nil {
			return
		}
		if err := l.resolveCodes(ctx, out, e, &result); err != nil {
			linkErr = err
			return
		}
		next, err := l.linkElement(out.ID, e, lib, &result)
		if err != nil {
			linkErr = err
			return
		}
		lib = next
	})
	if linkErr != nil {
		return nil, nil, LinkResult{}, linkErr
	}

	out.Clauses(func(_ *domain.Population, c *domain.LogicalClause) {
		if linkErr != nil {
			return
		}
		next, err := l.linkClause(out.ID, c, lib, &result)
		if err != nil {
			linkErr = err
			return
		}
		lib = next
	})
	if linkErr != nil {
		return nil, nil, LinkResult{}, linkErr
	}
	return out, lib, result, nil
}

// resolveCodes fills in codes for a value set extracted without them, first
// from the measure's catalog, then from the resolver.
func (l *Linker) resolveCodes(ctx context.Context, m *domain.Measure, e *domain.DataElement, result *LinkResult) error {
	if e.ValueSet == nil || len(e.ValueSet.Codes) > 0 || e.ValueSet.ID == "" {
		return nil
	}
	if vs, ok := m.CatalogValueSet(e.ValueSet.ID); ok && len(vs.Codes) > 0 {
		fillValueSet(e.ValueSet, vs)
		return nil
	}
	if l.resolver == nil {
		return nil
	}
	vs, err := l.resolver.Resolve(ctx, e.ValueSet.ID)
	switch {
	case err == nil && vs != nil:
		fillValueSet(e.ValueSet, vs)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		result.Warnings = append(result.Warnings, LinkWarning{
			ElementID: e.ID,
			Message:   fmt.Sprintf("value set %s could not be expanded: %v", e.ValueSet.ID, err),
		})
	}
	return nil
}

func fillValueSet(dst, src *domain.ValueSetRef) {
	dst.Codes = append([]domain.Code(nil), src.Codes...)
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Version == "" {
		dst.Version = src.Version
	}
}

func (l *Linker) linkElement(measureID string, e *domain.DataElement, lib *Library, result *LinkResult) (*Library, error) {
	cand := CandidateFromElement(e)

	// An existing link with the same identity is kept so forks stay put.
	if ref := e.ComponentRef(); ref != "" {
		if key, ok := lib.Key(ref); ok {
			if want, ok := cand.Key(); ok && key == want {
				if c, _ := lib.lookup(ref); !c.IsArchived() || c.Version.SupersededBy == "" {
					return l.attach(measureID, e, ref, lib, cand, result, false)
				}
			}
		}
	}

	match := Match(cand, lib)
	if match.Found() {
		target := successor(match.Effective(), lib)
		return l.attach(measureID, e, target.ID, lib, cand, result, false)
	}

	if len(cand.Codes) == 0 {
		e.LibraryComponentID = domain.ZeroCodesSentinel
		result.LinkMap[e.ID] = domain.ZeroCodesSentinel
		result.Warnings = append(result.Warnings, LinkWarning{ElementID: e.ID, Message: "no codes found for this logic block"})
		return lib, nil
	}

	vs := domain.ValueSetRef{Codes: cand.Codes}
	if e.ValueSet != nil {
		vs.ID, vs.Name, vs.Version = e.ValueSet.ID, e.ValueSet.Name, e.ValueSet.Version
	}
	name := vs.Name
	if name == "" {
		name = e.Description
	}
	next, created, err := lib.CreateAtomic(AtomicSpec{
		Name:        name,
		Description: e.Description,
		ElementType: e.Type,
		ValueSets:   []domain.ValueSetRef{vs},
		Timing:      e.Timing,
		Negation:    e.Negation,
		CreatedBy:   l.actor,
	})
	if err != nil {
		return lib, fmt.Errorf("link element %s: %w", e.ID, err)
	}
	return l.attach(measureID, e, created.ID, next, cand, result, true)
}

// attach links the element, backfills codes the component lacks and records
// the usage reference.
func (l *Linker) attach(measureID string, e *domain.DataElement, componentID string, lib *Library, cand Candidate, result *LinkResult, created bool) (*Library, error) {
	comp, _ := lib.lookup(componentID)
	if comp.Type == domain.ComponentAtomic && !comp.HasCodes() && len(cand.Codes) > 0 {
		vsID := ""
		if e.ValueSet != nil {
			vsID = e.ValueSet.ID
		}
		next, added, err := lib.BackfillCodes(componentID, vsID, cand.Codes)
		if err != nil {
			return lib, fmt.Errorf("backfill %s: %w", componentID, err)
		}
		if added > 0 {
			result.Backfilled = append(result.Backfilled, componentID)
		}
		lib = next
	}

	next, err := lib.AddUsageReference(componentID, measureID)
	if err != nil {
		return lib, err
	}
	e.LibraryComponentID = componentID
	result.LinkMap[e.ID] = componentID
	if created {
		result.Created = append(result.Created, componentID)
	} else {
		result.Matched = append(result.Matched, componentID)
	}
	return next, nil
}

func (l *Linker) linkClause(measureID string, c *domain.LogicalClause, lib *Library, result *LinkResult) (*Library, error) {
	cand, ok := CandidateFromClause(c, lib)
	if !ok {
		if c.LibraryComponentID != "" {
			if comp, exists := lib.lookup(c.LibraryComponentID); !exists || comp.Type != domain.ComponentComposite {
				c.LibraryComponentID = ""
			}
		}
		return lib, nil
	}

	var componentID string
	if match := Match(cand, lib); match.Found() {
		componentID = successor(match.Effective(), lib).ID
		result.Matched = append(result.Matched, componentID)
	} else {
		childIDs := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			childIDs = append(childIDs, child.Element.ComponentRef())
		}
		next, created, err := lib.CreateComposite(CompositeSpec{
			Name:        c.Description,
			Description: c.Description,
			Operator:    c.Operator,
			ChildIDs:    childIDs,
			CreatedBy:   l.actor,
		})
		if err != nil {
			return lib, fmt.Errorf("link clause %s: %w", c.ID, err)
		}
		lib = next
		componentID = created.ID
		result.Created = append(result.Created, componentID)
	}

	next, err := lib.AddUsageReference(componentID, measureID)
	if err != nil {
		return lib, err
	}
	c.LibraryComponentID = componentID
	result.ClauseLinks[c.ID] = componentID
	return next, nil
}

// successor follows SupersededBy from an archived component to the component
// that replaced it.
func successor(c *domain.LibraryComponent, lib *Library) *domain.LibraryComponent {
	for hops := 0; hops < maxSupersedeHops && c.IsArchived() && c.Version.SupersededBy != ""; hops++ {
		next, ok := lib.lookup(c.Version.SupersededBy)
		if !ok {
			break
		}
		c = next
	}
	return c
}
