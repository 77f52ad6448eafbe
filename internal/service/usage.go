package service

import (
	"fmt"
	"sort"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// DanglingReference is a measure reference to a component that does not exist.
type DanglingReference struct {
	MeasureID   string `json:"measureId"`
	ComponentID string `json:"componentId"`
}

// RebuildReport summarizes what a usage rebuild changed.
type RebuildReport struct {
	Changed  []string            `json:"changed,omitempty"`
	Archived []string            `json:"archived,omitempty"`
	Restored []string            `json:"restored,omitempty"`
	Dangling []DanglingReference `json:"dangling,omitempty"`
}

// Empty reports whether the rebuild was a no-op.
func (r RebuildReport) Empty() bool {
	return len(r.Changed) == 0 && len(r.Archived) == 0 && len(r.Restored) == 0
}

// CollectUsage maps each referenced component id to the sorted ids of the
// measures whose trees reference it. The zero-codes sentinel is ignored.
func CollectUsage(measures []*domain.Measure) map[string][]string {
	usage := make(map[string][]string)
	for _, m := range measures {
		if m == nil {
			continue
		}
		for ref := range m.ComponentRefs() {
			usage[ref] = insertSorted(usage[ref], m.ID)
		}
	}
	return usage
}

// RebuildUsageIndex recomputes every component's usage from the given
// measures and applies the archive and restore policy: a component left
// without usage is archived, and an archived component that regained usage
// returns to its last non-archived status. Components archived as superseded
// by a merge stay archived. Calling it twice with the same input is a no-op
// the second time.
func RebuildUsageIndex(measures []*domain.Measure, lib *Library) (*Library, RebuildReport) {
	usage := CollectUsage(measures)
	var report RebuildReport

	refs := make([]string, 0, len(usage))
	for id := range usage {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	for _, id := range refs {
		if _, ok := lib.components[id]; ok {
			continue
		}
		for _, m := range usage[id] {
			report.Dangling = append(report.Dangling, DanglingReference{MeasureID: m, ComponentID: id})
		}
	}

	out := lib.fork()
	now := lib.now()
	for _, id := range lib.order {
		current := lib.components[id]
		ids := usage[id]
		if ids == nil {
			ids = []string{}
		}

		usageChanged := !equalStrings(current.Usage.MeasureIDs, ids) || current.Usage.UsageCount != len(ids)
		archive := len(ids) == 0 && !current.IsArchived()
		restore := len(ids) > 0 && current.IsArchived() && current.Version.SupersededBy == ""
		if !usageChanged && !archive && !restore {
			continue
		}

		next := current.Clone()
		if usageChanged {
			if gainedUsage(current.Usage.MeasureIDs, ids) {
				at := now
				next.Usage.LastUsedAt = &at
			}
			next.Usage.MeasureIDs = ids
			next.Usage.UsageCount = len(ids)
			report.Changed = append(report.Changed, id)
		}
		switch {
		case archive:
			transition(next, domain.StatusArchived, now, "system", "no measure references this component")
			report.Archived = append(report.Archived, id)
		case restore:
			transition(next, next.Version.LastActiveStatus(), now, "system", "usage restored")
			report.Restored = append(report.Restored, id)
		}
		out.components[id] = next
	}
	if report.Empty() {
		return lib, report
	}
	return out, report
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func gainedUsage(before, after []string) bool {
	for _, id := range after {
		i := sort.SearchStrings(before, id)
		if i >= len(before) || before[i] != id {
			return true
		}
	}
	return false
}

// RepointReferences rewrites component references in the measures according
// to mapping (old id to new id). Every target must exist in the library or
// the whole batch is rejected. It returns rewritten copies of the measures
// and how many references changed.
func RepointReferences(measures []*domain.Measure, mapping map[string]string, lib *Library) ([]*domain.Measure, int, error) {
	for from, to := range mapping {
		if from == "" || to == "" {
			return nil, 0, fmt.Errorf("%w: empty id in mapping %q -> %q", domain.ErrBatchRejected, from, to)
		}
		if _, ok := lib.components[to]; !ok {
			return nil, 0, fmt.Errorf("%w: target %s: %w", domain.ErrBatchRejected, to, domain.ErrNotFound)
		}
	}

	out := make([]*domain.Measure, len(measures))
	changed := 0
	for i, m := range measures {
		next := m.Clone()
		for pi := range next.Populations {
			crit := next.Populations[pi].Criteria
			if crit == nil {
				continue
			}
			domain.WalkClauses(crit, func(c *domain.LogicalClause) {
				if to, ok := mapping[c.LibraryComponentID]; ok {
					c.LibraryComponentID = to
					changed++
				}
			})
			domain.WalkElements(crit, func(e *domain.DataElement) {
				if to, ok := mapping[e.ComponentRef()]; ok {
					e.LibraryComponentID = to
					changed++
				}
			})
		}
		out[i] = next
	}
	return out, changed, nil
}
