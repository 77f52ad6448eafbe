package service

import (
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// Candidate is a predicate or grouping being resolved against the library.
type Candidate struct {
	Type domain.ComponentType

	// Atomic candidates.
	ValueSetIDs   []string
	ValueSetNames []string
	Timing        *domain.Timing
	Negation      bool
	Codes         []domain.Code

	// Composite candidates.
	Operator  domain.LogicalOperator
	ChildKeys []IdentityKey
}

// CandidateFromElement builds an atomic candidate from a leaf.
func CandidateFromElement(e *domain.DataElement) Candidate {
	c := Candidate{
		Type:     domain.ComponentAtomic,
		Timing:   e.Timing,
		Negation: e.Negation,
		Codes:    e.Codes(),
	}
	if id := ElementValueSetIdentifier(e); id != "" {
		c.ValueSetIDs = []string{id}
	}
	if e.ValueSet != nil && e.ValueSet.Name != "" {
		c.ValueSetNames = []string{e.ValueSet.Name}
	}
	return c
}

// CandidateFromClause builds a composite candidate from an AND/OR clause whose
// children are all leaves linked to library components. ok is false for any
// other clause: composites never match against raw leaves.
func CandidateFromClause(cl *domain.LogicalClause, lib *Library) (Candidate, bool) {
	if cl == nil || (cl.Operator != domain.OperatorAnd && cl.Operator != domain.OperatorOr) || len(cl.Children) < 2 {
		return Candidate{}, false
	}
	keys := make([]IdentityKey, 0, len(cl.Children))
	for _, child := range cl.Children {
		if child.Kind != domain.NodeElement || child.Element == nil {
			return Candidate{}, false
		}
		ref := child.Element.ComponentRef()
		if ref == "" {
			return Candidate{}, false
		}
		key, ok := lib.Key(ref)
		if !ok {
			return Candidate{}, false
		}
		keys = append(keys, key)
	}
	return Candidate{Type: domain.ComponentComposite, Operator: cl.Operator, ChildKeys: keys}, true
}

// Key returns the candidate's identity key.
func (c Candidate) Key() (IdentityKey, bool) {
	if c.Type == domain.ComponentComposite {
		if len(c.ChildKeys) == 0 {
			return IdentityKey{}, false
		}
		return CompositeKey(c.Operator, c.ChildKeys), true
	}
	if len(c.ValueSetIDs) == 0 {
		return IdentityKey{}, false
	}
	return AtomicKey(c.ValueSetIDs, c.Timing, c.Negation), true
}

// MatchStrategy records which step produced a match.
type MatchStrategy string

const (
	MatchNone     MatchStrategy = "none"
	MatchIdentity MatchStrategy = "identity"
	MatchName     MatchStrategy = "name"
)

// MatchResult is the outcome of Match. Components are copies.
type MatchResult struct {
	Exact               *domain.LibraryComponent `json:"exact,omitempty"`
	IsApprovedExact     bool                     `json:"isApprovedExact"`
	ApprovedAlternative *domain.LibraryComponent `json:"approvedAlternative,omitempty"`
	Strategy            MatchStrategy            `json:"strategy"`
}

// Found reports whether anything matched.
func (r MatchResult) Found() bool {
	return r.Exact != nil
}

// Effective is the component callers should link to: the approved
// alternative when there is one, otherwise the match itself.
func (r MatchResult) Effective() *domain.LibraryComponent {
	if r.ApprovedAlternative != nil {
		return r.ApprovedAlternative
	}
	return r.Exact
}

// Match resolves a candidate against every component in the library,
// archived ones included. Identity is tried first, then for atomics the
// normalized value-set name with equal timing and negation. A draft or
// pending match reports an approved component with the same identity as
// its alternative.
func Match(c Candidate, lib *Library) MatchResult {
	key, hasKey := c.Key()

	var matched *domain.LibraryComponent
	strategy := MatchNone
	if hasKey {
		for _, id := range lib.order {
			comp := lib.components[id]
			if comp.Type != c.Type {
				continue
			}
			if k, ok := ComponentKey(comp, lib.lookup); ok && k == key {
				matched, strategy = comp, MatchIdentity
				break
			}
		}
	}
	if matched == nil && c.Type == domain.ComponentAtomic {
		if byName := matchByName(c, lib); byName != nil {
			matched, strategy = byName, MatchName
		}
	}
	if matched == nil {
		return MatchResult{Strategy: MatchNone}
	}

	result := MatchResult{
		Exact:           matched.Clone(),
		IsApprovedExact: matched.Status() == domain.StatusApproved,
		Strategy:        strategy,
	}
	if s := matched.Status(); s == domain.StatusDraft || s == domain.StatusPendingReview {
		if alt := approvedWithKey(matched, lib); alt != nil {
			result.ApprovedAlternative = alt.Clone()
		}
	}
	return result
}

func matchByName(c Candidate, lib *Library) *domain.LibraryComponent {
	names := make(map[string]bool, len(c.ValueSetNames))
	for _, n := range c.ValueSetNames {
		if norm := NormalizeName(n); norm != "" {
			names[norm] = true
		}
	}
	if len(names) == 0 {
		return nil
	}
	signature := TimingSignature(c.Timing)

	var first *domain.LibraryComponent
	for _, id := range lib.order {
		comp := lib.components[id]
		if comp.Type != domain.ComponentAtomic || comp.Negation != c.Negation || TimingSignature(comp.Timing) != signature {
			continue
		}
		hit := false
		for _, vs := range comp.ValueSets {
			if names[NormalizeName(vs.Name)] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if comp.Status() == domain.StatusApproved {
			return comp
		}
		if first == nil {
			first = comp
		}
	}
	return first
}

func approvedWithKey(matched *domain.LibraryComponent, lib *Library) *domain.LibraryComponent {
	key, ok := ComponentKey(matched, lib.lookup)
	if !ok {
		return nil
	}
	for _, id := range lib.order {
		comp := lib.components[id]
		if comp.ID == matched.ID || comp.Status() != domain.StatusApproved || comp.Type != matched.Type {
			continue
		}
		if k, ok := ComponentKey(comp, lib.lookup); ok && k == key {
			return comp
		}
	}
	return nil
}
