package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// IdentityKey is the structural fingerprint used to decide whether two
// predicates, or two groupings of predicates, are the same component.
type IdentityKey struct {
	Type      domain.ComponentType
	Canonical string
}

// IsZero reports whether the key is unset.
func (k IdentityKey) IsZero() bool {
	return k.Canonical == ""
}

// Hash returns the hex SHA-256 of the canonical form.
func (k IdentityKey) Hash() string {
	sum := sha256.Sum256([]byte(k.Canonical))
	return hex.EncodeToString(sum[:])
}

func (k IdentityKey) String() string {
	return k.Canonical
}

// NormalizeName case-folds, trims and collapses internal whitespace.
func NormalizeName(s string) string {
	// A Caser is stateful, so one is built per call.
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// ValueSetIdentifier returns the identity of a value set: its OID or URL when
// present, otherwise a digest of its codes. It returns "" for a value set with
// neither.
func ValueSetIdentifier(vs domain.ValueSetRef) string {
	if id := normalizeValueSetID(vs.ID); id != "" {
		return id
	}
	if len(vs.Codes) == 0 {
		return ""
	}
	return codesIdentifier(vs.Codes)
}

// ElementValueSetIdentifier is ValueSetIdentifier for a leaf, falling back to
// the element's direct codes when it carries no value-set id.
func ElementValueSetIdentifier(e *domain.DataElement) string {
	if e.ValueSet != nil {
		if id := normalizeValueSetID(e.ValueSet.ID); id != "" {
			return id
		}
	}
	codes := e.Codes()
	if len(codes) == 0 {
		return ""
	}
	return codesIdentifier(codes)
}

func normalizeValueSetID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "urn:oid:")
	return id
}

func codesIdentifier(codes []domain.Code) string {
	keys := make([]string, 0, len(codes))
	for _, c := range domain.UniqueCodes(codes) {
		keys = append(keys, strings.ToUpper(strings.TrimSpace(c.System))+"|"+strings.TrimSpace(c.Code))
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return "codes:" + hex.EncodeToString(sum[:8])
}

var timingOperatorAliases = map[string]domain.TimingOperator{
	"during":        domain.TimingDuring,
	"in":            domain.TimingDuring,
	"occurs during": domain.TimingDuring,
	"before":        domain.TimingBefore,
	"prior to":      domain.TimingBefore,
	"starts before": domain.TimingBefore,
	"ends before":   domain.TimingBefore,
	"after":         domain.TimingAfter,
	"following":     domain.TimingAfter,
	"starts after":  domain.TimingAfter,
	"within":        domain.TimingWithin,
}

var timeUnitAliases = map[string]domain.TimeUnit{
	"h": domain.UnitHours, "hr": domain.UnitHours, "hrs": domain.UnitHours, "hour": domain.UnitHours, "hours": domain.UnitHours,
	"d": domain.UnitDays, "day": domain.UnitDays, "days": domain.UnitDays,
	"w": domain.UnitWeeks, "wk": domain.UnitWeeks, "wks": domain.UnitWeeks, "week": domain.UnitWeeks, "weeks": domain.UnitWeeks,
	"mo": domain.UnitMonths, "mos": domain.UnitMonths, "month": domain.UnitMonths, "months": domain.UnitMonths,
	"y": domain.UnitYears, "yr": domain.UnitYears, "yrs": domain.UnitYears, "year": domain.UnitYears, "years": domain.UnitYears,
}

// NormalizeTimingOperator maps operator spellings onto the canonical set.
// Unknown spellings are returned lower-cased.
func NormalizeTimingOperator(op domain.TimingOperator) domain.TimingOperator {
	key := NormalizeName(string(op))
	if canonical, ok := timingOperatorAliases[key]; ok {
		return canonical
	}
	return domain.TimingOperator(key)
}

// NormalizeTimeUnit maps unit spellings onto the canonical set.
func NormalizeTimeUnit(u domain.TimeUnit) (domain.TimeUnit, bool) {
	canonical, ok := timeUnitAliases[NormalizeName(string(u))]
	return canonical, ok
}

// NormalizeAnchor lower-cases the anchor and defaults it to the measurement
// period when a timing operator is present.
func NormalizeAnchor(t *domain.Timing) domain.TimingAnchor {
	a := strings.NewReplacer(" ", "_", "-", "_").Replace(NormalizeName(string(t.Anchor)))
	if a == "" && t.Operator != "" {
		return domain.AnchorMeasurementPeriod
	}
	return domain.TimingAnchor(a)
}

// NormalizeOffset converts an offset to its canonical unit. Only exact
// conversions are applied: weeks become days, whole multiples of 24 hours
// become days, whole multiples of 12 months become years.
func NormalizeOffset(off *domain.TimingOffset) (float64, domain.TimeUnit) {
	v := off.Value
	unit, ok := NormalizeTimeUnit(off.Unit)
	if !ok {
		return roundOffset(v), domain.TimeUnit(NormalizeName(string(off.Unit)))
	}
	switch unit {
	case domain.UnitWeeks:
		v, unit = v*7, domain.UnitDays
	case domain.UnitHours:
		if isWhole(v / 24) {
			v, unit = v/24, domain.UnitDays
		}
	case domain.UnitMonths:
		if isWhole(v / 12) {
			v, unit = v/12, domain.UnitYears
		}
	}
	return roundOffset(v), unit
}

func roundOffset(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func isWhole(v float64) bool {
	return math.Abs(v-math.Round(v)) < 1e-9
}

// FormatOffsetValue renders an offset value without trailing zeros.
func FormatOffsetValue(v float64) string {
	return strconv.FormatFloat(roundOffset(v), 'f', -1, 64)
}

// TimingSignature is the normalized form of a timing constraint used in
// identity keys. Nil and empty timings both yield "none".
func TimingSignature(t *domain.Timing) string {
	if t == nil || (t.Operator == "" && t.Offset == nil && t.Anchor == "" && t.IndexEvent == "") {
		return "none"
	}
	op := NormalizeTimingOperator(t.Operator)
	anchor := NormalizeAnchor(t)

	offset := "none"
	if t.Offset != nil && t.Offset.Value != 0 {
		v, unit := NormalizeOffset(t.Offset)
		dir := domain.OffsetDirection(NormalizeName(string(t.Offset.Direction)))
		if dir == "" {
			switch op {
			case domain.TimingBefore:
				dir = domain.DirectionBefore
			case domain.TimingAfter:
				dir = domain.DirectionAfter
			}
		}
		offset = fmt.Sprintf("%s%s:%s", FormatOffsetValue(v), unit, dir)
	}

	event := ""
	if anchor == domain.AnchorIndexEvent {
		event = NormalizeName(t.IndexEvent)
	}
	return fmt.Sprintf("op=%s;anchor=%s;offset=%s;event=%s", op, anchor, offset, event)
}

// AtomicKey builds the key of an atomic predicate from its value-set
// identifiers, timing and negation.
func AtomicKey(valueSetIDs []string, timing *domain.Timing, negation bool) IdentityKey {
	ids := make([]string, 0, len(valueSetIDs))
	seen := make(map[string]struct{}, len(valueSetIDs))
	for _, id := range valueSetIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return IdentityKey{
		Type:      domain.ComponentAtomic,
		Canonical: fmt.Sprintf("atomic|vs=%s|timing=%s|neg=%t", strings.Join(ids, "+"), TimingSignature(timing), negation),
	}
}

// CompositeKey builds the key of a grouping from its operator and the
// multiset of child keys. Child order does not matter; duplicates do.
func CompositeKey(op domain.LogicalOperator, children []IdentityKey) IdentityKey {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.Canonical
	}
	sort.Strings(parts)
	return IdentityKey{
		Type:      domain.ComponentComposite,
		Canonical: fmt.Sprintf("composite|op=%s|children=[%s]", op, strings.Join(parts, ";")),
	}
}

// ElementKey returns the key of a leaf. ok is false when the leaf has neither
// a value-set id nor any code, in which case it has no identity to match on.
func ElementKey(e *domain.DataElement) (IdentityKey, bool) {
	id := ElementValueSetIdentifier(e)
	if id == "" {
		return IdentityKey{}, false
	}
	return AtomicKey([]string{id}, e.Timing, e.Negation), true
}

// ComponentKey returns the key of a library component. Composite keys need
// every child to resolve through lookup.
func ComponentKey(c *domain.LibraryComponent, lookup func(id string) (*domain.LibraryComponent, bool)) (IdentityKey, bool) {
	return componentKey(c, lookup, map[string]bool{})
}

func componentKey(c *domain.LibraryComponent, lookup func(string) (*domain.LibraryComponent, bool), visiting map[string]bool) (IdentityKey, bool) {
	if c.Type != domain.ComponentComposite {
		ids := make([]string, 0, len(c.ValueSets))
		for _, vs := range c.ValueSets {
			ids = append(ids, ValueSetIdentifier(vs))
		}
		key := AtomicKey(ids, c.Timing, c.Negation)
		if strings.HasPrefix(key.Canonical, "atomic|vs=|") {
			return IdentityKey{}, false
		}
		return key, true
	}

	if visiting[c.ID] {
		return IdentityKey{}, false
	}
	visiting[c.ID] = true
	defer delete(visiting, c.ID)

	children := make([]IdentityKey, 0, len(c.Children))
	for _, ref := range c.Children {
		child, ok := lookup(ref.ComponentID)
		if !ok {
			return IdentityKey{}, false
		}
		key, ok := componentKey(child, lookup, visiting)
		if !ok {
			return IdentityKey{}, false
		}
		children = append(children, key)
	}
	return CompositeKey(c.Operator, children), true
}
