package service

import (
	"fmt"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// zeroCodeFloor keeps zero-code atomics out of the low bucket so they are
// never auto-approved as "simple".
const zeroCodeFloor = 4

// ComplexityLevelFor maps a score onto its level: 1-3 low, 4-7 medium, 8+ high.
func ComplexityLevelFor(score int) domain.ComplexityLevel {
	switch {
	case score >= 8:
		return domain.ComplexityHigh
	case score >= 4:
		return domain.ComplexityMedium
	default:
		return domain.ComplexityLow
	}
}

// AtomicComplexity scores an atomic component.
func AtomicComplexity(c *domain.LibraryComponent) domain.Complexity {
	score := 1
	factors := []string{"base:1"}
	if c.Timing != nil && c.Timing.Operator != "" {
		score++
		factors = append(factors, "timing:+1")
	}
	if c.Negation {
		score += 2
		factors = append(factors, "negation:+2")
	}
	if !c.HasCodes() && score < zeroCodeFloor {
		score = zeroCodeFloor
		factors = append(factors, fmt.Sprintf("zero-codes:floor %d", zeroCodeFloor))
	}
	return domain.Complexity{Score: score, Level: ComplexityLevelFor(score), Factors: factors}
}

// CompositeComplexity scores a composite: the sum of its children, plus one
// for an AND, plus two for the nesting level it adds. A composite child's
// score already carries its own levels, so a chain n composites deep pays
// 2n in total. Unresolvable children count as 1.
func CompositeComplexity(c *domain.LibraryComponent, lookup func(id string) (*domain.LibraryComponent, bool)) domain.Complexity {
	score, depth := compositeScore(c, lookup, map[string]bool{})
	factors := []string{
		fmt.Sprintf("children:%d", score-nestingBonus(c.Operator)),
		fmt.Sprintf("nesting:%d levels", depth),
	}
	if c.Operator == domain.OperatorAnd {
		factors = append(factors, "and:+1")
	}
	return domain.Complexity{Score: score, Level: ComplexityLevelFor(score), Factors: factors}
}

func nestingBonus(op domain.LogicalOperator) int {
	bonus := 2
	if op == domain.OperatorAnd {
		bonus++
	}
	return bonus
}

func compositeScore(c *domain.LibraryComponent, lookup func(string) (*domain.LibraryComponent, bool), visiting map[string]bool) (int, int) {
	visiting[c.ID] = true
	defer delete(visiting, c.ID)

	sum, maxChildDepth := 0, 0
	for _, ref := range c.Children {
		child, ok := lookup(ref.ComponentID)
		switch {
		case !ok || visiting[ref.ComponentID]:
			sum++
		case child.Type == domain.ComponentComposite:
			s, d := compositeScore(child, lookup, visiting)
			sum += s
			if d > maxChildDepth {
				maxChildDepth = d
			}
		default:
			sum += child.Complexity.Score
			if child.Complexity.Score == 0 {
				sum += AtomicComplexity(child).Score
			}
		}
	}
	depth := maxChildDepth + 1
	return sum + nestingBonus(c.Operator), depth
}
