package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/digest"
	"github.com/custodia-labs/foldline/internal/logger"
)

// ConstraintResolver flattens scoped constraints into one ordered set.
// Merging is pure; a resolver holds no state and is safe for concurrent use.
type ConstraintResolver struct{}

// NewConstraintResolver creates a constraint resolver.
func NewConstraintResolver() *ConstraintResolver {
	return &ConstraintResolver{}
}

// constraintGroup holds every constraint sharing one target identity.
type constraintGroup struct {
	key     string
	scope   domain.Scope
	targets []string
	hard    []domain.Constraint
	soft    []domain.Constraint
}

// Merge resolves constraints into a ResolvedConstraintSet.
//
// Within a target group a hard constraint overrides every soft one, and two
// hard constraints with different values are a *domain.ConstraintConflictError.
// Across groups a hard constraint overrides a soft constraint on a broader,
// non-global target that contains it. A broader hard constraint never
// overrides a narrower soft one. A global soft constraint is never dropped
// this way: it biases the whole structure, so it stays alongside any hard
// constraint nested inside it. Surviving soft weights are normalised to sum
// to 1 per group.
func (r *ConstraintResolver) Merge(constraints []domain.Constraint) (domain.ResolvedConstraintSet, error) {
	set := domain.ResolvedConstraintSet{Strength: 1}
	if len(constraints) == 0 {
		return set, nil
	}

	groups := make(map[string]*constraintGroup)
	for i, c := range constraints {
		if err := validateConstraint(c); err != nil {
			return domain.ResolvedConstraintSet{}, fmt.Errorf("constraint %d: %w", i, err)
		}
		key := c.TargetKey()
		g, ok := groups[key]
		if !ok {
			g = &constraintGroup{key: key, scope: c.Scope, targets: c.Targets()}
			groups[key] = g
		}
		if c.Kind == domain.ConstraintHard {
			g.hard = append(g.hard, c)
		} else {
			g.soft = append(g.soft, c)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Hard constraints first, so the nesting pass sees every survivor.
	var hardGroups []*constraintGroup
	for _, k := range keys {
		g := groups[k]
		if len(g.hard) == 0 {
			continue
		}
		values := distinctValues(g.hard)
		if len(values) > 1 {
			return domain.ResolvedConstraintSet{}, &domain.ConstraintConflictError{Target: g.key, Values: values}
		}
		set.Constraints = append(set.Constraints, domain.ResolvedConstraint{
			Scope:   g.scope,
			Targets: g.targets,
			Target:  g.key,
			Kind:    domain.ConstraintHard,
			Value:   values[0],
			Weight:  1,
		})
		for _, s := range g.soft {
			set.Dropped = append(set.Dropped, domain.DroppedConstraint{
				Constraint: s,
				Reason:     "overridden by hard constraint on " + g.key,
			})
		}
		hardGroups = append(hardGroups, g)
	}

	for _, k := range keys {
		g := groups[k]
		if len(g.hard) > 0 || len(g.soft) == 0 {
			continue
		}
		if by := narrowerHard(g, hardGroups); by != "" {
			for _, s := range g.soft {
				set.Dropped = append(set.Dropped, domain.DroppedConstraint{
					Constraint: s,
					Reason:     "overridden by narrower hard constraint on " + by,
				})
			}
			continue
		}
		set.Constraints = append(set.Constraints, normaliseSoft(g)...)
	}

	for _, d := range set.Dropped {
		logger.Warn("Constraint on %s dropped: %s", d.Constraint.TargetKey(), d.Reason)
	}

	sortResolved(set.Constraints)
	sort.SliceStable(set.Dropped, func(i, j int) bool {
		a, b := set.Dropped[i].Constraint, set.Dropped[j].Constraint
		if ka, kb := a.TargetKey(), b.TargetKey(); ka != kb {
			return ka < kb
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Weight < b.Weight
	})
	return set, nil
}

// Digest returns the canonical digest of the resolved constraints.
// Dropped constraints and the guidance strength are not part of it.
func (r *ConstraintResolver) Digest(set domain.ResolvedConstraintSet) (string, error) {
	ordered := append([]domain.ResolvedConstraint(nil), set.Constraints...)
	sortResolved(ordered)
	if ordered == nil {
		ordered = []domain.ResolvedConstraint{}
	}
	return digest.Hex(struct {
		Constraints []domain.ResolvedConstraint `json:"constraints"`
	}{ordered})
}

func validateConstraint(c domain.Constraint) error {
	if !c.Scope.IsValid() {
		return fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidInput, c.Scope)
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, c.Kind)
	}
	if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight < 0 {
		return fmt.Errorf("%w: weight must be a non-negative number", domain.ErrInvalidInput)
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return fmt.Errorf("%w: value must be finite", domain.ErrInvalidInput)
	}
	if c.Scope != domain.ScopeGlobal && len(c.Targets()) == 0 {
		return fmt.Errorf("%w: %s constraint needs target ids", domain.ErrInvalidInput, c.Scope)
	}
	return nil
}

func distinctValues(cs []domain.Constraint) []float64 {
	seen := make(map[float64]struct{}, len(cs))
	var out []float64
	for _, c := range cs {
		if _, ok := seen[c.Value]; ok {
			continue
		}
		seen[c.Value] = struct{}{}
		out = append(out, c.Value)
	}
	sort.Float64s(out)
	return out
}

// narrowerHard returns the key of a hard group nested inside g's targets,
// or "" if there is none. Global soft constraints are never overridden this way.
func narrowerHard(g *constraintGroup, hard []*constraintGroup) string {
	if g.scope == domain.ScopeGlobal {
		return ""
	}
	for _, h := range hard {
		if h.scope.Depth() <= g.scope.Depth() {
			continue
		}
		for _, outer := range g.targets {
			for _, inner := range h.targets {
				if domain.TargetContains(outer, inner) {
					return h.key
				}
			}
		}
	}
	return ""
}

// normaliseSoft scales a group's soft weights to sum to 1. An all-zero
// group is split evenly.
func normaliseSoft(g *constraintGroup) []domain.ResolvedConstraint {
	soft := append([]domain.Constraint(nil), g.soft...)
	sort.Slice(soft, func(i, j int) bool {
		if soft[i].Value != soft[j].Value {
			return soft[i].Value < soft[j].Value
		}
		return soft[i].Weight < soft[j].Weight
	})

	var total float64
	for _, s := range soft {
		total += s.Weight
	}

	out := make([]domain.ResolvedConstraint, 0, len(soft))
	for _, s := range soft {
		w := 1 / float64(len(soft))
		if total > 0 {
			w = s.Weight / total
		}
		out = append(out, domain.ResolvedConstraint{
			Scope:   g.scope,
			Targets: g.targets,
			Target:  g.key,
			Kind:    domain.ConstraintSoft,
			Value:   s.Value,
			Weight:  w,
		})
	}
	return out
}

// sortResolved orders by scope (broadest first), hard before soft, then
// target, value and weight.
func sortResolved(cs []domain.ResolvedConstraint) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if da, db := a.Scope.Depth(), b.Scope.Depth(); da != db {
			return da < db
		}
		if a.Kind != b.Kind {
			return a.Kind == domain.ConstraintHard
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Weight < b.Weight
	})
}
