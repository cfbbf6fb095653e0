package domain

import (
	"sort"
	"strings"
)

// Scope is the structural granularity a constraint applies to.
// Scopes nest: pocket ⊆ atom ⊆ residue ⊆ global.
type Scope string

// Constraint scopes, broadest first.
const (
	ScopeGlobal  Scope = "global"
	ScopeResidue Scope = "residue"
	ScopeAtom    Scope = "atom"
	ScopePocket  Scope = "pocket"
)

// IsValid returns true if the scope is recognised.
func (s Scope) IsValid() bool {
	return s.Depth() >= 0
}

// Depth orders scopes from broadest (0) to narrowest; -1 if unknown.
func (s Scope) Depth() int {
	switch s {
	case ScopeGlobal:
		return 0
	case ScopeResidue:
		return 1
	case ScopeAtom:
		return 2
	case ScopePocket:
		return 3
	default:
		return -1
	}
}

// ConstraintKind separates advisory constraints from gating ones.
type ConstraintKind string

// Constraint kinds.
const (
	// ConstraintSoft biases iterative refinement by weight.
	ConstraintSoft ConstraintKind = "soft"
	// ConstraintHard is enforced as a final-pass validation gate.
	ConstraintHard ConstraintKind = "hard"
)

// IsValid returns true if the kind is recognised.
func (k ConstraintKind) IsValid() bool {
	return k == ConstraintSoft || k == ConstraintHard
}

// GlobalTarget is the implicit target of a global constraint.
const GlobalTarget = "*"

// Constraint is one directive from the caller.
//
// Target IDs use a colon path: "A" (chain), "A:45" (residue 45 of chain A),
// "A:45:CA" (atom CA of that residue). A pocket lists the atoms lining it.
type Constraint struct {
	Scope     Scope          `json:"scope" yaml:"scope"`
	TargetIDs []string       `json:"target_ids" yaml:"target_ids"`
	Weight    float64        `json:"weight" yaml:"weight"`
	Kind      ConstraintKind `json:"kind" yaml:"kind"`

	// Value is the constraint's quantity, e.g. a maximum distance in Å.
	Value float64 `json:"value" yaml:"value"`
}

// Targets returns the normalized, sorted, de-duplicated target IDs.
func (c Constraint) Targets() []string {
	seen := make(map[string]struct{}, len(c.TargetIDs))
	out := make([]string, 0, len(c.TargetIDs))
	for _, id := range c.TargetIDs {
		id = NormalizeTargetID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 && c.Scope == ScopeGlobal {
		out = append(out, GlobalTarget)
	}
	sort.Strings(out)
	return out
}

// TargetKey is the identity used to group constraints: scope plus targets.
func (c Constraint) TargetKey() string {
	return string(c.Scope) + "/" + strings.Join(c.Targets(), ",")
}

// NormalizeTargetID trims whitespace and upper-cases the chain segment.
func NormalizeTargetID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == GlobalTarget {
		return id
	}
	parts := strings.Split(id, ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	parts[0] = strings.ToUpper(parts[0])
	return strings.Join(parts, ":")
}

// TargetContains reports whether inner lies within outer by path prefix.
// The global target contains everything.
func TargetContains(outer, inner string) bool {
	if outer == GlobalTarget {
		return true
	}
	if inner == GlobalTarget {
		return false
	}
	op := strings.Split(outer, ":")
	ip := strings.Split(inner, ":")
	if len(op) > len(ip) {
		return false
	}
	for i := range op {
		if op[i] != ip[i] {
			return false
		}
	}
	return true
}

// ResolvedConstraint is a constraint after merging.
type ResolvedConstraint struct {
	Scope   Scope          `json:"scope"`
	Targets []string       `json:"targets"`
	Target  string         `json:"target"`
	Kind    ConstraintKind `json:"kind"`
	Value   float64        `json:"value"`

	// Weight is normalized within the target group. Hard constraints carry 1.
	Weight float64 `json:"weight"`
}

// DroppedConstraint records a soft constraint removed during merging.
type DroppedConstraint struct {
	Constraint Constraint `json:"constraint"`
	Reason     string     `json:"reason"`
}

// ResolvedConstraintSet is the single ordered list consumed by the predictor.
type ResolvedConstraintSet struct {
	Constraints []ResolvedConstraint `json:"constraints"`

	// Dropped lists soft constraints overridden during merging.
	Dropped []DroppedConstraint `json:"dropped,omitempty"`

	// Strength scales soft-constraint guidance. 1 is normal; retries raise it.
	Strength float64 `json:"strength"`
}

// Hard returns the hard constraints in order.
func (s ResolvedConstraintSet) Hard() []ResolvedConstraint {
	var out []ResolvedConstraint
	for i := range s.Constraints {
		if s.Constraints[i].Kind == ConstraintHard {
			out = append(out, s.Constraints[i])
		}
	}
	return out
}

// Soft returns the soft constraints in order.
func (s ResolvedConstraintSet) Soft() []ResolvedConstraint {
	var out []ResolvedConstraint
	for i := range s.Constraints {
		if s.Constraints[i].Kind == ConstraintSoft {
			out = append(out, s.Constraints[i])
		}
	}
	return out
}

// IsEmpty reports whether no constraint survived.
func (s ResolvedConstraintSet) IsEmpty() bool {
	return len(s.Constraints) == 0
}

// WithStrength returns a copy with the given guidance strength.
func (s ResolvedConstraintSet) WithStrength(strength float64) ResolvedConstraintSet {
	out := s
	out.Constraints = append([]ResolvedConstraint(nil), s.Constraints...)
	out.Strength = strength
	return out
}
