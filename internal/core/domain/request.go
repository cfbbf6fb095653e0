package domain

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Mode is the execution tier a request runs on.
type Mode string

// Execution modes.
const (
	// ModeAuto lets the mode selector decide.
	ModeAuto Mode = ""

	// ModeScreening is the fast, reduced-fidelity triage pass.
	ModeScreening Mode = "screening"

	// ModeValidation is the slow, full-fidelity pass.
	ModeValidation Mode = "validation"
)

// IsValid returns true for auto, screening and validation.
func (m Mode) IsValid() bool {
	switch m {
	case ModeAuto, ModeScreening, ModeValidation:
		return true
	default:
		return false
	}
}

// String returns the mode name, "auto" for the zero value.
func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return string(m)
}

// Urgency is the caller's latency preference.
type Urgency string

// Urgency levels.
const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ChainKind is the molecule type of a chain.
type ChainKind string

// Chain kinds.
const (
	ChainProtein ChainKind = "protein"
	ChainDNA     ChainKind = "dna"
	ChainRNA     ChainKind = "rna"
	ChainLigand  ChainKind = "ligand"
)

// IsValid returns true if the kind is recognised.
func (k ChainKind) IsValid() bool {
	switch k {
	case ChainProtein, ChainDNA, ChainRNA, ChainLigand:
		return true
	default:
		return false
	}
}

// NeedsAlignment reports whether the chain is searched for an MSA.
func (k ChainKind) NeedsAlignment() bool {
	return k == ChainProtein || k == ChainRNA
}

// Chain is one molecule of a structure.
type Chain struct {
	ID       string    `json:"id" yaml:"id"`
	Kind     ChainKind `json:"kind" yaml:"kind"`
	Sequence string    `json:"sequence" yaml:"sequence"`
}

// Normalized returns the canonical sequence used for keys and searches.
func (c Chain) Normalized() string {
	if c.Kind == ChainLigand {
		return strings.TrimSpace(c.Sequence)
	}
	return NormalizeSequence(c.Sequence)
}

// Tokens approximates the token count the model sees for this chain.
func (c Chain) Tokens() int {
	return len([]rune(c.Normalized()))
}

// StructureInput is one complex to predict.
type StructureInput struct {
	Name   string  `json:"name" yaml:"name"`
	Chains []Chain `json:"chains" yaml:"chains"`
}

// Tokens returns the total token count over all chains.
func (s StructureInput) Tokens() int {
	n := 0
	for _, c := range s.Chains {
		n += c.Tokens()
	}
	return n
}

// CanonicalSequences returns "<kind>:<sequence>" per chain, sorted, so that
// chain order never affects identity.
func (s StructureInput) CanonicalSequences() []string {
	out := make([]string, len(s.Chains))
	for i, c := range s.Chains {
		out[i] = string(c.Kind) + ":" + c.Normalized()
	}
	sort.Strings(out)
	return out
}

// NormalizeSequence upper-cases a residue sequence and strips whitespace.
func NormalizeSequence(seq string) string {
	var b strings.Builder
	b.Grow(len(seq))
	for _, r := range seq {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// PredictionRequest is the immutable input to the orchestrator.
// Mode and precision are resolved into a ResolvedRequest, never written back.
type PredictionRequest struct {
	ID                     string           `json:"id,omitempty" yaml:"id"`
	Structures             []StructureInput `json:"structures" yaml:"structures"`
	Constraints            []Constraint     `json:"constraints,omitempty" yaml:"constraints"`
	Seeds                  []int64          `json:"seeds,omitempty" yaml:"seeds"`
	ModeHint               Mode             `json:"mode_hint,omitempty" yaml:"mode_hint"`
	PrecisionHint          string           `json:"precision_hint,omitempty" yaml:"precision_hint"`
	Urgency                Urgency          `json:"urgency,omitempty" yaml:"urgency"`
	AccuracyRequired       float64          `json:"accuracy_required,omitempty" yaml:"accuracy_required"`
	HighConfidenceRequired bool             `json:"high_confidence_required,omitempty" yaml:"high_confidence_required"`
}

// Validate checks the request shape.
func (r *PredictionRequest) Validate() error {
	if len(r.Structures) == 0 {
		return fmt.Errorf("%w: request has no structures", ErrInvalidInput)
	}
	for i, s := range r.Structures {
		if len(s.Chains) == 0 {
			return fmt.Errorf("%w: structure %d has no chains", ErrInvalidInput, i)
		}
		for j, c := range s.Chains {
			if !c.Kind.IsValid() {
				return fmt.Errorf("%w: structure %d chain %d: unknown kind %q", ErrInvalidInput, i, j, c.Kind)
			}
			if c.Normalized() == "" {
				return fmt.Errorf("%w: structure %d chain %d: empty sequence", ErrInvalidInput, i, j)
			}
		}
	}
	if !r.ModeHint.IsValid() {
		return fmt.Errorf("%w: unknown mode hint %q", ErrInvalidInput, r.ModeHint)
	}
	if r.AccuracyRequired < 0 || r.AccuracyRequired > 1 {
		return fmt.Errorf("%w: accuracy_required must be within [0,1]", ErrInvalidInput)
	}
	if _, err := ParsePrecision(r.PrecisionHint); err != nil {
		return err
	}
	return nil
}

// Shape extracts the inputs the mode selector looks at.
func (r *PredictionRequest) Shape() RequestShape {
	shape := RequestShape{
		NumStructures:          len(r.Structures),
		Urgency:                r.Urgency,
		AccuracyRequired:       r.AccuracyRequired,
		HasConstraints:         len(r.Constraints) > 0,
		HighConfidenceRequired: r.HighConfidenceRequired,
		ModeHint:               r.ModeHint,
	}
	for _, s := range r.Structures {
		if t := s.Tokens(); t > shape.MaxTokenCount {
			shape.MaxTokenCount = t
		}
	}
	return shape
}

// EffectiveSeeds returns the seeds to run, defaulting to a single seed 0.
// Duplicates are removed; order is preserved.
func (r *PredictionRequest) EffectiveSeeds() []int64 {
	if len(r.Seeds) == 0 {
		return []int64{0}
	}
	seen := make(map[int64]struct{}, len(r.Seeds))
	out := make([]int64, 0, len(r.Seeds))
	for _, s := range r.Seeds {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// RequestShape is the mode selector's view of a request.
type RequestShape struct {
	NumStructures          int
	MaxTokenCount          int
	Urgency                Urgency
	AccuracyRequired       float64
	HasConstraints         bool
	HighConfidenceRequired bool
	ModeHint               Mode
}

// ModeDecision is the selected mode and the rule that chose it.
type ModeDecision struct {
	Mode Mode   `json:"mode"`
	Rule string `json:"rule"`
}

// ResolvedRequest is the request plus everything derived from it.
type ResolvedRequest struct {
	Request     *PredictionRequest
	Mode        ModeDecision
	Precision   EffectivePrecision
	Constraints ResolvedConstraintSet

	// ConstraintDigest is the hex digest of Constraints.
	ConstraintDigest string
	Seeds            []int64
	ModelVersion     string
}
