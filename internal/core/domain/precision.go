package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Precision is a numeric precision level. Values are ordered so that
// comparison operators express "less precise than".
type Precision int

// Precision levels, lowest first.
const (
	PrecisionUnset Precision = iota
	PrecisionBF16
	PrecisionFP16
	PrecisionFP32
	PrecisionFP64
)

// String returns the conventional short name.
func (p Precision) String() string {
	switch p {
	case PrecisionBF16:
		return "bf16"
	case PrecisionFP16:
		return "fp16"
	case PrecisionFP32:
		return "fp32"
	case PrecisionFP64:
		return "fp64"
	case PrecisionUnset:
		return "unset"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// IsValid returns true for bf16 through fp64.
func (p Precision) IsValid() bool {
	return p >= PrecisionBF16 && p <= PrecisionFP64
}

// MarshalText encodes the precision by name.
func (p Precision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a precision name. Empty input yields PrecisionUnset.
func (p *Precision) UnmarshalText(b []byte) error {
	parsed, err := ParsePrecision(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePrecision converts a name such as "fp32" or "bfloat16" into a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PrecisionUnset, nil
	case "bf16", "bfloat16":
		return PrecisionBF16, nil
	case "fp16", "float16", "half":
		return PrecisionFP16, nil
	case "fp32", "float32", "single":
		return PrecisionFP32, nil
	case "fp64", "float64", "double":
		return PrecisionFP64, nil
	default:
		return PrecisionUnset, fmt.Errorf("%w: unknown precision %q", ErrInvalidInput, s)
	}
}

// MaxPrecision returns the more precise of a and b.
func MaxPrecision(a, b Precision) Precision {
	if a > b {
		return a
	}
	return b
}

// Stage names a pipeline stage that runs at its own precision.
type Stage string

// Pipeline stages.
const (
	StageInputEmbedding    Stage = "input_embedding"
	StageMSAModule         Stage = "msa_module"
	StagePairformer        Stage = "pairformer"
	StageDiffusionCritical Stage = "diffusion_critical"
	StageConfidenceHead    Stage = "confidence_head"
)

// Stages lists every known stage in execution order.
func Stages() []Stage {
	return []Stage{
		StageInputEmbedding,
		StageMSAModule,
		StagePairformer,
		StageDiffusionCritical,
		StageConfidenceHead,
	}
}

// CriticalStageMinimum holds stages whose floor may never be configured
// below the given precision.
var CriticalStageMinimum = map[Stage]Precision{
	StageDiffusionCritical: PrecisionFP32,
	StageConfidenceHead:    PrecisionFP32,
}

// PrecisionPolicy maps a stage to its precision floor.
// Stages absent from the map have no floor.
type PrecisionPolicy map[Stage]Precision

// DefaultPrecisionPolicy returns the shipped floors.
func DefaultPrecisionPolicy() PrecisionPolicy {
	return PrecisionPolicy{
		StageInputEmbedding:    PrecisionBF16,
		StageMSAModule:         PrecisionBF16,
		StagePairformer:        PrecisionBF16,
		StageDiffusionCritical: PrecisionFP32,
		StageConfidenceHead:    PrecisionFP32,
	}
}

// Clone returns an independent copy.
func (p PrecisionPolicy) Clone() PrecisionPolicy {
	out := make(PrecisionPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// EffectivePrecision is the per-stage precision an inference call runs at.
type EffectivePrecision struct {
	// Requested is the caller's (or mode default) precision before clamping.
	Requested Precision `json:"requested"`

	// Stages maps every known stage to its clamped precision.
	Stages map[Stage]Precision `json:"stages"`
}

// For returns the precision for a stage, falling back to Requested.
func (e EffectivePrecision) For(stage Stage) Precision {
	if p, ok := e.Stages[stage]; ok {
		return p
	}
	return e.Requested
}

// String renders the per-stage assignment in stage-name order.
func (e EffectivePrecision) String() string {
	names := make([]string, 0, len(e.Stages))
	for s := range e.Stages {
		names = append(names, string(s))
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + e.Stages[Stage(n)].String()
	}
	return strings.Join(parts, ",")
}
