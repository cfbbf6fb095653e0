package domain

import "fmt"

// DegradationLevel is a position in the fallback chain.
type DegradationLevel string

// Degradation levels, most faithful first.
const (
	LevelFull          DegradationLevel = "full"
	LevelMiniModel     DegradationLevel = "mini_model"
	LevelEmbeddingOnly DegradationLevel = "embedding_only"
)

// Transition records one fallback step.
type Transition struct {
	From  DegradationLevel `json:"from"`
	To    DegradationLevel `json:"to"`
	Cause string           `json:"cause"`
}

// DegradationState describes how a result was produced. It is scoped to one
// in-flight item and discarded when the item completes.
type DegradationState struct {
	Level         DegradationLevel `json:"level"`
	MiniModel     bool             `json:"mini_model"`
	EmbeddingOnly bool             `json:"embedding_only"`

	// BatchSize is the inference batch size in effect; 0 means model default.
	BatchSize   int          `json:"batch_size,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// FullFidelity returns the starting state.
func FullFidelity() DegradationState {
	return DegradationState{Level: LevelFull}
}

// Degraded reports whether any fallback was applied.
func (s DegradationState) Degraded() bool {
	return len(s.Transitions) > 0
}

// Variant returns the checkpoint variant this state runs on.
func (s DegradationState) Variant() ModelVariant {
	if s.MiniModel {
		return VariantMini
	}
	return VariantFull
}

// Clone returns a copy with its own transition slice.
func (s DegradationState) Clone() DegradationState {
	out := s
	out.Transitions = append([]Transition(nil), s.Transitions...)
	return out
}

// String renders the state for logs.
func (s DegradationState) String() string {
	if !s.Degraded() {
		return string(s.Level)
	}
	return fmt.Sprintf("%s (mini=%t embedding_only=%t batch=%d, %d transition(s))",
		s.Level, s.MiniModel, s.EmbeddingOnly, s.BatchSize, len(s.Transitions))
}

// OutcomeStatus classifies a degradation-controlled run.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeFull     OutcomeStatus = "full"
	OutcomeDegraded OutcomeStatus = "degraded"
	OutcomeFailed   OutcomeStatus = "failed"
)
