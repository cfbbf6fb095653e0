package services

import (
	"github.com/custodia-labs/foldline/internal/core/domain"
)

// PrecisionManager clamps requested precision to per-stage floors.
// It is immutable after construction and safe for concurrent use.
type PrecisionManager struct {
	floors domain.PrecisionPolicy
}

// NewPrecisionManager validates the policy and returns a manager.
// A floor on an unknown stage, an invalid precision, or a critical stage
// floor below its minimum is a *domain.PrecisionConfigError.
func NewPrecisionManager(policy domain.PrecisionPolicy) (*PrecisionManager, error) {
	known := make(map[domain.Stage]bool, len(domain.Stages()))
	for _, s := range domain.Stages() {
		known[s] = true
	}

	for stage, floor := range policy {
		if !known[stage] {
			return nil, &domain.PrecisionConfigError{Stage: stage, Floor: floor, Reason: "unknown stage"}
		}
		if !floor.IsValid() {
			return nil, &domain.PrecisionConfigError{Stage: stage, Floor: floor, Reason: "invalid precision " + floor.String()}
		}
	}

	// A missing critical floor counts as one below the minimum.
	for stage, minimum := range domain.CriticalStageMinimum {
		floor, ok := policy[stage]
		if !ok || floor < minimum {
			return nil, &domain.PrecisionConfigError{Stage: stage, Floor: floor, Minimum: minimum}
		}
	}

	return &PrecisionManager{floors: policy.Clone()}, nil
}

// Floor returns the floor of a stage, PrecisionUnset if it has none.
func (m *PrecisionManager) Floor(stage domain.Stage) domain.Precision {
	return m.floors[stage]
}

// Resolve returns max(requested, floor(stage)). It never lowers precision.
func (m *PrecisionManager) Resolve(stage domain.Stage, requested domain.Precision) domain.Precision {
	return domain.MaxPrecision(requested, m.floors[stage])
}

// ResolveAll resolves every known stage for one requested precision.
func (m *PrecisionManager) ResolveAll(requested domain.Precision) domain.EffectivePrecision {
	stages := make(map[domain.Stage]domain.Precision, len(domain.Stages()))
	for _, s := range domain.Stages() {
		stages[s] = m.Resolve(s, requested)
	}
	return domain.EffectivePrecision{Requested: requested, Stages: stages}
}

// Policy returns a copy of the configured floors.
func (m *PrecisionManager) Policy() domain.PrecisionPolicy {
	return m.floors.Clone()
}
