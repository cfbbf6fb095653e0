package driven

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// Predictor runs structure inference.
//
// Implementations must report accelerator memory exhaustion by wrapping
// domain.ErrGPUMemory so the degradation chain can recognise it.
type Predictor interface {
	Infer(
		ctx context.Context,
		features domain.Features,
		constraints domain.ResolvedConstraintSet,
		precision domain.EffectivePrecision,
		config domain.ModelConfig,
		seed int64,
	) (domain.Prediction, error)
}

// AlignmentService searches sequence databases for an MSA.
//
// Implementations must report a search that ran out of time by wrapping
// domain.ErrMSATimeout.
type AlignmentService interface {
	Search(ctx context.Context, sequence string) (domain.Alignment, error)
}

// WeightsRegistry resolves the checkpoint for a model version and variant.
// Returns an error wrapping domain.ErrNotFound if no such checkpoint exists.
type WeightsRegistry interface {
	Resolve(ctx context.Context, modelVersion string, variant domain.ModelVariant) (domain.WeightsManifest, error)
}

// ConstraintChecker validates a generated structure against hard constraints.
// It returns the constraints the structure violates; an empty result passes.
type ConstraintChecker interface {
	Check(ctx context.Context, structure domain.Structure, hard []domain.ResolvedConstraint) ([]domain.ResolvedConstraint, error)
}
