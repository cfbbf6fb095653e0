package driving

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// PredictionService runs prediction requests end to end.
type PredictionService interface {
	// Orchestrate resolves and runs every (structure, seed) item of req.
	// Request-level failures (invalid input, constraint conflicts) return an
	// error; per-item failures are reported on the item's result.
	Orchestrate(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResponse, error)
}
