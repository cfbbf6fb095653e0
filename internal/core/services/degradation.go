package services

import (
	"context"
	"errors"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/logger"
)

// FallbackStep substitutes a cheaper execution path for one failure class.
type FallbackStep struct {
	// Name is used in logs.
	Name string

	// Trigger is the sentinel the failure must match with errors.Is.
	Trigger error

	// Apply returns the state the retry runs with.
	Apply func(domain.DegradationState) domain.DegradationState
}

// DefaultFallbackChain returns the shipped chain: GPU memory exhaustion
// moves to the mini model with a reduced batch size, and an MSA timeout
// moves to embedding-only features.
func DefaultFallbackChain(miniBatchSize int) []FallbackStep {
	return []FallbackStep{
		{
			Name:    "mini-model",
			Trigger: domain.ErrGPUMemory,
			Apply: func(s domain.DegradationState) domain.DegradationState {
				s.MiniModel = true
				s.BatchSize = miniBatchSize
				return s
			},
		},
		{
			Name:    "embedding-only",
			Trigger: domain.ErrMSATimeout,
			Apply: func(s domain.DegradationState) domain.DegradationState {
				s.EmbeddingOnly = true
				return s
			},
		},
	}
}

// DegradationController retries an operation down an ordered fallback chain.
// It holds no per-request state and is safe for concurrent use.
type DegradationController struct {
	chain []FallbackStep
}

// NewDegradationController creates a controller for chain.
func NewDegradationController(chain []FallbackStep) *DegradationController {
	return &DegradationController{chain: append([]FallbackStep(nil), chain...)}
}

// Operation is the unit of work run under a DegradationController. It must
// be safe to run again from scratch with a different state.
type Operation[T any] func(ctx context.Context, state domain.DegradationState) (T, error)

// Outcome is the typed result of a controlled run.
type Outcome[T any] struct {
	Value  T
	State  domain.DegradationState
	Status domain.OutcomeStatus
	Err    error
}

// OK reports whether the run produced a value.
func (o Outcome[T]) OK() bool {
	return o.Status != domain.OutcomeFailed
}

// RunWithFallback runs op, and on a failure matching an unused chain step
// reruns the whole operation with that step applied. Each step is used at
// most once; a repeated failure class ends in a
// *domain.PredictionUnavailableError. Errors no step recognises are
// returned unchanged.
func RunWithFallback[T any](
	ctx context.Context, c *DegradationController, initial domain.DegradationState, op Operation[T],
) Outcome[T] {
	state := initial.Clone()
	if state.Level == "" {
		state.Level = domain.LevelFull
	}
	used := make([]bool, len(c.chain))

	for {
		if err := ctx.Err(); err != nil {
			return Outcome[T]{State: state, Status: domain.OutcomeFailed, Err: err}
		}

		value, err := op(ctx, state)
		if err == nil {
			status := domain.OutcomeFull
			if state.Degraded() {
				status = domain.OutcomeDegraded
			}
			return Outcome[T]{Value: value, State: state, Status: status}
		}

		idx := c.match(err)
		if idx < 0 || errors.Is(err, context.Canceled) {
			return Outcome[T]{State: state, Status: domain.OutcomeFailed, Err: err}
		}
		if used[idx] {
			logger.Warn("Fallback %s already used, giving up: %v", c.chain[idx].Name, err)
			return Outcome[T]{
				State:  state,
				Status: domain.OutcomeFailed,
				Err:    &domain.PredictionUnavailableError{Cause: err, State: state.Clone()},
			}
		}
		used[idx] = true

		next := c.chain[idx].Apply(state.Clone())
		next.Level = levelOf(next)
		next.Transitions = append(next.Transitions, domain.Transition{
			From:  state.Level,
			To:    next.Level,
			Cause: domain.ErrorClass(err),
		})
		logger.Info("Degrading %s -> %s (%s): %v", state.Level, next.Level, c.chain[idx].Name, err)
		state = next
	}
}

func (c *DegradationController) match(err error) int {
	for i, step := range c.chain {
		if errors.Is(err, step.Trigger) {
			return i
		}
	}
	return -1
}

func levelOf(s domain.DegradationState) domain.DegradationLevel {
	switch {
	case s.EmbeddingOnly:
		return domain.LevelEmbeddingOnly
	case s.MiniModel:
		return domain.LevelMiniModel
	default:
		return domain.LevelFull
	}
}
