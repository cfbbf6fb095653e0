package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent orchestration failures.
// Typed errors below wrap these sentinels so callers can match with errors.Is.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig indicates an inconsistent configuration. Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// Constraint Errors.

	// ErrConstraintConflict indicates irreconcilable hard constraints.
	// Fatal for the request; the resolver never picks a winner.
	ErrConstraintConflict = errors.New("constraint conflict")

	// ErrConstraintViolation indicates a generated structure broke a hard
	// constraint even after the re-weighted retry.
	ErrConstraintViolation = errors.New("constraint violation")

	// Execution Errors. These drive the degradation chain.

	// ErrGPUMemory indicates the predictor ran out of accelerator memory.
	ErrGPUMemory = errors.New("gpu memory exhausted")

	// ErrMSATimeout indicates the alignment search did not finish in time.
	ErrMSATimeout = errors.New("msa search timed out")

	// ErrPredictionUnavailable indicates the fallback chain was exhausted.
	ErrPredictionUnavailable = errors.New("prediction unavailable")

	// ErrCacheBackend indicates a cache backend failure.
	// Always recovered locally; caching is best-effort.
	ErrCacheBackend = errors.New("cache backend error")
)

// PrecisionConfigError reports a stage floor set below its required minimum.
type PrecisionConfigError struct {
	Stage   Stage
	Floor   Precision
	Minimum Precision
	Reason  string
}

func (e *PrecisionConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("precision config: stage %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("precision config: stage %s floor %s is below required %s",
		e.Stage, e.Floor, e.Minimum)
}

// Unwrap allows errors.Is(err, ErrConfig).
func (e *PrecisionConfigError) Unwrap() error { return ErrConfig }

// ConstraintConflictError names the target and the incompatible hard values.
type ConstraintConflictError struct {
	Target string
	Values []float64
}

func (e *ConstraintConflictError) Error() string {
	vals := make([]string, len(e.Values))
	for i, v := range e.Values {
		vals[i] = fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("constraint conflict: hard constraints on %s disagree (%s)",
		e.Target, strings.Join(vals, " vs "))
}

// Unwrap allows errors.Is(err, ErrConstraintConflict).
func (e *ConstraintConflictError) Unwrap() error { return ErrConstraintConflict }

// ConstraintViolationError lists the hard constraints a structure broke.
type ConstraintViolationError struct {
	Violated []ResolvedConstraint
	Attempts int
}

func (e *ConstraintViolationError) Error() string {
	targets := make([]string, len(e.Violated))
	for i := range e.Violated {
		targets[i] = e.Violated[i].Target
	}
	return fmt.Sprintf("constraint violation after %d attempts: %s",
		e.Attempts, strings.Join(targets, ", "))
}

// Unwrap allows errors.Is(err, ErrConstraintViolation).
func (e *ConstraintViolationError) Unwrap() error { return ErrConstraintViolation }

// PredictionUnavailableError is returned once no fallback remains.
// It carries the triggering cause and the degradation path taken.
type PredictionUnavailableError struct {
	Cause error
	State DegradationState
}

func (e *PredictionUnavailableError) Error() string {
	return fmt.Sprintf("prediction unavailable at %s after %d fallback(s): %v",
		e.State.Level, len(e.State.Transitions), e.Cause)
}

// Unwrap matches both ErrPredictionUnavailable and the original cause.
func (e *PredictionUnavailableError) Unwrap() []error {
	return []error{ErrPredictionUnavailable, e.Cause}
}

// CacheBackendError describes a failed cache operation on one tier.
type CacheBackendError struct {
	Tier TierID
	Op   string
	Err  error
}

func (e *CacheBackendError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Tier, e.Op, e.Err)
}

// Unwrap matches both ErrCacheBackend and the backend error.
func (e *CacheBackendError) Unwrap() []error {
	return []error{ErrCacheBackend, e.Err}
}

// ErrorClass returns the name of the taxonomy class err belongs to.
// Used in response metadata so callers never see an opaque failure.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrConstraintConflict):
		return "ConstraintConflict"
	case errors.Is(err, ErrConstraintViolation):
		return "ConstraintViolation"
	case errors.Is(err, ErrPredictionUnavailable):
		return "PredictionUnavailable"
	case errors.Is(err, ErrGPUMemory):
		return "GPUMemoryError"
	case errors.Is(err, ErrMSATimeout):
		return "MSATimeoutError"
	case errors.Is(err, ErrCacheBackend):
		return "CacheBackendError"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	default:
		return "Internal"
	}
}
