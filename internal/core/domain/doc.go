// Package domain defines the core entities of the foldline orchestration layer.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - PredictionRequest: An immutable batch of structures to predict
//   - Constraint: A scoped soft or hard directive on the generated structure
//   - Precision: Ordered numeric precision levels and stage policies
//   - CacheKey / CacheEntry: Deterministic keys and tier-owned entries
//   - DegradationState: The fallback-chain position of an in-flight item
//   - Settings: Immutable orchestration configuration
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
