// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Predictor: Runs structure inference on the model service
//   - AlignmentService: Runs MSA search for a sequence
//   - CacheBackend: Stores entries for one cache tier (memory, SQLite, Redis, S3)
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the orchestrator degrades gracefully:
//
//   - WeightsRegistry: Resolves checkpoints per model version. Without it the
//     weights tier is skipped and the predictor uses its own default weights.
//   - ConstraintChecker: Validates hard constraints on generated structures.
//     Without it hard constraints are passed to the predictor but not gated.
//   - SchedulerStore: Persists maintenance task state. Without it the
//     scheduler keeps state in memory only.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
