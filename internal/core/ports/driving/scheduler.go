package driving

import "context"

// Scheduler runs background cache maintenance such as expiry purges and
// stale model-version sweeps.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or an error occurs.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error
}
