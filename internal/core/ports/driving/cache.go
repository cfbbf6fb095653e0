package driving

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// CacheAdmin manages the cache hierarchy.
type CacheAdmin interface {
	// Stats returns per-tier counters in tier order.
	Stats() []domain.TierStats

	// Invalidate removes one key from a tier.
	Invalidate(ctx context.Context, tier domain.TierID, key string) error

	// PurgeExpired removes expired entries from every tier.
	PurgeExpired(ctx context.Context) (int, error)

	// InvalidateVersion removes versioned entries not tagged with keep.
	InvalidateVersion(ctx context.Context, keep string) (int, error)
}
