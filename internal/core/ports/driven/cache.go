package driven

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// CacheBackend is the persistence substrate of one cache tier.
//
// Backends store entries verbatim; expiry and versioning are decided by the
// tier. A backend may drop expired entries early (e.g. Redis native TTL) but
// must never return a different payload than the last Put for a key.
// Implementations must be safe for concurrent use.
type CacheBackend interface {
	// Get returns the entry for key. A miss is (zero, false, nil).
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)

	// Put stores the entry, replacing any existing entry for the same key.
	Put(ctx context.Context, entry domain.CacheEntry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Purge removes every entry matching the filter and returns the count.
	Purge(ctx context.Context, filter domain.PurgeFilter) (int, error)

	// Close releases backend resources.
	Close() error
}
