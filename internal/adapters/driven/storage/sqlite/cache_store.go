package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
)

// cacheBackend implements driven.CacheBackend for one tier over the shared
// cache_entries table. Times are stored as unix nanoseconds.
type cacheBackend struct {
	store *Store
	tier  domain.TierID
}

var _ driven.CacheBackend = (*cacheBackend)(nil)

// Get returns the entry for key. A miss is (zero, false, nil).
func (b *cacheBackend) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	var (
		payload   []byte
		version   string
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := b.store.db.QueryRowContext(ctx, `
		SELECT payload, version, created_at, expires_at
		FROM cache_entries
		WHERE tier = ? AND key = ?
	`, string(b.tier), key).Scan(&payload, &version, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("reading %s entry: %w", b.tier, err)
	}

	entry := domain.CacheEntry{
		Key:       key,
		Tier:      b.tier,
		Payload:   payload,
		Version:   version,
		CreatedAt: time.Unix(0, createdAt),
	}
	if expiresAt.Valid {
		entry.ExpiresAt = time.Unix(0, expiresAt.Int64)
	}
	return entry, true, nil
}

// Put upserts the entry.
func (b *cacheBackend) Put(ctx context.Context, entry domain.CacheEntry) error {
	if entry.Key == "" {
		return domain.ErrInvalidInput
	}

	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixNano()
	}
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}

	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO cache_entries (tier, key, payload, version, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tier, key) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, string(b.tier), entry.Key, payload, entry.Version, entry.CreatedAt.UnixNano(), expiresAt)
	if err != nil {
		return fmt.Errorf("writing %s entry: %w", b.tier, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *cacheBackend) Delete(ctx context.Context, key string) error {
	_, err := b.store.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE tier = ? AND key = ?`, string(b.tier), key)
	if err != nil {
		return fmt.Errorf("deleting %s entry: %w", b.tier, err)
	}
	return nil
}

// Purge removes expired and version-stale entries of this tier.
func (b *cacheBackend) Purge(ctx context.Context, filter domain.PurgeFilter) (int, error) {
	total := 0

	if !filter.ExpiredAt.IsZero() {
		n, err := b.exec(ctx, `
			DELETE FROM cache_entries
			WHERE tier = ? AND expires_at IS NOT NULL AND expires_at <= ?
		`, string(b.tier), filter.ExpiredAt.UnixNano())
		if err != nil {
			return total, fmt.Errorf("purging expired %s entries: %w", b.tier, err)
		}
		total += n
	}

	if filter.KeepVersion != "" {
		n, err := b.exec(ctx, `
			DELETE FROM cache_entries
			WHERE tier = ? AND version != '' AND version != ?
		`, string(b.tier), filter.KeepVersion)
		if err != nil {
			return total, fmt.Errorf("purging stale %s entries: %w", b.tier, err)
		}
		total += n
	}

	return total, nil
}

// Close is a no-op; the owning Store closes the connection.
func (b *cacheBackend) Close() error {
	return nil
}

// Count returns the number of entries held for this tier.
func (b *cacheBackend) Count(ctx context.Context) (int, error) {
	var n int
	err := b.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE tier = ?`, string(b.tier)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s entries: %w", b.tier, err)
	}
	return n, nil
}

func (b *cacheBackend) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := b.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
