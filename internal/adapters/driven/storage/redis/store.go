package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/logger"
)

const scanBatch = 256

// Config holds the connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key written by foldline.
	KeyPrefix string
}

// ConfigFromSettings maps cache settings to a Config.
func ConfigFromSettings(s domain.RedisSettings) Config {
	return Config{Addr: s.Addr, Password: s.Password, DB: s.DB, KeyPrefix: s.KeyPrefix}
}

// Client owns one Redis connection pool shared by every tier backend.
type Client struct {
	rdb    goredis.UniversalClient
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", domain.ErrConfig)
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	logger.Debug("redis: connected to %s (db %d)", cfg.Addr, cfg.DB)
	return NewWithClient(rdb, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb goredis.UniversalClient, prefix string) *Client {
	if prefix == "" {
		prefix = "foldline"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CacheBackend returns the backend for one tier. Closing it leaves the
// client open.
func (c *Client) CacheBackend(tier domain.TierID) driven.CacheBackend {
	return &cacheBackend{client: c, tier: tier, now: time.Now}
}

// record is the stored JSON form of an entry. Times are unix nanoseconds.
type record struct {
	Payload   []byte `json:"payload"`
	Version   string `json:"version,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

func encodeEntry(e domain.CacheEntry) ([]byte, error) {
	r := record{
		Payload:   e.Payload,
		Version:   e.Version,
		CreatedAt: e.CreatedAt.UnixNano(),
	}
	if !e.ExpiresAt.IsZero() {
		r.ExpiresAt = e.ExpiresAt.UnixNano()
	}
	return json.Marshal(r)
}

func decodeEntry(tier domain.TierID, key string, data []byte) (domain.CacheEntry, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decoding %s entry %s: %w", tier, key, err)
	}
	e := domain.CacheEntry{
		Key:       key,
		Tier:      tier,
		Payload:   r.Payload,
		Version:   r.Version,
		CreatedAt: time.Unix(0, r.CreatedAt),
	}
	if r.ExpiresAt != 0 {
		e.ExpiresAt = time.Unix(0, r.ExpiresAt)
	}
	return e, nil
}

// cacheBackend implements driven.CacheBackend for one tier.
type cacheBackend struct {
	client *Client
	tier   domain.TierID
	now    func() time.Time
}

var _ driven.CacheBackend = (*cacheBackend)(nil)

func (b *cacheBackend) redisKey(key string) string {
	return b.client.prefix + ":" + string(b.tier) + ":" + key
}

func (b *cacheBackend) pattern() string {
	return b.client.prefix + ":" + string(b.tier) + ":*"
}

func (b *cacheBackend) cacheKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, b.client.prefix+":"+string(b.tier)+":")
}

// ttl returns the native TTL for an entry; zero means no expiry and a
// negative value means the entry is already expired.
func (b *cacheBackend) ttl(e domain.CacheEntry) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	d := e.ExpiresAt.Sub(b.now())
	if d <= 0 {
		return -1
	}
	return d
}

// Get returns the entry for key. A miss is (zero, false, nil).
func (b *cacheBackend) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	data, err := b.client.rdb.Get(ctx, b.redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("redis GET %s: %w", b.tier, err)
	}
	e, err := decodeEntry(b.tier, key, data)
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return e, true, nil
}

// Put stores the entry with a native TTL. An entry that is already expired
// is removed instead.
func (b *cacheBackend) Put(ctx context.Context, entry domain.CacheEntry) error {
	if entry.Key == "" {
		return domain.ErrInvalidInput
	}
	ttl := b.ttl(entry)
	if ttl < 0 {
		return b.Delete(ctx, entry.Key)
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", b.tier, err)
	}
	if err := b.client.rdb.Set(ctx, b.redisKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", b.tier, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *cacheBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.rdb.Del(ctx, b.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", b.tier, err)
	}
	return nil
}

// Purge scans the tier's keys and removes matching entries. Undecodable
// records are removed as well.
func (b *cacheBackend) Purge(ctx context.Context, filter domain.PurgeFilter) (int, error) {
	removed := 0
	iter := b.client.rdb.Scan(ctx, 0, b.pattern(), scanBatch).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		data, err := b.client.rdb.Get(ctx, rk).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis GET %s: %w", b.tier, err)
		}

		e, err := decodeEntry(b.tier, b.cacheKey(rk), data)
		if err != nil {
			logger.Warn("redis: removing unreadable entry %s: %v", rk, err)
		} else if !filter.Matches(e) {
			continue
		}

		n, err := b.client.rdb.Del(ctx, rk).Result()
		if err != nil {
			return removed, fmt.Errorf("redis DEL %s: %w", b.tier, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis SCAN %s: %w", b.tier, err)
	}
	return removed, nil
}

// Close is a no-op; the Client owns the connection.
func (b *cacheBackend) Close() error {
	return nil
}
