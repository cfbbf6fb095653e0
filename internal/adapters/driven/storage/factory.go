// Package storage provides factory functions for creating cache backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/foldline/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/foldline/internal/adapters/driven/storage/objectstore"
	"github.com/custodia-labs/foldline/internal/adapters/driven/storage/redis"
	"github.com/custodia-labs/foldline/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/logger"
)

// connectTimeout bounds connectivity checks for remote backends.
const connectTimeout = 5 * time.Second

// InitResult holds the backends built for every tier.
type InitResult struct {
	Backends map[domain.TierID]driven.CacheBackend
	Warnings []string // Non-fatal issues that caused fallback.
	FellBack bool     // True if any tier fell back to memory.

	dataDir string
	sqlite  *sqlite.Store
	redis   *redis.Client
	objects *objectstore.Storage
}

// SQLite returns the local store, opening it on first use.
func (r *InitResult) SQLite() (*sqlite.Store, error) {
	if r.sqlite != nil {
		return r.sqlite, nil
	}
	s, err := sqlite.NewStore(r.dataDir)
	if err != nil {
		return nil, err
	}
	r.sqlite = s
	return s, nil
}

// Close releases the shared connections. Backends handed out by the result
// must not be used afterwards.
func (r *InitResult) Close() error {
	var errs []error
	for _, b := range r.Backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.objects != nil {
		errs = append(errs, r.objects.Close())
	}
	if r.sqlite != nil {
		errs = append(errs, r.sqlite.Close())
	}
	return errors.Join(errs...)
}

// CreateBackends builds one backend per tier from the cache settings.
//
// A remote backend that cannot be reached falls back to memory with a
// warning so a prediction run never fails on cache configuration. A local
// SQLite failure is returned as an error.
func CreateBackends(ctx context.Context, cfg domain.CacheSettings, dataDir string) (*InitResult, error) {
	res := &InitResult{
		Backends: make(map[domain.TierID]driven.CacheBackend),
		dataDir:  dataDir,
	}
	var redisErr, objectsErr error

	for _, tier := range domain.TierOrder() {
		kind := cfg.BackendFor(tier)
		logger.Debug("cache: tier %s uses %s backend", tier, kind)

		switch kind {
		case domain.BackendMemory:
			res.Backends[tier] = memory.NewCacheStore()

		case domain.BackendSQLite:
			store, err := res.SQLite()
			if err != nil {
				res.Close()
				return nil, fmt.Errorf("opening sqlite cache: %w", err)
			}
			res.Backends[tier] = store.CacheBackend(tier)

		case domain.BackendRedis:
			if res.redis == nil && redisErr == nil {
				res.redis, redisErr = connectRedis(ctx, cfg.Redis)
			}
			if redisErr != nil {
				res.fallback(tier, kind, redisErr)
				continue
			}
			res.Backends[tier] = res.redis.CacheBackend(tier)

		case domain.BackendObjectStore:
			if res.objects == nil && objectsErr == nil {
				res.objects, objectsErr = connectObjectStore(ctx, cfg.ObjectStore)
			}
			if objectsErr != nil {
				res.fallback(tier, kind, objectsErr)
				continue
			}
			res.Backends[tier] = res.objects.CacheBackend(tier)

		default:
			res.Close()
			return nil, fmt.Errorf("%w: unsupported cache backend %q for tier %s", domain.ErrConfig, kind, tier)
		}
	}

	return res, nil
}

func (r *InitResult) fallback(tier domain.TierID, kind domain.BackendKind, cause error) {
	msg := fmt.Sprintf("%s backend unavailable for tier %s, using memory: %v", kind, tier, cause)
	logger.Warn("cache: %s", msg)
	r.Warnings = append(r.Warnings, msg)
	r.FellBack = true
	r.Backends[tier] = memory.NewCacheStore()
}

func connectRedis(ctx context.Context, s domain.RedisSettings) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return redis.New(ctx, redis.ConfigFromSettings(s))
}

func connectObjectStore(ctx context.Context, s domain.ObjectStoreSettings) (*objectstore.Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return objectstore.New(ctx, objectstore.ConfigFromSettings(s))
}
