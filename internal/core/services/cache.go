package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
	"github.com/custodia-labs/foldline/internal/logger"
)

// Ensure CacheHierarchy implements the interface.
var _ driving.CacheAdmin = (*CacheHierarchy)(nil)

// ComputeFunc produces a payload on a cache miss. cacheable=false returns
// the payload to every waiter without storing it.
type ComputeFunc func(ctx context.Context) (payload []byte, cacheable bool, err error)

// CacheTier is one level of the hierarchy: a backend plus its policy.
type CacheTier struct {
	policy  domain.TierPolicy
	backend driven.CacheBackend
	now     func() time.Time
	version func() string

	hits      atomic.Int64
	misses    atomic.Int64
	expired   atomic.Int64
	stores    atomic.Int64
	errors    atomic.Int64
	coalesced atomic.Int64
}

// NewCacheTier creates a tier over backend. The tier tags entries with
// version() when its policy is versioned.
func NewCacheTier(policy domain.TierPolicy, backend driven.CacheBackend, version func() string) *CacheTier {
	return &CacheTier{
		policy:  policy,
		backend: backend,
		now:     time.Now,
		version: version,
	}
}

// ID returns the tier identifier.
func (t *CacheTier) ID() domain.TierID {
	return t.policy.Tier
}

// Policy returns the tier policy.
func (t *CacheTier) Policy() domain.TierPolicy {
	return t.policy
}

// Get returns the live entry for key. Expired entries and entries tagged
// with another model version are misses and are deleted. Backend failures
// are logged and reported as misses.
func (t *CacheTier) Get(ctx context.Context, key string) (domain.CacheEntry, bool) {
	entry, ok, err := t.backend.Get(ctx, key)
	if err != nil {
		t.fail("get", err)
		t.misses.Add(1)
		return domain.CacheEntry{}, false
	}
	if !ok {
		t.misses.Add(1)
		return domain.CacheEntry{}, false
	}

	stale := t.policy.Versioned && entry.Version != t.version()
	if entry.Expired(t.now()) || stale {
		t.expired.Add(1)
		t.misses.Add(1)
		if err := t.backend.Delete(ctx, key); err != nil {
			t.fail("delete", err)
		}
		return domain.CacheEntry{}, false
	}

	t.hits.Add(1)
	return entry.Clone(), true
}

// Put stores payload under key, replacing any previous entry.
func (t *CacheTier) Put(ctx context.Context, key string, payload []byte) error {
	now := t.now()
	entry := domain.CacheEntry{
		Key:       key,
		Tier:      t.policy.Tier,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
	}
	if t.policy.TTL > 0 {
		entry.ExpiresAt = now.Add(t.policy.TTL)
	}
	if t.policy.Versioned {
		entry.Version = t.version()
	}

	if err := t.backend.Put(ctx, entry); err != nil {
		return t.fail("put", err)
	}
	t.stores.Add(1)
	return nil
}

// Delete removes key.
func (t *CacheTier) Delete(ctx context.Context, key string) error {
	if err := t.backend.Delete(ctx, key); err != nil {
		return t.fail("delete", err)
	}
	return nil
}

// Purge removes entries matching filter.
func (t *CacheTier) Purge(ctx context.Context, filter domain.PurgeFilter) (int, error) {
	n, err := t.backend.Purge(ctx, filter)
	if err != nil {
		return n, t.fail("purge", err)
	}
	return n, nil
}

// Stats returns a snapshot of the tier counters.
func (t *CacheTier) Stats() domain.TierStats {
	return domain.TierStats{
		Tier:      t.policy.Tier,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Expired:   t.expired.Load(),
		Stores:    t.stores.Load(),
		Errors:    t.errors.Load(),
		Coalesced: t.coalesced.Load(),
	}
}

func (t *CacheTier) fail(op string, err error) error {
	t.errors.Add(1)
	wrapped := &domain.CacheBackendError{Tier: t.policy.Tier, Op: op, Err: err}
	logger.Warn("%v", wrapped)
	return wrapped
}

// CacheHierarchy composes the four tiers and guarantees at most one
// in-flight computation per tier and key.
type CacheHierarchy struct {
	tiers   map[domain.TierID]*CacheTier
	flights flightGroup
	version atomic.Pointer[string]
	now     func() time.Time
}

// NewCacheHierarchy builds tiers from policies and backends. A tier with no
// backend is disabled: lookups skip it and stores are dropped.
func NewCacheHierarchy(
	policies map[domain.TierID]domain.TierPolicy,
	backends map[domain.TierID]driven.CacheBackend,
	modelVersion string,
) (*CacheHierarchy, error) {
	h := &CacheHierarchy{
		tiers: make(map[domain.TierID]*CacheTier, len(backends)),
		now:   time.Now,
	}
	h.version.Store(&modelVersion)

	for id, backend := range backends {
		if !id.IsValid() {
			return nil, fmt.Errorf("%w: unknown cache tier %q", domain.ErrConfig, id)
		}
		if backend == nil {
			continue
		}
		policy, ok := policies[id]
		if !ok {
			return nil, fmt.Errorf("%w: no policy for cache tier %s", domain.ErrConfig, id)
		}
		policy.Tier = id
		h.tiers[id] = NewCacheTier(policy, backend, h.ModelVersion)
	}
	return h, nil
}

// SetClock replaces the time source of the hierarchy and its tiers.
func (h *CacheHierarchy) SetClock(now func() time.Time) {
	h.now = now
	for _, t := range h.tiers {
		t.now = now
	}
}

// SetModelVersion changes the version new entries are tagged with.
// Entries tagged with the previous version become misses immediately.
func (h *CacheHierarchy) SetModelVersion(v string) {
	h.version.Store(&v)
}

// ModelVersion returns the version entries are tagged with.
func (h *CacheHierarchy) ModelVersion() string {
	return *h.version.Load()
}

// Tier returns the tier, or nil if it is disabled.
func (h *CacheHierarchy) Tier(id domain.TierID) *CacheTier {
	return h.tiers[id]
}

// Lookup probes the requested tiers in the fixed tier order and returns
// the first live entry. A hit never backfills other tiers.
func (h *CacheHierarchy) Lookup(ctx context.Context, tiers []domain.TierID, key domain.CacheKey) (*domain.CacheEntry, bool) {
	want := make(map[domain.TierID]bool, len(tiers))
	for _, id := range tiers {
		want[id] = true
	}

	for _, id := range domain.TierOrder() {
		t := h.tiers[id]
		if !want[id] || t == nil {
			continue
		}
		if entry, ok := t.Get(ctx, key.String()); ok {
			logger.Debug("Cache hit: tier=%s key=%s", id, key.Short())
			return &entry, true
		}
	}
	return nil, false
}

// Store writes payload to one tier with the tier's TTL. The error is a
// *domain.CacheBackendError; callers treat caching as best-effort.
func (h *CacheHierarchy) Store(ctx context.Context, tier domain.TierID, key domain.CacheKey, payload []byte) error {
	t := h.tiers[tier]
	if t == nil {
		return nil
	}
	return t.Put(ctx, key.String(), payload)
}

// Fetch returns the cached payload for key, or computes it exactly once
// across concurrent callers and stores it when cacheable.
func (h *CacheHierarchy) Fetch(
	ctx context.Context, tier domain.TierID, key domain.CacheKey, compute ComputeFunc,
) ([]byte, domain.FetchSource, error) {
	t := h.tiers[tier]
	if t == nil {
		payload, _, err := compute(ctx)
		return payload, domain.FetchComputed, err
	}

	k := key.String()
	if entry, ok := t.Get(ctx, k); ok {
		return entry.Payload, domain.FetchCached, nil
	}

	var recheckHit bool
	val, shared, err := h.flights.Do(ctx, string(tier)+"/"+k, func(fctx context.Context) ([]byte, error) {
		// Another flight may have stored the entry between our miss and now.
		if entry, ok := t.Get(fctx, k); ok {
			recheckHit = true
			return entry.Payload, nil
		}
		payload, cacheable, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			if err := t.Put(fctx, k, payload); err != nil {
				logger.Debug("Continuing without cache write for %s/%s", tier, key.Short())
			}
		}
		return payload, nil
	})

	source := domain.FetchComputed
	if shared {
		t.coalesced.Add(1)
		source = domain.FetchShared
	}
	if err != nil {
		return nil, source, err
	}
	// recheckHit is only read once our own flight has finished.
	if !shared && recheckHit {
		source = domain.FetchCached
	}
	return append([]byte(nil), val...), source, nil
}

// Invalidate removes a hex-encoded key from one tier.
func (h *CacheHierarchy) Invalidate(ctx context.Context, tier domain.TierID, key string) error {
	if !tier.IsValid() {
		return fmt.Errorf("%w: unknown cache tier %q", domain.ErrInvalidInput, tier)
	}
	if _, err := domain.ParseCacheKey(key); err != nil {
		return err
	}
	t := h.tiers[tier]
	if t == nil {
		return nil
	}
	return t.Delete(ctx, key)
}

// PurgeExpired removes expired entries from every tier.
func (h *CacheHierarchy) PurgeExpired(ctx context.Context) (int, error) {
	return h.purge(ctx, func(*CacheTier) (domain.PurgeFilter, bool) {
		return domain.PurgeFilter{ExpiredAt: h.now()}, true
	})
}

// InvalidateVersion removes versioned entries tagged with anything but keep.
func (h *CacheHierarchy) InvalidateVersion(ctx context.Context, keep string) (int, error) {
	if keep == "" {
		return 0, fmt.Errorf("%w: model version is required", domain.ErrInvalidInput)
	}
	return h.purge(ctx, func(t *CacheTier) (domain.PurgeFilter, bool) {
		return domain.PurgeFilter{KeepVersion: keep}, t.policy.Versioned
	})
}

func (h *CacheHierarchy) purge(ctx context.Context, filterFor func(*CacheTier) (domain.PurgeFilter, bool)) (int, error) {
	var total int
	var errs []error
	for _, id := range domain.TierOrder() {
		t := h.tiers[id]
		if t == nil {
			continue
		}
		filter, ok := filterFor(t)
		if !ok {
			continue
		}
		n, err := t.Purge(ctx, filter)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Stats returns the counters of every enabled tier in tier order.
func (h *CacheHierarchy) Stats() []domain.TierStats {
	stats := make([]domain.TierStats, 0, len(h.tiers))
	for _, id := range domain.TierOrder() {
		if t := h.tiers[id]; t != nil {
			stats = append(stats, t.Stats())
		}
	}
	return stats
}

// Close closes every backend once, even when tiers share one.
func (h *CacheHierarchy) Close() error {
	seen := make(map[driven.CacheBackend]bool, len(h.tiers))
	var errs []error
	for _, id := range domain.TierOrder() {
		t := h.tiers[id]
		if t == nil || seen[t.backend] {
			continue
		}
		seen[t.backend] = true
		if err := t.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
