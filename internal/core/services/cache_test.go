package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestHierarchy(t *testing.T) (*CacheHierarchy, map[domain.TierID]*mockCacheBackend, *fakeClock) {
	t.Helper()
	backends, mocks := allTierBackends()
	h, err := NewCacheHierarchy(domain.DefaultTierPolicies(), backends, "v1")
	require.NoError(t, err)
	clock := newFakeClock()
	h.SetClock(clock.Now)
	return h, mocks, clock
}

func testKey(t *testing.T, seed int64) domain.CacheKey {
	t.Helper()
	k, err := ResultKey(testStructure(), testResolved(t), seed)
	require.NoError(t, err)
	return k
}

func constCompute(payload string, calls *atomic.Int64) ComputeFunc {
	return func(context.Context) ([]byte, bool, error) {
		calls.Add(1)
		return []byte(payload), true, nil
	}
}

// waitForWaiters blocks until the flight for key has n waiters.
func waitForWaiters(t *testing.T, h *CacheHierarchy, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.flights.mu.Lock()
		defer h.flights.mu.Unlock()
		c, ok := h.flights.calls[key]
		return ok && c.waiters == n
	}, 2*time.Second, time.Millisecond)
}

func TestNewCacheHierarchy_UnknownTier(t *testing.T) {
	_, err := NewCacheHierarchy(domain.DefaultTierPolicies(),
		map[domain.TierID]driven.CacheBackend{"l9-tier": newMockCacheBackend()}, "v1")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestNewCacheHierarchy_NilBackendDisablesTier(t *testing.T) {
	h, err := NewCacheHierarchy(domain.DefaultTierPolicies(),
		map[domain.TierID]driven.CacheBackend{
			domain.TierResult:  newMockCacheBackend(),
			domain.TierFeature: nil,
		}, "v1")
	require.NoError(t, err)

	assert.NotNil(t, h.Tier(domain.TierResult))
	assert.Nil(t, h.Tier(domain.TierFeature))
	assert.Len(t, h.Stats(), 1)
}

func TestCacheHierarchy_TTL(t *testing.T) {
	h, _, clock := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)

	require.NoError(t, h.Store(ctx, domain.TierResult, key, []byte("pdb")))

	clock.Advance(14*time.Minute + 59*time.Second)
	entry, ok := h.Lookup(ctx, []domain.TierID{domain.TierResult}, key)
	require.True(t, ok)
	assert.Equal(t, []byte("pdb"), entry.Payload)

	clock.Advance(2 * time.Second)
	_, ok = h.Lookup(ctx, []domain.TierID{domain.TierResult}, key)
	assert.False(t, ok)

	stats := h.Tier(domain.TierResult).Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Expired)
}

func TestCacheHierarchy_AlignmentTierPersistent(t *testing.T) {
	h, _, clock := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)

	require.NoError(t, h.Store(ctx, domain.TierAlignment, key, []byte("msa")))
	clock.Advance(365 * 24 * time.Hour)
	h.SetModelVersion("v9")

	_, ok := h.Lookup(ctx, []domain.TierID{domain.TierAlignment}, key)
	assert.True(t, ok)
}

func TestCacheHierarchy_StaleVersionIsMiss(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)

	require.NoError(t, h.Store(ctx, domain.TierFeature, key, []byte("feat")))
	h.SetModelVersion("v2")

	_, ok := h.Lookup(ctx, []domain.TierID{domain.TierFeature}, key)
	assert.False(t, ok)
	assert.Equal(t, 0, mocks[domain.TierFeature].len(), "stale entry is deleted")
}

func TestCacheHierarchy_LookupTierOrder(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)

	require.NoError(t, h.Store(ctx, domain.TierFeature, key, []byte("l2")))
	require.NoError(t, h.Store(ctx, domain.TierResult, key, []byte("l1")))

	entry, ok := h.Lookup(ctx, []domain.TierID{domain.TierFeature, domain.TierResult}, key)
	require.True(t, ok)
	assert.Equal(t, domain.TierResult, entry.Tier)
}

func TestCacheHierarchy_StoreIdempotent(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)

	require.NoError(t, h.Store(ctx, domain.TierResult, key, []byte("same")))
	require.NoError(t, h.Store(ctx, domain.TierResult, key, []byte("same")))

	assert.Equal(t, 1, mocks[domain.TierResult].len())
	entry, ok := h.Lookup(ctx, []domain.TierID{domain.TierResult}, key)
	require.True(t, ok)
	assert.Equal(t, []byte("same"), entry.Payload)
}

func TestCacheHierarchy_Fetch_ComputesThenCaches(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)
	var calls atomic.Int64

	payload, source, err := h.Fetch(ctx, domain.TierResult, key, constCompute("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), payload)
	assert.Equal(t, domain.FetchComputed, source)

	payload, source, err = h.Fetch(ctx, domain.TierResult, key, constCompute("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), payload)
	assert.Equal(t, domain.FetchCached, source)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCacheHierarchy_Fetch_NotCacheable(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	key := testKey(t, 0)

	payload, _, err := h.Fetch(context.Background(), domain.TierResult, key,
		func(context.Context) ([]byte, bool, error) { return []byte("degraded"), false, nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("degraded"), payload)
	assert.Equal(t, 0, mocks[domain.TierResult].len())
}

func TestCacheHierarchy_Fetch_ErrorNotCached(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	key := testKey(t, 0)
	boom := errors.New("boom")

	_, _, err := h.Fetch(context.Background(), domain.TierResult, key,
		func(context.Context) ([]byte, bool, error) { return nil, true, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mocks[domain.TierResult].len())
	assert.Equal(t, 0, h.flights.InFlight())
}

func TestCacheHierarchy_Fetch_DisabledTierComputes(t *testing.T) {
	h, err := NewCacheHierarchy(domain.DefaultTierPolicies(), nil, "v1")
	require.NoError(t, err)
	var calls atomic.Int64

	for i := 0; i < 2; i++ {
		_, source, err := h.Fetch(context.Background(), domain.TierResult, testKey(t, 0), constCompute("x", &calls))
		require.NoError(t, err)
		assert.Equal(t, domain.FetchComputed, source)
	}
	assert.Equal(t, int64(2), calls.Load())
}

func TestCacheHierarchy_Fetch_SingleFlight(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	key := testKey(t, 0)
	flightKey := string(domain.TierResult) + "/" + key.String()

	const callers = 20
	release := make(chan struct{})
	var calls atomic.Int64
	compute := func(context.Context) ([]byte, bool, error) {
		calls.Add(1)
		<-release
		return []byte("structure"), true, nil
	}

	var wg sync.WaitGroup
	payloads := make([][]byte, callers)
	sources := make([]domain.FetchSource, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payloads[i], sources[i], errs[i] = h.Fetch(context.Background(), domain.TierResult, key, compute)
		}()
	}

	waitForWaiters(t, h, flightKey, callers)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	var computed, shared int
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("structure"), payloads[i])
		switch sources[i] {
		case domain.FetchComputed:
			computed++
		case domain.FetchShared:
			shared++
		}
	}
	assert.Equal(t, 1, computed)
	assert.Equal(t, callers-1, shared)
	assert.Equal(t, int64(callers-1), h.Tier(domain.TierResult).Stats().Coalesced)
}

func TestCacheHierarchy_Fetch_LeaderCancelDoesNotAbortFollowers(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	key := testKey(t, 0)
	flightKey := string(domain.TierResult) + "/" + key.String()

	release := make(chan struct{})
	var calls atomic.Int64
	var computeCancelled atomic.Bool
	compute := func(ctx context.Context) ([]byte, bool, error) {
		calls.Add(1)
		select {
		case <-release:
			return []byte("done"), true, nil
		case <-ctx.Done():
			computeCancelled.Store(true)
			return nil, false, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := h.Fetch(leaderCtx, domain.TierResult, key, compute)
		leaderErr <- err
	}()
	waitForWaiters(t, h, flightKey, 1)

	followerDone := make(chan struct{})
	var followerPayload []byte
	var followerErr error
	go func() {
		defer close(followerDone)
		followerPayload, _, followerErr = h.Fetch(context.Background(), domain.TierResult, key, compute)
	}()
	waitForWaiters(t, h, flightKey, 2)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	<-followerDone

	require.NoError(t, followerErr)
	assert.Equal(t, []byte("done"), followerPayload)
	assert.Equal(t, int64(1), calls.Load())
	assert.False(t, computeCancelled.Load())
}

func TestCacheHierarchy_Fetch_AllWaitersLeaveCancelsCompute(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	key := testKey(t, 0)

	cancelled := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, bool, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, false, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := h.Fetch(ctx, domain.TierResult, key, compute)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("computation was not cancelled after its last waiter left")
	}
}

func TestCacheHierarchy_Fetch_NoOverlapAfterAbandon(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	key := testKey(t, 0)

	var running, maxRunning, calls atomic.Int64
	started := make(chan struct{}, 2)
	compute := func(ctx context.Context) ([]byte, bool, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-ctx.Done():
			// Slow to notice cancellation.
			time.Sleep(200 * time.Millisecond)
			return nil, false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return []byte("fresh"), true, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := h.Fetch(ctx, domain.TierResult, key, compute)
		leaderErr <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	payload, source, err := h.Fetch(context.Background(), domain.TierResult, key, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), payload)
	assert.Equal(t, domain.FetchComputed, source)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(1), maxRunning.Load())
	assert.Equal(t, 0, h.flights.InFlight())
}

func TestCacheHierarchy_Fetch_PanicReturnsError(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	_, _, err := h.Fetch(context.Background(), domain.TierResult, testKey(t, 0),
		func(context.Context) ([]byte, bool, error) { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, h.flights.InFlight())
}

func TestCacheHierarchy_BackendErrorsAbsorbed(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	mocks[domain.TierResult].getErr = errBackendDown
	mocks[domain.TierResult].putErr = errBackendDown
	var calls atomic.Int64

	payload, source, err := h.Fetch(context.Background(), domain.TierResult, testKey(t, 0), constCompute("ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), payload)
	assert.Equal(t, domain.FetchComputed, source)

	stats := h.Tier(domain.TierResult).Stats()
	assert.GreaterOrEqual(t, stats.Errors, int64(2))
}

func TestCacheHierarchy_StoreReturnsBackendError(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	mocks[domain.TierFeature].putErr = errBackendDown

	err := h.Store(context.Background(), domain.TierFeature, testKey(t, 0), []byte("x"))

	var backendErr *domain.CacheBackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, domain.TierFeature, backendErr.Tier)
	assert.ErrorIs(t, err, domain.ErrCacheBackend)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestCacheHierarchy_Invalidate(t *testing.T) {
	h, _, _ := newTestHierarchy(t)
	ctx := context.Background()
	key := testKey(t, 0)
	require.NoError(t, h.Store(ctx, domain.TierResult, key, []byte("x")))

	require.NoError(t, h.Invalidate(ctx, domain.TierResult, key.String()))
	_, ok := h.Lookup(ctx, []domain.TierID{domain.TierResult}, key)
	assert.False(t, ok)

	assert.ErrorIs(t, h.Invalidate(ctx, "archive", key.String()), domain.ErrInvalidInput)
	assert.ErrorIs(t, h.Invalidate(ctx, domain.TierResult, "not-hex"), domain.ErrInvalidInput)
}

func TestCacheHierarchy_PurgeExpired(t *testing.T) {
	h, mocks, clock := newTestHierarchy(t)
	ctx := context.Background()

	require.NoError(t, h.Store(ctx, domain.TierResult, testKey(t, 1), []byte("r")))
	require.NoError(t, h.Store(ctx, domain.TierFeature, testKey(t, 2), []byte("f")))
	require.NoError(t, h.Store(ctx, domain.TierAlignment, testKey(t, 3), []byte("a")))

	clock.Advance(time.Hour)
	n, err := h.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, mocks[domain.TierResult].len())
	assert.Equal(t, 1, mocks[domain.TierFeature].len())
	assert.Equal(t, 1, mocks[domain.TierAlignment].len())
}

func TestCacheHierarchy_InvalidateVersion(t *testing.T) {
	h, mocks, _ := newTestHierarchy(t)
	ctx := context.Background()

	require.NoError(t, h.Store(ctx, domain.TierResult, testKey(t, 1), []byte("r")))
	require.NoError(t, h.Store(ctx, domain.TierWeights, testKey(t, 2), []byte("w")))
	require.NoError(t, h.Store(ctx, domain.TierAlignment, testKey(t, 3), []byte("a")))
	h.SetModelVersion("v2")

	n, err := h.InvalidateVersion(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, mocks[domain.TierAlignment].len())

	_, err = h.InvalidateVersion(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCacheHierarchy_CloseSharedBackendOnce(t *testing.T) {
	shared := newMockCacheBackend()
	h, err := NewCacheHierarchy(domain.DefaultTierPolicies(), map[domain.TierID]driven.CacheBackend{
		domain.TierResult:  shared,
		domain.TierFeature: shared,
	}, "v1")
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Equal(t, 1, shared.closed)
}
