package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
)

var (
	_ driven.CacheBackend      = (*mockCacheBackend)(nil)
	_ driven.SchedulerStore    = (*mockSchedulerStore)(nil)
	_ driven.Predictor         = (*mockPredictor)(nil)
	_ driven.AlignmentService  = (*mockAlignment)(nil)
	_ driven.WeightsRegistry   = (*mockWeights)(nil)
	_ driven.ConstraintChecker = (*mockChecker)(nil)
	_ driving.CacheAdmin       = (*mockCacheAdmin)(nil)
)

var errBackendDown = errors.New("backend down")

// --- Cache backend ---

// mockCacheBackend is a map-backed driven.CacheBackend with error injection.
type mockCacheBackend struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	getErr  error
	putErr  error
	gets    int
	puts    int
	closed  int
}

func newMockCacheBackend() *mockCacheBackend {
	return &mockCacheBackend{entries: make(map[string]domain.CacheEntry)}
}

func (m *mockCacheBackend) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return domain.CacheEntry{}, false, m.getErr
	}
	e, ok := m.entries[key]
	return e.Clone(), ok, nil
}

func (m *mockCacheBackend) Put(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[entry.Key] = entry.Clone()
	return nil
}

func (m *mockCacheBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mockCacheBackend) Purge(_ context.Context, filter domain.PurgeFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if filter.Matches(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *mockCacheBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockCacheBackend) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// allTierBackends returns one fresh backend per tier.
func allTierBackends() (map[domain.TierID]driven.CacheBackend, map[domain.TierID]*mockCacheBackend) {
	backends := make(map[domain.TierID]driven.CacheBackend)
	mocks := make(map[domain.TierID]*mockCacheBackend)
	for _, id := range domain.TierOrder() {
		b := newMockCacheBackend()
		backends[id] = b
		mocks[id] = b
	}
	return backends, mocks
}

// --- Scheduler store ---

// mockSchedulerStore implements driven.SchedulerStore for testing.
type mockSchedulerStore struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.ScheduledTask
	results  map[string][]domain.TaskResult
	saveErr  error
	listErr  error
	getErr   error
	pruneErr error
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		tasks:   make(map[string]*domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

func (m *mockSchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	task, exists := m.tasks[taskID]
	if !exists {
		return nil, nil
	}
	taskCopy := *task
	return &taskCopy, nil
}

func (m *mockSchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	tasks := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (m *mockSchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if task == nil {
		return domain.ErrInvalidInput
	}
	taskCopy := *task
	m.tasks[task.ID] = &taskCopy
	return nil
}

func (m *mockSchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result == nil {
		return domain.ErrInvalidInput
	}
	m.results[result.TaskID] = append(m.results[result.TaskID], *result)
	return nil
}

func (m *mockSchedulerStore) GetTaskHistory(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := m.results[taskID]
	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results, nil
}

func (m *mockSchedulerStore) PruneHistory(_ context.Context, _ int) error {
	return m.pruneErr
}

// --- Cache admin ---

// mockCacheAdmin implements driving.CacheAdmin for testing.
type mockCacheAdmin struct {
	mu          sync.Mutex
	purgeCalls  int
	sweepCalls  int
	keptVersion string
	purged      int
	err         error
}

func (m *mockCacheAdmin) Stats() []domain.TierStats { return nil }

func (m *mockCacheAdmin) Invalidate(_ context.Context, _ domain.TierID, _ string) error {
	return m.err
}

func (m *mockCacheAdmin) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeCalls++
	return m.purged, m.err
}

func (m *mockCacheAdmin) InvalidateVersion(_ context.Context, keep string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCalls++
	m.keptVersion = keep
	return m.purged, m.err
}

func (m *mockCacheAdmin) calls() (purge, sweep int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeCalls, m.sweepCalls
}

// --- Prediction ports ---

// inferCall records the arguments of one Infer call.
type inferCall struct {
	features    domain.Features
	constraints domain.ResolvedConstraintSet
	precision   domain.EffectivePrecision
	config      domain.ModelConfig
	seed        int64
}

// mockPredictor returns a prediction, or the error script returns for the
// n-th call (starting at 1).
type mockPredictor struct {
	mu     sync.Mutex
	calls  []inferCall
	count  atomic.Int64
	script func(n int64, call inferCall) error
	block  chan struct{}
}

func (m *mockPredictor) Infer(
	ctx context.Context,
	features domain.Features,
	constraints domain.ResolvedConstraintSet,
	precision domain.EffectivePrecision,
	config domain.ModelConfig,
	seed int64,
) (domain.Prediction, error) {
	call := inferCall{features, constraints, precision, config, seed}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	n := m.count.Add(1)

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return domain.Prediction{}, ctx.Err()
		}
	}
	if m.script != nil {
		if err := m.script(n, call); err != nil {
			return domain.Prediction{}, err
		}
	}
	return domain.Prediction{
		Structure:  domain.Structure{Format: "pdb", Data: []byte("MODEL " + string(config.Variant))},
		Confidence: domain.ConfidenceMetrics{PLDDT: 90, PTM: 0.8},
	}, nil
}

func (m *mockPredictor) recorded() []inferCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inferCall(nil), m.calls...)
}

// mockAlignment returns a fixed alignment per sequence.
type mockAlignment struct {
	count atomic.Int64
	err   error
	wait  bool
}

func (m *mockAlignment) Search(ctx context.Context, sequence string) (domain.Alignment, error) {
	m.count.Add(1)
	if m.wait {
		<-ctx.Done()
		return domain.Alignment{}, ctx.Err()
	}
	if m.err != nil {
		return domain.Alignment{}, m.err
	}
	return domain.Alignment{Sequence: sequence, Depth: 64, Data: []byte(">q\n" + sequence)}, nil
}

type mockWeights struct {
	count atomic.Int64
}

func (m *mockWeights) Resolve(_ context.Context, version string, variant domain.ModelVariant) (domain.WeightsManifest, error) {
	m.count.Add(1)
	return domain.WeightsManifest{
		ModelVersion: version,
		Variant:      variant,
		URI:          "s3://weights/" + version + "/" + string(variant),
	}, nil
}

// mockChecker reports the hard constraints as violated for the first
// failFor checks.
type mockChecker struct {
	count   atomic.Int64
	failFor int64
}

func (m *mockChecker) Check(
	_ context.Context, _ domain.Structure, hard []domain.ResolvedConstraint,
) ([]domain.ResolvedConstraint, error) {
	if m.count.Add(1) <= m.failFor {
		return hard, nil
	}
	return nil, nil
}
