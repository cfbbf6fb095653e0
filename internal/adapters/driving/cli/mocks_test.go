package cli

import (
	"context"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
	"github.com/custodia-labs/foldline/internal/logger"
)

var (
	_ driving.PredictionService = (*mockPredictionService)(nil)
	_ driving.CacheAdmin        = (*mockCacheAdmin)(nil)
	_ driving.SettingsService   = (*mockSettingsService)(nil)
	_ driving.Scheduler         = (*mockScheduler)(nil)
	_ ConfigEditor              = (*mockConfigEditor)(nil)
)

// mockPredictionService returns a canned response and records the request.
type mockPredictionService struct {
	resp    *domain.PredictionResponse
	err     error
	lastReq domain.PredictionRequest
	calls   int
}

func (m *mockPredictionService) Orchestrate(
	_ context.Context,
	req domain.PredictionRequest,
) (*domain.PredictionResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	resp := &domain.PredictionResponse{
		RequestID:    "req-test",
		Mode:         domain.ModeDecision{Mode: domain.ModeValidation, Rule: "default"},
		ModelVersion: "v1",
	}
	for i, s := range req.Structures {
		for _, seed := range req.EffectiveSeeds() {
			resp.Results = append(resp.Results, domain.PredictionResult{
				StructureIndex: i,
				Name:           s.Name,
				Seed:           seed,
				Structure:      domain.Structure{Format: "pdb", Data: []byte("ATOM")},
				Confidence:     domain.ConfidenceMetrics{PLDDT: 88, PTM: 0.7},
				Degradation:    domain.FullFidelity(),
			})
		}
	}
	return resp, nil
}

// mockCacheAdmin records maintenance calls.
type mockCacheAdmin struct {
	stats       []domain.TierStats
	removed     int
	err         error
	keptVersion string
	invalidated []string
}

func (m *mockCacheAdmin) Stats() []domain.TierStats { return m.stats }

func (m *mockCacheAdmin) Invalidate(_ context.Context, tier domain.TierID, key string) error {
	m.invalidated = append(m.invalidated, string(tier)+"/"+key)
	return m.err
}

func (m *mockCacheAdmin) PurgeExpired(_ context.Context) (int, error) {
	return m.removed, m.err
}

func (m *mockCacheAdmin) InvalidateVersion(_ context.Context, keep string) (int, error) {
	m.keptVersion = keep
	return m.removed, m.err
}

// mockSettingsService serves fixed settings; reloadErr fails Reload.
type mockSettingsService struct {
	settings  domain.Settings
	reloadErr error
	reloads   int
}

func (m *mockSettingsService) Current() domain.Settings { return m.settings }

func (m *mockSettingsService) Reload(_ context.Context) error {
	m.reloads++
	return m.reloadErr
}

// mockScheduler blocks until its context is cancelled.
type mockScheduler struct {
	started chan struct{}
}

func (m *mockScheduler) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockScheduler) Stop() error { return nil }

// mockConfigEditor is an in-memory ConfigEditor.
type mockConfigEditor struct {
	mu     sync.Mutex
	values map[string]any
	setErr error
}

func newMockConfigEditor() *mockConfigEditor {
	return &mockConfigEditor{values: make(map[string]any)}
}

func (m *mockConfigEditor) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *mockConfigEditor) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *mockConfigEditor) Set(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *mockConfigEditor) Path() string { return "/tmp/foldline/config.toml" }

// testServices holds the mocks installed by setupTestServices.
type testServices struct {
	prediction *mockPredictionService
	cache      *mockCacheAdmin
	settings   *mockSettingsService
	config     *mockConfigEditor
}

// setupTestServices installs fresh mocks and returns them with a cleanup
// that clears services, flags and the log level.
func setupTestServices() (*testServices, func()) {
	ts := &testServices{
		prediction: &mockPredictionService{},
		cache:      &mockCacheAdmin{},
		settings:   &mockSettingsService{settings: domain.DefaultSettings()},
		config:     newMockConfigEditor(),
	}
	SetServices(Services{
		Prediction: ts.prediction,
		Cache:      ts.cache,
		Settings:   ts.settings,
		Config:     ts.config,
	})

	return ts, func() {
		SetServices(Services{})
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		resetContexts(rootCmd)
		logger.SetLevel(logger.LevelWarn)
	}
}

// resetContexts clears the context cobra stored on cmd and its children.
// Cobra only passes the root context down to a subcommand whose context is
// nil, so a leftover one would hide the next ExecuteContext call.
func resetContexts(cmd *cobra.Command) {
	cmd.SetContext(nil) //nolint:staticcheck // nil lets cobra inherit the next context
	for _, c := range cmd.Commands() {
		resetContexts(c)
	}
}

// resetFlags restores every flag of cmd and its children to its default,
// since cobra keeps parsed values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
