package mcp

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// mockPredictionService is a mock implementation of driving.PredictionService.
type mockPredictionService struct {
	resp    *domain.PredictionResponse
	err     error
	lastReq domain.PredictionRequest
}

func (m *mockPredictionService) Orchestrate(
	_ context.Context,
	req domain.PredictionRequest,
) (*domain.PredictionResponse, error) {
	m.lastReq = req
	return m.resp, m.err
}

// mockCacheAdmin is a mock implementation of driving.CacheAdmin.
type mockCacheAdmin struct {
	stats []domain.TierStats
	err   error
}

func (m *mockCacheAdmin) Stats() []domain.TierStats {
	return m.stats
}

func (m *mockCacheAdmin) Invalidate(_ context.Context, _ domain.TierID, _ string) error {
	return m.err
}

func (m *mockCacheAdmin) PurgeExpired(_ context.Context) (int, error) {
	return 0, m.err
}

func (m *mockCacheAdmin) InvalidateVersion(_ context.Context, _ string) (int, error) {
	return 0, m.err
}

// mockSettingsService is a mock implementation of driving.SettingsService.
type mockSettingsService struct {
	settings domain.Settings
	err      error
}

func (m *mockSettingsService) Current() domain.Settings {
	return m.settings
}

func (m *mockSettingsService) Reload(_ context.Context) error {
	return m.err
}
