package mcp

import (
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Prediction runs prediction requests.
	Prediction driving.PredictionService

	// Cache exposes cache statistics and maintenance.
	Cache driving.CacheAdmin

	// Settings exposes the active configuration.
	Settings driving.SettingsService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Prediction == nil {
		return ErrMissingPredictionService
	}
	// Cache and Settings are optional; their resources report empty data.
	return nil
}
