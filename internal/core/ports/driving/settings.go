package driving

import (
	"context"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// SettingsService exposes the active orchestration configuration.
type SettingsService interface {
	// Current returns the settings of the active policy snapshot.
	Current() domain.Settings

	// Reload re-reads configuration and swaps the snapshot atomically.
	// On error the previous snapshot stays active.
	Reload(ctx context.Context) error
}
