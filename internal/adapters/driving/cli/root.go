// Package cli provides the foldline command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foldline/internal/core/ports/driving"
	"github.com/custodia-labs/foldline/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services injected by main. Commands check for nil and fail with a
// "not configured" error so the CLI stays testable.
var (
	predictionService driving.PredictionService
	cacheAdmin        driving.CacheAdmin
	settingsService   driving.SettingsService
	configEditor      ConfigEditor
	scheduler         driving.Scheduler

	// watchConfig runs the config file watcher for long-lived commands.
	watchConfig func(ctx context.Context) error
)

var (
	verbose  bool
	logLevel string
)

// ConfigEditor is the subset of the config store the config command edits.
type ConfigEditor interface {
	Get(key string) (any, bool)
	Keys() []string
	Set(key string, value any) error
	Path() string
}

// Services bundles everything the commands need.
type Services struct {
	Prediction driving.PredictionService
	Cache      driving.CacheAdmin
	Settings   driving.SettingsService
	Config     ConfigEditor
	Scheduler  driving.Scheduler

	// WatchConfig, if set, reloads settings on config file changes while
	// the MCP server runs.
	WatchConfig func(ctx context.Context) error
}

// SetServices injects the application services.
func SetServices(s Services) {
	predictionService = s.Prediction
	cacheAdmin = s.Cache
	settingsService = s.Settings
	configEditor = s.Config
	scheduler = s.Scheduler
	watchConfig = s.WatchConfig
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

var rootCmd = &cobra.Command{
	Use:   "foldline",
	Short: "Biomolecular structure prediction orchestrator",
	Long: `foldline routes structure prediction requests through mode selection,
a tiered cache, constraint resolution and mixed-precision inference, with
graceful fallbacks when the GPU or alignment service misbehaves.`,
	SilenceUsage:      true,
	PersistentPreRunE: configureLogging,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (error, warn, info, debug)")
}

func configureLogging(_ *cobra.Command, _ []string) error {
	if logLevel != "" {
		l, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(l)
	}
	// --verbose wins over --log-level.
	if verbose {
		logger.SetVerbose(true)
	}
	return nil
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("foldline: %w", err)
	}
	return nil
}
