// Command foldline orchestrates biomolecular structure predictions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/custodia-labs/foldline/internal/adapters/driven/config/file"
	"github.com/custodia-labs/foldline/internal/adapters/driven/inference"
	"github.com/custodia-labs/foldline/internal/adapters/driven/storage"
	"github.com/custodia-labs/foldline/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/foldline/internal/adapters/driving/cli"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/core/services"
	"github.com/custodia-labs/foldline/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	home, err := file.HomeDir()
	if err != nil {
		return err
	}

	configStore, err := file.NewConfigStore(home)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	settingsService, err := services.NewSettingsService(configStore)
	if err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", configStore.Path(), err)
	}
	settings := settingsService.Current()

	backends, err := storage.CreateBackends(ctx, settings.Cache, filepath.Join(home, "data"))
	if err != nil {
		return fmt.Errorf("creating cache backends: %w", err)
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Warn("Closing cache backends: %v", err)
		}
	}()
	for _, w := range backends.Warnings {
		logger.Warn("%s", w)
	}

	cache, err := services.NewCacheHierarchy(settings.Cache.Policies(), backends.Backends, settings.ModelVersion)
	if err != nil {
		return err
	}
	// Cache backends are fixed for the process; a reload only retags entries.
	settingsService.OnReload(func(p *services.Policy) {
		cache.SetModelVersion(p.Settings.ModelVersion)
	})

	client := inference.NewClient(inference.ConfigFromSettings(settings.Inference))
	predictor := inference.NewThrottledPredictor(client, settings.Inference.Rate, settings.Inference.Burst)

	orchestrator := services.NewOrchestrator(settingsService, cache, predictor, client)
	orchestrator.SetWeightsRegistry(client)
	orchestrator.SetConstraintChecker(client)

	var taskStore driven.SchedulerStore
	if db, err := backends.SQLite(); err != nil {
		logger.Warn("Task history will not persist, cannot open local store: %v", err)
		taskStore = memory.NewSchedulerStore()
	} else {
		taskStore = db.SchedulerStore()
	}
	scheduler := services.NewScheduler(settings.Scheduler, taskStore, cache, settingsService)

	watcher := file.NewWatcher(configStore.Path(), settingsService.Reload)

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Prediction:  orchestrator,
		Cache:       cache,
		Settings:    settingsService,
		Config:      configStore,
		Scheduler:   scheduler,
		WatchConfig: watcher.Run,
	})

	return cli.Execute(ctx)
}
