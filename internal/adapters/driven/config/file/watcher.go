package file

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/foldline/internal/logger"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc re-reads configuration.
type ReloadFunc func(ctx context.Context) error

// Watcher calls a ReloadFunc when the configuration file changes.
//
// The parent directory is watched rather than the file itself because many
// editors save by renaming a temporary file over the original.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, reload ReloadFunc) *Watcher {
	return &Watcher{path: filepath.Clean(path), reload: reload, debounce: DefaultDebounce}
}

// SetDebounce overrides the debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled. Reload errors are logged; the
// previous configuration stays active.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	logger.Debug("config: watching %s", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error: %v", err)

		case <-fire:
			fire = nil
			if err := w.reload(ctx); err != nil {
				logger.Warn("config: reload of %s failed: %v", w.path, err)
				continue
			}
			logger.Info("config: reloaded %s", w.path)
		}
	}
}

// isConfigEvent reports whether event changes the watched file's contents.
func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}
