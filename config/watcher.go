package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaliph/qrbridge/utils"
)

// Watcher reloads a SettingsStore when its document is edited outside the admin page.
// The directory is watched rather than the file so atomic replacements are seen.
type Watcher struct {
	store    *SettingsStore
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher starts watching the directory that holds the settings document
func NewWatcher(store *SettingsStore, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create settings watcher: %w", err)
	}
	dir := filepath.Dir(store.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch settings directory %q: %w", dir, err)
	}
	return &Watcher{
		store:    store,
		watcher:  fw,
		debounce: 250 * time.Millisecond,
		logger:   utils.Or(logger),
	}, nil
}

// Run processes events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watcher error", "error", err)
		case <-timer.C:
			changed, err := w.store.Reload()
			if err != nil {
				w.logger.Warn("Ignoring settings edit", "path", target, "error", err)
				continue
			}
			if changed {
				w.logger.Info("Settings reloaded from disk", "path", target)
			}
		}
	}
}
