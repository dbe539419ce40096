package config

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the config file whenever it changes on disk and
// invokes onChange with the fresh configuration. It blocks until the
// context is cancelled. This is how the aggregation-mode toggle stays
// live while the hub runs.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace files on
	// save, which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	// Debounce timer
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				cfg, err := Load(path, nil)
				if err != nil {
					logger.Error("config reload failed", "path", path, "error", err)
					return
				}
				logger.Info("config reloaded", "path", path)
				onChange(cfg)
			})

		case err := <-watcher.Errors:
			logger.Error("watcher error", "error", err)
		}
	}
}
