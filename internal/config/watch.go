package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path and calls onChange with the newly loaded Config each
// time the file is written. It runs until ctx is cancelled. A reload that
// fails to parse or validate is logged and skipped.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory so atomic saves that replace the file are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	logger.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Error("config: reload failed, keeping previous config", "path", path, "error", err)
				continue
			}

			logger.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "error", err)
		}
	}
}

// EngineChanged reports whether the engine section differs, which only
// takes effect after a restart
func EngineChanged(old, cur *Config) bool {
	return !reflect.DeepEqual(old.Engine, cur.Engine)
}
