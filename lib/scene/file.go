package scene

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
)

// LoadFile reads scene defaults from a YAML or JSON file.
func LoadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	data, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse scene file %s: %w", path, err)
	}
	return data, nil
}

// LoadInto replaces the store's document with the contents of path.
func LoadInto(store *Store, path string) error {
	data, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := store.Replace(data); err != nil {
		return fmt.Errorf("scene file %s: %w", path, err)
	}
	return nil
}

// Watch reloads path into store whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file still trigger
// a reload.
func Watch(ctx context.Context, path string, store *Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve scene file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	// editors tend to emit several events per save
	const settle = 50 * time.Millisecond
	var reload <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(settle)
		case <-reload:
			reload = nil
			if err := LoadInto(store, abs); err != nil {
				logger.Warn("[scene] reload failed", "path", abs, "err", err)
				continue
			}
			logger.Info("[scene] reloaded defaults", "path", abs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[scene] watcher error", "err", err)
		}
	}
}
