package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch observes a config file and signals on each change. The watch is
// placed on the containing directory so editors that replace the file
// still trigger it. The channel closes when ctx is done.
func Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	ch := make(chan struct{}, 1)
	go watchLoop(ctx, watcher, absPath, ch)

	slog.Info("Watching config file", "path", absPath)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case ch <- struct{}{}:
						slog.Debug("Config file changed", "path", path)
					default:
					}
				})
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("Config file was deleted", "path", path)
				go tryRewatch(ctx, watcher, path, ch)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func tryRewatch(ctx context.Context, watcher *fsnotify.Watcher, path string, ch chan<- struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				if err := watcher.Add(filepath.Dir(path)); err == nil {
					slog.Info("Re-established watch on config file", "path", path)
					select {
					case ch <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}
	slog.Warn("Failed to re-establish watch on config file", "path", path)
}
