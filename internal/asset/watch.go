package asset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors root for new or changed files and calls onChange once
// activity has been quiet for debounce. It blocks until ctx is done.
func Watch(ctx context.Context, root string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		metrics.WatcherErrors.Inc()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("failed to close file watcher: %v", err)
		}
	}()

	watchCount := addDirectories(watcher, root)
	logging.Info("Library watcher started, watching %d directories", watchCount)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !handleEvent(watcher, event) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Watcher error: %v", err)
			metrics.WatcherErrors.Inc()

		case <-timer.C:
			logging.Debug("Library changed, notifying")
			onChange()
		}
	}
}

// addDirectories adds root and every non-hidden directory below it.
func addDirectories(watcher *fsnotify.Watcher, root string) int {
	count := 0
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(p); addErr != nil {
			logging.Warn("failed to add path to watcher %s: %v", p, addErr)
			metrics.WatcherErrors.Inc()
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		logging.Error("failed to walk library for watcher: %v", err)
		metrics.WatcherErrors.Inc()
	}
	return count
}

// handleEvent records the event and reports whether it may have added items.
func handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}

	metrics.WatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			addDirectories(watcher, event.Name)
		}
		return true
	case event.Op&(fsnotify.Write|fsnotify.Rename) != 0:
		return true
	default:
		return false
	}
}

func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
