package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever another process commits a new marker.
// It returns once the watcher is running; watching stops when ctx is done,
// after which the returned channel is closed.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dataDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dataDir, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isMarkerEvent(ev) {
					continue
				}
				slog.Debug("Snapshot marker changed", "op", ev.Op.String())
				if ctx.Err() != nil {
					return
				}
				if err := s.Load(ctx); err != nil {
					slog.Error("Failed to reload snapshot", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Snapshot watcher error", "error", err)
			}
		}
	}()

	return done, nil
}

// isMarkerEvent reports whether ev means a new marker may be on disk.
// Marker commits arrive as a rename of the temp file, seen as Create.
func isMarkerEvent(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != MarkerFilename {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)
}
