package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchStorage observes the session storage path and marks the session
// disconnected when the persisted credential material is removed out from
// under a ready session. The returned stop function releases the watcher.
func (m *Manager) WatchStorage() (func() error, error) {
	if m.storagePath == "" {
		return func() error { return nil }, nil
	}

	// The storage path may not exist yet; watch its parent so removal of the
	// directory itself is observed.
	parent := filepath.Dir(m.storagePath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("session: prepare storage parent: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: storage watcher: %w", err)
	}
	if err := watcher.Add(parent); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("session: watch %s: %w", parent, err)
	}

	watched, err := filepath.Abs(m.storagePath)
	if err != nil {
		watched = m.storagePath
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				name, absErr := filepath.Abs(event.Name)
				if absErr != nil {
					name = event.Name
				}
				if name == watched {
					m.markStorageRemoved()
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("session storage watcher error", zap.Error(watchErr))
			}
		}
	}()

	return watcher.Close, nil
}
