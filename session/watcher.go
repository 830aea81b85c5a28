// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// keyringWatcher invalidates the engine's cached key listing when the
// keyring files change on disk, e.g. because another process imported a
// key. Events are debounced: the engine rewrites several files per
// mutation.
type keyringWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

const watchDebounce = 500 * time.Millisecond

func newKeyringWatcher(e *Engine) (*keyringWatcher, error) {
	if e.cfg.HomeDir == "" {
		return nil, fmt.Errorf("watch_keyring requires homedir to be set")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create keyring watcher: %w", err)
	}
	if err := watcher.Add(e.cfg.HomeDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch keyring directory: %w", err)
	}

	w := &keyringWatcher{watcher: watcher, done: make(chan struct{})}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-w.done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isKeyringFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					Logger.Debug("keyring changed on disk, invalidating listing cache")
					e.InvalidateKeyCache()
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Logger.Debug("keyring watcher error", "error", err)
			}
		}
	}()

	return w, nil
}

func (w *keyringWatcher) close() error {
	close(w.done)
	return w.watcher.Close()
}

// isKeyringFile reports whether a path names one of the engine's keyring
// or trust files.
func isKeyringFile(name string) bool {
	return strings.HasSuffix(name, ".kbx") ||
		strings.HasSuffix(name, ".gpg") ||
		strings.HasSuffix(name, "trustdb.gpg") ||
		strings.Contains(name, "private-keys-v1.d")
}
