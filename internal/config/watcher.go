// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// DefaultWatchDebounce is the delay after the last write event before a
// reload is attempted. Editors often produce several events per save.
const DefaultWatchDebounce = 250 * time.Millisecond

// ReloadFunc is called after the configuration has been reloaded from disk.
type ReloadFunc func(cfg *Config)

// Watcher watches the config directory and reloads the global configuration
// when the config file changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher over the storelink config directory.
// The onReload callback may be nil.
func NewWatcher(debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		watcher:  fsw,
		debounce: debounce,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for config changes.
// The directory is watched rather than the file itself so that atomic
// rename-style saves are observed.
func (w *Watcher) Watch() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.processEvents()
	go w.processPending()

	return nil
}

// processEvents filters file system events down to config file writes.
func (w *Watcher) processEvents() {
	defer func() {
		if r := recover(); r != nil {
			// Non-fatal, goroutine exits
			_ = r
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !isConfigFile(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error (non-fatal)
			_ = err
		}
	}
}

// processPending fires the reload after the debounce window has elapsed.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

// reload reloads the global config and notifies the callback.
func (w *Watcher) reload() {
	if err := ReloadGlobal(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config reload failed: %v\n", err)
		return
	}
	if w.onReload != nil {
		w.onReload(Global())
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// isConfigFile reports whether the path is one of the recognized config files.
func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == "config.toml" || base == "config.json"
}
