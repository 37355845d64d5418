// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	defaultDebounce = 500 * time.Millisecond
)

// defaultIgnoreDirs are directory names skipped while watching. Build
// output and dependency trees churn constantly and never invalidate the
// snapshot on their own.
var defaultIgnoreDirs = []string{
	".git", "node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".venv",
}

// WatchOption configures a staleness watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period after the last filesystem event
// before the batch is delivered. Default 500ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnoreDirs replaces the default list of skipped directory names.
func WithIgnoreDirs(names ...string) WatchOption {
	return func(w *Watcher) {
		w.ignoreDirs = names
	}
}

// Watcher reports when the working tree drifts from the persisted
// snapshot.
//
// Description:
//
//	Watcher listens for filesystem events under a root, debounces bursts
//	(editor saves, branch switches), then marks the Store stale and hands
//	the batch of changed paths to the handler. It never mutates the
//	graph: the lifecycle stays build-and-replace, the watcher only tells
//	the caller a full rebuild is due.
//
// Thread Safety: the handler is called from the watcher goroutine, one
// batch at a time.
type Watcher struct {
	store   *Store
	fsw     *fsnotify.Watcher
	handler func(changed []string)
	logger  *slog.Logger

	debounce   time.Duration
	ignoreDirs []string

	doneCh chan struct{}
}

// WatchStaleness watches root recursively and signals staleness to s.
//
// Inputs:
//
//	ctx - stops the watcher when done.
//	root - directory to watch, recursively.
//	handler - receives each debounced batch of changed paths. May be nil
//	          when only the IsStale flag matters.
//
// Outputs:
//
//	*Watcher - running watcher. Call Stop (or cancel ctx) to release it.
func (s *Store) WatchStaleness(ctx context.Context, root string, handler func(changed []string), opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	w := &Watcher{
		store:      s,
		fsw:        fsw,
		handler:    handler,
		logger:     s.logger,
		debounce:   defaultDebounce,
		ignoreDirs: defaultIgnoreDirs,
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run(ctx)
	return w, nil
}

// Stop releases the watcher. Idempotent with ctx cancellation; whichever
// comes first wins.
func (w *Watcher) Stop() {
	w.fsw.Close()
	<-w.doneCh
}

// addRecursive registers root and every non-ignored subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(name string) bool {
	for _, ig := range w.ignoreDirs {
		if name == ig {
			return true
		}
	}
	return false
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var (
		pending = make(map[string]bool)
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		changed := make([]string, 0, len(pending))
		for path := range pending {
			changed = append(changed, path)
		}
		pending = make(map[string]bool)

		w.store.MarkStale()
		w.logger.Debug("snapshot marked stale",
			slog.Int("changed_paths", len(changed)))
		if w.handler != nil {
			w.handler(changed)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories join the watch set so nested changes
			// keep arriving.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			pending[event.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return
			}
			w.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()))
		}
	}
}

// relevant filters events down to content changes in non-ignored paths.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(event.Name), "/") {
		if w.ignored(part) {
			return false
		}
	}
	return true
}
