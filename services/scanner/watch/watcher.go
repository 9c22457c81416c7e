// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch triggers repository rescans when files change on disk.
//
// Change events are debounced so a burst of writes from an editor or a
// branch switch produces a single rescan instead of one per file.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// DefaultDebounce is how long the watcher waits after the last change
// event before invoking the rescan callback.
const DefaultDebounce = 500 * time.Millisecond

// skipNames are directory and file names that never trigger a rescan.
// The list mirrors the directories repository discovery prunes.
var skipNames = []string{
	".git", "__pycache__", "node_modules", ".venv", "venv",
	".idea", ".vscode", "*.pyc", "*.swp", "*.tmp",
}

// RescanFunc receives the deduplicated paths that changed during one
// debounce window. It is called from the watcher's own goroutine.
type RescanFunc func(changed []string)

// Watcher observes a repository root recursively and invokes a rescan
// callback after changes settle.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	onChange RescanFunc
	debounce time.Duration
	logger   *logging.Logger

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for root. A debounce of 0 uses DefaultDebounce.
func New(root string, debounce time.Duration, onChange RescanFunc, logger *logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		fsw:      fsw,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		events:   make(chan string, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the root tree with the OS watcher and begins
// delivering debounced change batches. It returns once watching is
// established; the callback runs on a background goroutine until Stop
// is called or ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}

	go w.readEvents(ctx)
	go w.deliver(ctx)

	w.logger.Info("watching repository for changes", "root", w.root)
	return nil
}

// Stop shuts down the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// addTree registers root and every non-skipped subdirectory.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skip(filepath.Base(path)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// skip reports whether a base name matches the skip list.
func skip(base string) bool {
	for _, pattern := range skipNames {
		if base == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// readEvents forwards fsnotify events into the debounce channel and
// registers newly created directories.
func (w *Watcher) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if skip(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.fsw.Add(event.Name)
				}
			}
			select {
			case w.events <- event.Name:
			default:
				// Buffer full. The batch already guarantees a rescan,
				// so dropping the path only loses detail in the log.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

// deliver batches changed paths and calls the rescan callback once the
// debounce window passes without new events.
func (w *Watcher) deliver(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 && w.onChange != nil {
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			w.onChange(changed)
			pending = make(map[string]struct{})
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.events:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}
