// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the scanner's caching tiers.
//
// Three tiers with different lifetimes:
//
//   - FileCache: path to content memo for a single pipeline run.
//     Several stages read overlapping sets of source files; the memo
//     eliminates duplicate reads.
//   - Ledger: a persistent path to sha256(content) map backing change
//     detection across runs.
//   - ResultCache: on-disk JSON cache of whole analysis results with a
//     TTL. Corrupt or expired entries are treated as misses.
//
// Cache failures are never fatal. Every read path degrades to a miss
// and every write path is best effort, so a broken cache directory
// costs speed, not correctness.
//
// # Concurrency
//
// All types are safe for concurrent use within one process. The cache
// directory itself is NOT safe for concurrent processes: two scanner
// runs sharing a cache directory race with last-writer-wins semantics.
package cache

import (
	"sync"

	"github.com/spf13/afero"
)

// FileCache memoizes file contents for the duration of one pipeline
// run. Unreadable files memoize as the empty string, matching the
// degrade-do-not-fail contract stages rely on.
type FileCache struct {
	fs afero.Fs

	mu       sync.RWMutex
	contents map[string]string
}

// NewFileCache creates an empty FileCache over fs.
func NewFileCache(fs afero.Fs) *FileCache {
	return &FileCache{
		fs:       fs,
		contents: make(map[string]string),
	}
}

// Read returns the content of path, from the memo when available.
// A file that cannot be read yields "" and the miss is memoized.
func (c *FileCache) Read(path string) string {
	c.mu.RLock()
	content, ok := c.contents[path]
	c.mu.RUnlock()
	if ok {
		return content
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		data = nil
	}
	content = string(data)

	c.mu.Lock()
	c.contents[path] = content
	c.mu.Unlock()
	return content
}

// Len returns the number of memoized paths.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.contents)
}

// Clear drops all memoized contents.
func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contents = make(map[string]string)
}
