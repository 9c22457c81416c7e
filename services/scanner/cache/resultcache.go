// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// DefaultMaxAge is the default TTL for cached analysis results.
const DefaultMaxAge = 24 * time.Hour

// ResultCache stores whole analysis results as JSON files keyed by a
// digest of the analysis identity (repository, file list, kind).
//
// Entries expire after MaxAge and are deleted on the first read past
// expiry. Corrupt entries read as misses. Writes are best effort; a
// failed write is logged and otherwise ignored.
type ResultCache struct {
	fs     afero.Fs
	dir    string
	maxAge time.Duration
	logger *logging.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewResultCache creates a ResultCache under dir with the given TTL.
// A non-positive maxAge selects DefaultMaxAge.
func NewResultCache(fs afero.Fs, dir string, maxAge time.Duration, logger *logging.Logger) *ResultCache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResultCache{
		fs:     fs,
		dir:    dir,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Key derives the cache key for one analysis: the first 16 hex chars
// of sha256 over "repoPath:sorted(files):kind". The file list is
// sorted here, so callers need not pre-sort.
func (c *ResultCache) Key(repoPath string, files []string, kind string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	identity := repoPath + ":" + strings.Join(sorted, ",") + ":" + kind
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached result for key, or (nil, false) on a miss.
// An entry older than the TTL is deleted and reported as a miss, as is
// an entry that fails to decode.
func (c *ResultCache) Get(key string) (map[string]any, bool) {
	path := c.entryPath(key)

	info, err := c.fs.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(info.ModTime()) > c.maxAge {
		_ = c.fs.Remove(path)
		return nil, false
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, false
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		// Corrupt entry: silent miss, remove so it cannot recur.
		_ = c.fs.Remove(path)
		return nil, false
	}
	return result, true
}

// Put stores result under key, best effort.
func (c *ResultCache) Put(key string, result map[string]any) {
	if err := c.fs.MkdirAll(c.dir, 0750); err != nil {
		c.logger.Warn("failed to create result cache directory", "dir", c.dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		c.logger.Warn("failed to encode cached result", "key", key, "error", err)
		return
	}
	path := c.entryPath(key)
	if err := afero.WriteFile(c.fs, path, data, 0640); err != nil {
		c.logger.Warn("failed to write cached result", "path", path, "error", err)
	}
}

// Clear removes every entry in the cache directory.
func (c *ResultCache) Clear() error {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := c.fs.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *ResultCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}
