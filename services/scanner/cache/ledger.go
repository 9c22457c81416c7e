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
	"sync"

	"github.com/spf13/afero"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// ledgerFilename is the JSON file holding path to content-hash entries
// inside the cache directory.
const ledgerFilename = "file_hashes.json"

// Ledger tracks sha256 content hashes per file across scanner runs.
// It backs incremental analysis: a file whose current hash matches the
// ledger entry is reported unchanged.
//
// The ledger loads lazily on first use. A missing or corrupt ledger
// file is treated as empty, never as an error.
type Ledger struct {
	fs     afero.Fs
	dir    string
	logger *logging.Logger

	mu     sync.Mutex
	loaded bool
	hashes map[string]string
}

// NewLedger creates a Ledger persisted under dir.
func NewLedger(fs afero.Fs, dir string, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		fs:     fs,
		dir:    dir,
		logger: logger,
		hashes: make(map[string]string),
	}
}

// ChangedFiles partitions files into (changed, unchanged) against the
// ledger. Every file's current hash is recorded, so after the call the
// ledger reflects the present state of all listed files. The updated
// ledger is persisted best effort.
//
// A file that cannot be read hashes to "" and therefore reads as
// changed until it hashes to "" twice in a row.
func (l *Ledger) ChangedFiles(files []string) (changed, unchanged []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	changed = make([]string, 0)
	unchanged = make([]string, 0)

	for _, path := range files {
		currentHash := l.hashFile(path)
		previous, known := l.hashes[path]
		if !known || previous != currentHash {
			changed = append(changed, path)
			l.hashes[path] = currentHash
		} else {
			unchanged = append(unchanged, path)
		}
	}

	l.saveLocked()
	return changed, unchanged
}

// hashFile returns the hex sha256 of the file content, or "" when the
// file cannot be read.
func (l *Ledger) hashFile(path string) string {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// loadLocked reads the ledger file once. Caller holds l.mu.
func (l *Ledger) loadLocked() {
	if l.loaded {
		return
	}
	l.loaded = true

	data, err := afero.ReadFile(l.fs, filepath.Join(l.dir, ledgerFilename))
	if err != nil {
		return
	}
	var hashes map[string]string
	if err := json.Unmarshal(data, &hashes); err != nil {
		// Corrupt ledger: start fresh.
		l.logger.Warn("file hash ledger corrupt, resetting", "dir", l.dir)
		return
	}
	l.hashes = hashes
}

// saveLocked persists the ledger best effort. Caller holds l.mu.
func (l *Ledger) saveLocked() {
	if err := l.fs.MkdirAll(l.dir, 0750); err != nil {
		l.logger.Warn("failed to create cache directory", "dir", l.dir, "error", err)
		return
	}
	data, err := json.Marshal(l.hashes)
	if err != nil {
		l.logger.Warn("failed to encode file hash ledger", "error", err)
		return
	}
	path := filepath.Join(l.dir, ledgerFilename)
	if err := afero.WriteFile(l.fs, path, data, 0640); err != nil {
		l.logger.Warn("failed to save file hash ledger", "path", path, "error", err)
	}
}
