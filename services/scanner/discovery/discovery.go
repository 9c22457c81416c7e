// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package discovery resolves repository roots and enumerates canonical
// file lists for the scanner pipeline.
//
// # Root Resolution
//
// DiscoverRoot tries git first (`git rev-parse --show-toplevel` under a
// 2-second deadline), then falls back to walking upward looking for a
// .git directory, then to the start path itself. Each strategy has a
// distinct failure mode; see the method docs.
//
// # Canonical File Lists
//
// ListFiles produces the deduplicated, bytewise-sorted list of absolute
// paths every pipeline stage sees. The ordering is part of the scanner's
// determinism contract: two runs over an unchanged tree must observe the
// same list, so cache keys and output hashes stay stable.
//
// # Caching
//
// A Discoverer memoizes both roots and file lists for its lifetime.
// Construct one per process (or per long-lived service) and call Clear
// to force re-enumeration.
//
// # Thread Safety
//
// Discoverer is safe for concurrent use.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// gitTimeout bounds the git root lookup. A hung git (e.g. a network
// filesystem) must not stall the whole scan.
const gitTimeout = 2 * time.Second

// maxUpwardDepth bounds the .git directory walk toward the filesystem
// root.
const maxUpwardDepth = 10

// excludedDirs are directory names pruned during the file walk. Dot
// directories are pruned separately (all except .git).
var excludedDirs = map[string]struct{}{
	"node_modules": {},
	"__pycache__":  {},
	"build":        {},
	"dist":         {},
	"venv":         {},
	"vendor":       {},
	"target":       {},
	"coverage":     {},
}

// excludedSuffixes are generated or binary file suffixes dropped from
// the canonical list. They carry no analyzable signal.
var excludedSuffixes = []string{
	".pyc", ".pyo", ".class",
	".o", ".a", ".so", ".dylib", ".dll", ".exe",
}

// Discoverer resolves repository roots and canonical file lists,
// memoizing both for its lifetime. The zero value is not usable; call
// New.
type Discoverer struct {
	fs     afero.Fs
	logger *logging.Logger

	mu        sync.Mutex
	roots     map[string]string
	fileLists map[string][]string
}

// New creates a Discoverer over the real filesystem.
func New(logger *logging.Logger) *Discoverer {
	return NewWithFs(afero.NewOsFs(), logger)
}

// NewWithFs creates a Discoverer over the given filesystem. Tests use
// this with an in-memory fs. Note that the git lookup in DiscoverRoot
// always runs against the real filesystem; with a non-OS fs it is
// skipped.
func NewWithFs(fs afero.Fs, logger *logging.Logger) *Discoverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Discoverer{
		fs:        fs,
		logger:    logger,
		roots:     make(map[string]string),
		fileLists: make(map[string][]string),
	}
}

// Clear drops all memoized roots and file lists, forcing fresh
// enumeration on the next call.
func (d *Discoverer) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roots = make(map[string]string)
	d.fileLists = make(map[string][]string)
}

// DiscoverRoot resolves the repository root for start.
//
// Resolution order:
//  1. If start exists and is on the same filesystem device as the home
//     directory, ask git for the toplevel (2s deadline). Timeout or a
//     subprocess setup failure is fatal; a missing git binary or a
//     non-zero exit (not a repository) falls through silently.
//  2. Walk upward from start, at most 10 levels, looking for a .git
//     directory.
//  3. Return start itself if it exists.
//
// A start path that does not exist and has no discoverable root yields
// a *DiscoveryError wrapping ErrPathNotFound. Results are memoized per
// resolved start path.
func (d *Discoverer) DiscoverRoot(ctx context.Context, start string) (string, error) {
	if strings.TrimSpace(start) == "" {
		return "", &DiscoveryError{Path: start, Err: ErrEmptyPath}
	}

	abs, err := filepath.Abs(start)
	if err != nil {
		return "", &DiscoveryError{Path: start, Err: err}
	}

	d.mu.Lock()
	if root, ok := d.roots[abs]; ok {
		d.mu.Unlock()
		return root, nil
	}
	d.mu.Unlock()

	exists := d.pathExists(abs)

	if exists && d.gitEligible(abs) {
		root, err := d.gitToplevel(ctx, abs)
		switch {
		case err == nil && root != "":
			d.memoizeRoot(abs, root)
			return root, nil
		case err != nil:
			return "", &DiscoveryError{Path: start, Err: err}
		}
		// err == nil, root == "": git unavailable or not a repository,
		// continue to the filesystem fallback.
	}

	current := abs
	for depth := 0; depth < maxUpwardDepth; depth++ {
		if d.pathExists(filepath.Join(current, ".git")) {
			d.memoizeRoot(abs, current)
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	if !exists {
		return "", &DiscoveryError{Path: start, Err: ErrPathNotFound}
	}

	d.memoizeRoot(abs, abs)
	return abs, nil
}

// ListFiles returns the canonical file list under root: every regular
// file reachable without crossing an excluded directory, as absolute
// paths, deduplicated and bytewise sorted. Unreadable entries are
// skipped. The list is memoized per root.
func (d *Discoverer) ListFiles(root string) []string {
	d.mu.Lock()
	if files, ok := d.fileLists[root]; ok {
		d.mu.Unlock()
		out := make([]string, len(files))
		copy(out, files)
		return out
	}
	d.mu.Unlock()

	seen := make(map[string]struct{})

	err := afero.Walk(d.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable entry: skip and continue.
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if path == root {
				return nil
			}
			if _, excluded := excludedDirs[name]; excluded {
				return filepath.SkipDir
			}
			if strings.HasPrefix(name, ".") && name != ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		for _, suffix := range excludedSuffixes {
			if strings.HasSuffix(name, suffix) {
				return nil
			}
		}
		abs := path
		if !filepath.IsAbs(abs) {
			if a, aerr := filepath.Abs(path); aerr == nil {
				abs = a
			}
		}
		seen[abs] = struct{}{}
		return nil
	})
	if err != nil {
		d.logger.Warn("file walk incomplete", "root", root, "error", err)
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)

	d.mu.Lock()
	d.fileLists[root] = files
	d.mu.Unlock()

	out := make([]string, len(files))
	copy(out, files)
	return out
}

// memoizeRoot records a resolved root under the mutex.
func (d *Discoverer) memoizeRoot(start, root string) {
	d.mu.Lock()
	d.roots[start] = root
	d.mu.Unlock()
}

// pathExists reports whether path exists on the Discoverer's fs.
func (d *Discoverer) pathExists(path string) bool {
	_, err := d.fs.Stat(path)
	return err == nil
}

// gitEligible reports whether the git lookup should be attempted for
// path. The lookup runs a real subprocess, so it requires the OS
// filesystem, and it is restricted to paths on the home directory's
// device to avoid stalling on slow network mounts.
func (d *Discoverer) gitEligible(path string) bool {
	if _, ok := d.fs.(*afero.OsFs); !ok {
		return false
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	pathInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	homeInfo, err := os.Stat(home)
	if err != nil {
		return false
	}
	pathStat, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	homeStat, ok := homeInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return pathStat.Dev == homeStat.Dev
}

// gitToplevel runs `git rev-parse --show-toplevel` in dir under the git
// deadline.
//
// Returns ("", nil) when git is not installed or dir is not inside a
// repository; both cases fall through to the filesystem walk. Returns a
// sentinel-wrapped error on timeout, empty output, or any other
// subprocess failure.
func (d *Discoverer) gitToplevel(ctx context.Context, dir string) (string, error) {
	gitCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if err != nil {
		if gitCtx.Err() == context.DeadlineExceeded {
			return "", ErrGitTimeout
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Not a git repository: fall through silently.
			return "", nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			// Git not installed: fall through silently.
			return "", nil
		}
		return "", errors.Join(ErrGitFailed, err)
	}

	root := strings.TrimSpace(stdout.String())
	if root == "" {
		return "", ErrEmptyGitRoot
	}
	return root, nil
}
