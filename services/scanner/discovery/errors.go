// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package discovery

import (
	"errors"
	"fmt"
)

// Sentinel errors for repository discovery. Discovery failures are the
// only fatal errors in a scan; everything downstream degrades instead.
var (
	// ErrEmptyPath indicates an empty or whitespace-only start path.
	ErrEmptyPath = errors.New("empty start path")

	// ErrPathNotFound indicates the start path does not exist and no
	// enclosing repository root could be found.
	ErrPathNotFound = errors.New("start path does not exist")

	// ErrGitTimeout indicates the git root lookup exceeded its deadline.
	ErrGitTimeout = errors.New("git command timed out")

	// ErrGitFailed indicates the git subprocess could not be run at all.
	// A git binary that is merely absent does not produce this error;
	// discovery falls through to the filesystem walk in that case.
	ErrGitFailed = errors.New("git command failed")

	// ErrEmptyGitRoot indicates git succeeded but printed no root path.
	ErrEmptyGitRoot = errors.New("git returned empty root path")
)

// DiscoveryError wraps a discovery failure with the start path that
// triggered it.
//
// Use errors.Is to check for the underlying sentinel:
//
//	_, err := d.DiscoverRoot("/no/such/path")
//	if errors.Is(err, discovery.ErrPathNotFound) { ... }
type DiscoveryError struct {
	// Path is the start path passed to DiscoverRoot.
	Path string

	// Err is the underlying error.
	Err error
}

// Error returns "discover %q: <err>".
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
