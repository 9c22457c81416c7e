// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Default streaming parameters. Batches are sized so a large
// repository never has all contents resident at once.
const (
	DefaultBatchSize     = 50
	DefaultMaxConcurrent = 4
)

// FileContent pairs a path with its content for batch processing.
type FileContent struct {
	Path    string
	Content string
}

// BatchFunc processes one batch of file contents into a result. It
// must be safe for concurrent invocation across batches.
type BatchFunc func(batch []FileContent) any

// StreamingReader reads and processes files in fixed-size batches
// under a concurrency limit. File reads go through a shared FileCache,
// so later stages touching the same files hit the memo.
type StreamingReader struct {
	files         *FileCache
	batchSize     int
	maxConcurrent int64
}

// NewStreamingReader creates a StreamingReader over the given
// FileCache. Non-positive parameters select the defaults.
func NewStreamingReader(files *FileCache, batchSize, maxConcurrent int) *StreamingReader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &StreamingReader{
		files:         files,
		batchSize:     batchSize,
		maxConcurrent: int64(maxConcurrent),
	}
}

// Process reads paths in batches and applies fn to each batch. At most
// maxConcurrent batches are in flight at once, gated by a semaphore.
// Results are returned in batch order regardless of completion order,
// preserving the scanner's determinism contract.
//
// A file set at or under one batch is processed inline without
// spawning goroutines.
func (s *StreamingReader) Process(ctx context.Context, paths []string, fn BatchFunc) ([]any, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if len(paths) <= s.batchSize {
		return []any{fn(s.readBatch(paths))}, nil
	}

	var batches [][]string
	for start := 0; start < len(paths); start += s.batchSize {
		end := start + s.batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batches = append(batches, paths[start:end])
	}

	results := make([]any, len(batches))
	sem := semaphore.NewWeighted(s.maxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			results[i] = fn(s.readBatch(batch))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// readBatch materializes one batch through the file cache. Unreadable
// files appear with empty content rather than being dropped, so batch
// shapes stay aligned with their input paths.
func (s *StreamingReader) readBatch(paths []string) []FileContent {
	batch := make([]FileContent, 0, len(paths))
	for _, path := range paths {
		batch = append(batch, FileContent{Path: path, Content: s.files.Read(path)})
	}
	return batch
}
