// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoint/pkg/logging"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })
	return logger
}

// =============================================================================
// FileCache
// =============================================================================

func TestFileCache_MemoizesReads(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("package a"), 0644))

	c := NewFileCache(fs)
	assert.Equal(t, "package a", c.Read("/repo/a.go"))

	// Content changes on disk do not affect the memo within a run.
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("changed"), 0644))
	assert.Equal(t, "package a", c.Read("/repo/a.go"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, "changed", c.Read("/repo/a.go"))
}

func TestFileCache_UnreadableYieldsEmpty(t *testing.T) {
	c := NewFileCache(afero.NewMemMapFs())
	assert.Equal(t, "", c.Read("/missing.go"))
	// The miss is memoized too.
	assert.Equal(t, 1, c.Len())
}

// =============================================================================
// Ledger
// =============================================================================

func TestLedger_PartitionsChangedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("aaa"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/repo/b.go", []byte("bbb"), 0644))

	ledger := NewLedger(fs, "/cache", quietLogger(t))

	// First run: everything is new, so everything is changed.
	changed, unchanged := ledger.ChangedFiles([]string{"/repo/a.go", "/repo/b.go"})
	assert.ElementsMatch(t, []string{"/repo/a.go", "/repo/b.go"}, changed)
	assert.Empty(t, unchanged)

	// Second run with no edits: nothing changed.
	changed, unchanged = ledger.ChangedFiles([]string{"/repo/a.go", "/repo/b.go"})
	assert.Empty(t, changed)
	assert.ElementsMatch(t, []string{"/repo/a.go", "/repo/b.go"}, unchanged)

	// Edit one file.
	require.NoError(t, afero.WriteFile(fs, "/repo/b.go", []byte("BBB"), 0644))
	changed, unchanged = ledger.ChangedFiles([]string{"/repo/a.go", "/repo/b.go"})
	assert.Equal(t, []string{"/repo/b.go"}, changed)
	assert.Equal(t, []string{"/repo/a.go"}, unchanged)
}

func TestLedger_PersistsAcrossInstances(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("aaa"), 0644))

	first := NewLedger(fs, "/cache", quietLogger(t))
	first.ChangedFiles([]string{"/repo/a.go"})

	second := NewLedger(fs, "/cache", quietLogger(t))
	changed, unchanged := second.ChangedFiles([]string{"/repo/a.go"})
	assert.Empty(t, changed)
	assert.Equal(t, []string{"/repo/a.go"}, unchanged)
}

func TestLedger_CorruptFileResets(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cache/file_hashes.json", []byte("{not json"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("aaa"), 0644))

	ledger := NewLedger(fs, "/cache", quietLogger(t))
	changed, _ := ledger.ChangedFiles([]string{"/repo/a.go"})
	assert.Equal(t, []string{"/repo/a.go"}, changed)
}

// =============================================================================
// ResultCache
// =============================================================================

func TestResultCache_Key(t *testing.T) {
	c := NewResultCache(afero.NewMemMapFs(), "/cache", 0, quietLogger(t))

	key := c.Key("/repo", []string{"b.go", "a.go"}, "semantic")
	assert.Len(t, key, 16)

	// File order must not matter.
	assert.Equal(t, key, c.Key("/repo", []string{"a.go", "b.go"}, "semantic"))

	// Kind and repo must matter.
	assert.NotEqual(t, key, c.Key("/repo", []string{"a.go", "b.go"}, "security"))
	assert.NotEqual(t, key, c.Key("/other", []string{"a.go", "b.go"}, "semantic"))
}

func TestResultCache_RoundTrip(t *testing.T) {
	c := NewResultCache(afero.NewMemMapFs(), "/cache", time.Hour, quietLogger(t))

	key := c.Key("/repo", []string{"a.go"}, "semantic")
	c.Put(key, map[string]any{"files_analyzed": float64(1)})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, float64(1), got["files_analyzed"])
}

func TestResultCache_Miss(t *testing.T) {
	c := NewResultCache(afero.NewMemMapFs(), "/cache", time.Hour, quietLogger(t))
	_, ok := c.Get("0123456789abcdef")
	assert.False(t, ok)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewResultCache(fs, "/cache", time.Hour, quietLogger(t))

	key := c.Key("/repo", []string{"a.go"}, "semantic")
	c.Put(key, map[string]any{"v": float64(1)})

	// Fresh entry hits.
	_, ok := c.Get(key)
	require.True(t, ok)

	// Advance the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok = c.Get(key)
	assert.False(t, ok)

	// The expired entry was removed.
	exists, err := afero.Exists(fs, "/cache/"+key+".json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestResultCache_CorruptEntryIsMissAndRemoved(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cache/deadbeefdeadbeef.json", []byte("{broken"), 0644))

	c := NewResultCache(fs, "/cache", time.Hour, quietLogger(t))
	_, ok := c.Get("deadbeefdeadbeef")
	assert.False(t, ok)

	exists, err := afero.Exists(fs, "/cache/deadbeefdeadbeef.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestResultCache_Clear(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewResultCache(fs, "/cache", time.Hour, quietLogger(t))

	key := c.Key("/repo", []string{"a.go"}, "semantic")
	c.Put(key, map[string]any{"v": float64(1)})
	require.NoError(t, c.Clear())

	_, ok := c.Get(key)
	assert.False(t, ok)
}

// =============================================================================
// StreamingReader
// =============================================================================

func TestStreamingReader_SmallSetInline(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/a.go", []byte("aaa"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/repo/b.go", []byte("bbb"), 0644))

	reader := NewStreamingReader(NewFileCache(fs), 10, 2)
	results, err := reader.Process(context.Background(), []string{"/repo/a.go", "/repo/b.go"},
		func(batch []FileContent) any { return len(batch) })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0])
}

func TestStreamingReader_BatchOrderStable(t *testing.T) {
	fs := afero.NewMemMapFs()
	var paths []string
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("/repo/f%02d.go", i)
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0644))
		paths = append(paths, path)
	}

	reader := NewStreamingReader(NewFileCache(fs), 5, 3)
	results, err := reader.Process(context.Background(), paths,
		func(batch []FileContent) any {
			// Stagger completion to shuffle finish order.
			time.Sleep(time.Duration(len(batch[0].Path)%4) * time.Millisecond)
			return batch[0].Path
		})
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Results come back in batch order, not completion order.
	assert.Equal(t, "/repo/f00.go", results[0])
	assert.Equal(t, "/repo/f05.go", results[1])
	assert.Equal(t, "/repo/f10.go", results[2])
	assert.Equal(t, "/repo/f15.go", results[3])
}

func TestStreamingReader_ConcurrencyLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	var paths []string
	for i := 0; i < 30; i++ {
		path := fmt.Sprintf("/repo/f%02d.go", i)
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0644))
		paths = append(paths, path)
	}

	var inFlight, peak atomic.Int64
	reader := NewStreamingReader(NewFileCache(fs), 5, 2)
	_, err := reader.Process(context.Background(), paths,
		func(batch []FileContent) any {
			current := inFlight.Add(1)
			for {
				seen := peak.Load()
				if current <= seen || peak.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestStreamingReader_EmptyInput(t *testing.T) {
	reader := NewStreamingReader(NewFileCache(afero.NewMemMapFs()), 0, 0)
	results, err := reader.Process(context.Background(), nil,
		func(batch []FileContent) any { return nil })
	require.NoError(t, err)
	assert.Nil(t, results)
}
