// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoint/pkg/logging"
)

func TestSkipMatchesNamesAndGlobs(t *testing.T) {
	assert.True(t, skip(".git"))
	assert.True(t, skip("__pycache__"))
	assert.True(t, skip("editor.swp"))
	assert.True(t, skip("module.pyc"))
	assert.False(t, skip("main.py"))
	assert.False(t, skip("src"))
}

func TestWatcherBatchesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("pass\n"), 0644))

	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	var mu sync.Mutex
	var batches [][]string
	w, err := New(root, 50*time.Millisecond, func(changed []string) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, changed)
	}, logger)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("changed\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.py"), []byte("new\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, batch := range batches {
		for _, path := range batch {
			seen[filepath.Base(path)] = true
		}
	}
	assert.True(t, seen["main.py"] || seen["util.py"])
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	w, err := New(t.TempDir(), 0, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)

	w.Stop()
	w.Stop()
}
