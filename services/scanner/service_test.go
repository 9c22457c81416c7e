// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scanner

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
	"github.com/AleutianAI/repoint/services/scanner/telemetry"
)

func testFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/repo/main.py":            "import os\n\ndef main():\n    if os.getenv(\"DEBUG\"):\n        print(\"debug\")\n",
		"/repo/util.py":            "def helper(x):\n    return x * 2\n",
		"/repo/tests/test_util.py": "def test_helper():\n    assert True\n",
		"/repo/README.md":          "# demo\n",
		"/repo/requirements.txt":   "requests>=2.28.0\n",
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	}
	return fs
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestScanProducesCompleteEnvelope(t *testing.T) {
	s := New(Config{Fs: testFs(t), Logger: quietLogger(t)})

	out, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)

	assert.Equal(t, "/repo", out.String("repository_root"))
	assert.NotEmpty(t, out.String("run_id"))
	assert.Equal(t, 5, out.Int("file_count"))
	assert.Equal(t, "complete_implementation", out.String("status"))

	for _, key := range pipeline.StageKeys {
		assert.Contains(t, out, key)
	}

	perf := out.Map("performance_metrics")
	assert.Equal(t, string(pipeline.StrategyStandard), perf.String("pipeline_type"))
	assert.Equal(t, len(pipeline.StageKeys), perf.Int("stages_completed"))
	assert.Empty(t, perf.Slice("degraded_stages"))

	verification := out.Map(pipeline.KeyDeterminism)
	assert.Len(t, verification.String("determinism_hash"), 64)
}

func TestScanReusesEnvelopeWhenNothingChanged(t *testing.T) {
	fs := testFs(t)
	s := New(Config{Fs: fs, CacheDir: "/cache", Logger: quietLogger(t)})

	first, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)

	// The cached envelope keeps the original run id.
	assert.Equal(t, first.String("run_id"), second.String("run_id"))
	assert.Equal(t,
		first.Map(pipeline.KeyDeterminism).String("determinism_hash"),
		second.Map(pipeline.KeyDeterminism).String("determinism_hash"))
}

// Two independent full pipeline runs over identical trees must agree
// byte for byte on the canonical hash. Caching stays disabled so both
// runs execute every stage.
func TestScanDeterminismHashStableAcrossRuns(t *testing.T) {
	first, err := New(Config{Fs: testFs(t), Logger: quietLogger(t)}).
		Scan(context.Background(), "/repo")
	require.NoError(t, err)
	second, err := New(Config{Fs: testFs(t), Logger: quietLogger(t)}).
		Scan(context.Background(), "/repo")
	require.NoError(t, err)

	firstHash := first.Map(pipeline.KeyDeterminism).String("determinism_hash")
	secondHash := second.Map(pipeline.KeyDeterminism).String("determinism_hash")
	require.Len(t, firstHash, 64)
	assert.Equal(t, firstHash, secondHash)
	assert.NotEqual(t, first.String("run_id"), second.String("run_id"))
}

func TestScanRecomputesAfterFileChange(t *testing.T) {
	fs := testFs(t)
	s := New(Config{Fs: fs, CacheDir: "/cache", Logger: quietLogger(t)})

	first, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/repo/util.py",
		[]byte("def helper(x):\n    return x * 3\n"), 0644))

	second, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	assert.NotEqual(t, first.String("run_id"), second.String("run_id"))
}

func TestScanCountsCacheTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	s := New(Config{Fs: testFs(t), CacheDir: "/cache", Logger: quietLogger(t), Metrics: metrics})

	_, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), "/repo")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.RunsTotal.WithLabelValues(string(pipeline.StrategyStandard), "success")))
}

func TestClearCacheForcesRecompute(t *testing.T) {
	fs := testFs(t)
	s := New(Config{Fs: fs, CacheDir: "/cache", Logger: quietLogger(t)})

	first, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	require.NoError(t, s.ClearCache())

	second, err := s.Scan(context.Background(), "/repo")
	require.NoError(t, err)
	assert.NotEqual(t, first.String("run_id"), second.String("run_id"))
}
