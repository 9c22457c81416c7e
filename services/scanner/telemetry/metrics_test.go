// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunsTotal.WithLabelValues("standard", "success").Inc()
	m.CacheHitsTotal.Inc()
	m.CacheHitsTotal.Inc()
	m.CacheMissesTotal.Inc()
	m.ObserveStage("structure", 0.25)
	m.ObserveStageFailure("security_analysis")
	m.ObserveStageFailure("security_analysis")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("standard", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("security_analysis")))
}

func TestNewMetricsIdempotentRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	first.CacheHitsTotal.Inc()

	var second *Metrics
	require.NotPanics(t, func() { second = NewMetrics(reg) })

	// Second construction reuses the registered collectors, so counts
	// carry over.
	second.CacheHitsTotal.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(first.CacheHitsTotal))
}
