// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry exposes Prometheus metrics for the scanner. All
// metrics use the "repoint_" prefix for consistent naming.
package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pre-defined metrics for the scanner service.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts pipeline runs by strategy and status.
	RunsTotal *prometheus.CounterVec

	// RunDuration records whole-run duration in seconds.
	RunDuration prometheus.Histogram

	// StageDuration records per-stage duration in seconds.
	StageDuration *prometheus.HistogramVec

	// StageFailures counts stages that degraded to an empty result.
	StageFailures *prometheus.CounterVec

	// CacheHitsTotal counts result-cache hits.
	CacheHitsTotal prometheus.Counter

	// CacheMissesTotal counts result-cache misses.
	CacheMissesTotal prometheus.Counter

	// FilesDiscovered records the file count per run.
	FilesDiscovered prometheus.Histogram
}

// NewMetrics creates the scanner metrics and registers them on reg.
// Registration is idempotent: collectors already present on the
// registry are reused, so repeated construction against the default
// registerer cannot panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoint_runs_total",
			Help: "Pipeline runs by strategy and status.",
		}, []string{"strategy", "status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repoint_run_duration_seconds",
			Help:    "Whole-run duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoint_stage_duration_seconds",
			Help:    "Per-stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoint_stage_failures_total",
			Help: "Stages that degraded to an empty result.",
		}, []string{"stage"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoint_result_cache_hits_total",
			Help: "Result cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoint_result_cache_misses_total",
			Help: "Result cache misses.",
		}),
		FilesDiscovered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repoint_files_discovered",
			Help:    "Files discovered per run.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
	}

	m.RunsTotal = register(reg, m.RunsTotal).(*prometheus.CounterVec)
	m.RunDuration = register(reg, m.RunDuration).(prometheus.Histogram)
	m.StageDuration = register(reg, m.StageDuration).(*prometheus.HistogramVec)
	m.StageFailures = register(reg, m.StageFailures).(*prometheus.CounterVec)
	m.CacheHitsTotal = register(reg, m.CacheHitsTotal).(prometheus.Counter)
	m.CacheMissesTotal = register(reg, m.CacheMissesTotal).(prometheus.Counter)
	m.FilesDiscovered = register(reg, m.FilesDiscovered).(prometheus.Histogram)
	return m
}

// ObserveStage implements pipeline.StageObserver.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveStageFailure implements pipeline.StageObserver.
func (m *Metrics) ObserveStageFailure(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}

// register adds c to reg, returning the previously registered
// collector when one with the same descriptor already exists.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector
	}
	// Duplicate descriptors are the only expected failure; anything
	// else means the metric definitions themselves are broken.
	panic(err)
}
