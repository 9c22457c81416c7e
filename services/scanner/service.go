// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scanner assembles repository discovery, the incremental
// caches, the stage pipeline, and telemetry into the scan service.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/decision"
	"github.com/AleutianAI/repoint/services/scanner/determinism"
	"github.com/AleutianAI/repoint/services/scanner/discovery"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
	"github.com/AleutianAI/repoint/services/scanner/risk"
	"github.com/AleutianAI/repoint/services/scanner/stages"
	"github.com/AleutianAI/repoint/services/scanner/telemetry"
)

// analysisKind identifies whole-run entries in the result cache.
const analysisKind = "full_analysis"

// Config carries the scanner's construction parameters.
type Config struct {
	// CacheDir roots the persistent ledger and result cache. Empty
	// disables persistent caching entirely.
	CacheDir string

	// MaxCacheAge bounds result-cache entry age. Zero means
	// cache.DefaultMaxAge.
	MaxCacheAge time.Duration

	// StageTimeout bounds each stage in the optimized strategy. Zero
	// keeps the pipeline default.
	StageTimeout time.Duration

	// Fs is the filesystem everything reads through. Nil means the OS
	// filesystem.
	Fs afero.Fs

	Logger  *logging.Logger
	Metrics *telemetry.Metrics
}

// Scanner runs the full analysis pipeline against a repository.
type Scanner struct {
	fs           afero.Fs
	logger       *logging.Logger
	metrics      *telemetry.Metrics
	discoverer   *discovery.Discoverer
	ledger       *cache.Ledger
	results      *cache.ResultCache
	stageTimeout time.Duration
}

// New creates a Scanner from cfg.
func New(cfg Config) *Scanner {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Scanner{
		fs:           fs,
		logger:       logger,
		metrics:      cfg.Metrics,
		discoverer:   discovery.NewWithFs(fs, logger),
		stageTimeout: cfg.StageTimeout,
	}
	if cfg.CacheDir != "" {
		maxAge := cfg.MaxCacheAge
		if maxAge <= 0 {
			maxAge = cache.DefaultMaxAge
		}
		s.ledger = cache.NewLedger(fs, cfg.CacheDir, logger)
		s.results = cache.NewResultCache(fs, cfg.CacheDir, maxAge, logger)
	}
	return s
}

// ClearCache removes persisted results. The change ledger is left in
// place; it re-hashes on the next run regardless.
func (s *Scanner) ClearCache() error {
	if s.results == nil {
		return nil
	}
	return s.results.Clear()
}

// Scan analyzes the repository at path and returns the result
// envelope. When no file changed since the previous run and a fresh
// cached envelope exists, that envelope is returned without running
// the pipeline.
func (s *Scanner) Scan(ctx context.Context, path string) (pipeline.Result, error) {
	runID := uuid.NewString()
	start := time.Now()

	root, err := s.discoverer.DiscoverRoot(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	files := s.discoverer.ListFiles(root)

	s.logger.Info("scan starting",
		"run_id", runID, "root", root, "file_count", len(files))
	if s.metrics != nil {
		s.metrics.FilesDiscovered.Observe(float64(len(files)))
	}

	if cached, ok := s.cachedEnvelope(root, files); ok {
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.Inc()
		}
		s.logger.Info("scan served from result cache", "run_id", runID, "root", root)
		return cached, nil
	}
	if s.metrics != nil && s.results != nil {
		s.metrics.CacheMissesTotal.Inc()
	}

	pc, stats, err := s.runPipeline(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	envelope := s.envelope(runID, root, files, pc, stats, time.Since(start))
	if s.results != nil {
		s.results.Put(s.results.Key(root, files, analysisKind), envelope)
	}

	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
		status := "success"
		if len(stats.DegradedStages) > 0 {
			status = "degraded"
		}
		s.metrics.RunsTotal.WithLabelValues(string(stats.Strategy), status).Inc()
	}
	return envelope, nil
}

// cachedEnvelope returns the stored envelope when the ledger reports
// no changed files. Any change at all forces a full recompute.
func (s *Scanner) cachedEnvelope(root string, files []string) (pipeline.Result, bool) {
	if s.ledger == nil || s.results == nil {
		return nil, false
	}
	changed, _ := s.ledger.ChangedFiles(files)
	if len(changed) > 0 {
		return nil, false
	}
	stored, ok := s.results.Get(s.results.Key(root, files, analysisKind))
	if !ok {
		return nil, false
	}
	return pipeline.Result(stored), true
}

func (s *Scanner) runPipeline(ctx context.Context, files []string) (*pipeline.Context, pipeline.RunStats, error) {
	set := stages.Set(cache.NewFileCache(s.fs), s.logger)
	set.Risk = risk.NewSynthesizer(s.logger)
	set.Decision = decision.NewArtifacts(s.logger)
	set.Authority = decision.NewEvaluator(s.logger)
	set.Determinism = determinism.NewVerifier(s.logger)

	var opts []pipeline.Option
	if s.stageTimeout > 0 {
		opts = append(opts, pipeline.WithStageTimeout(s.stageTimeout))
	}
	if s.metrics != nil {
		opts = append(opts, pipeline.WithObserver(s.metrics))
	}

	executor, err := pipeline.NewExecutor(set, pipeline.NewEstimator(s.fs), s.logger, opts...)
	if err != nil {
		return nil, pipeline.RunStats{}, err
	}
	return executor.Run(ctx, files)
}

// envelope flattens the run into the JSON-shaped output contract:
// every stage result under its own key plus run metadata.
func (s *Scanner) envelope(runID, root string, files []string, pc *pipeline.Context, stats pipeline.RunStats, elapsed time.Duration) pipeline.Result {
	fileList := make([]any, 0, len(files))
	for _, f := range files {
		fileList = append(fileList, f)
	}

	out := pipeline.Result{
		"run_id":          runID,
		"repository_root": root,
		"file_count":      len(files),
		"files":           fileList,
	}
	for _, key := range pipeline.StageKeys {
		out[key] = map[string]any(pc.GetOr(key))
	}

	status := "complete_implementation"
	workers := 4
	if stats.Strategy == pipeline.StrategyOptimized {
		status = "optimized_pipeline_complete"
		workers = 8
	}

	degraded := make([]any, 0, len(stats.DegradedStages))
	for _, name := range stats.DegradedStages {
		degraded = append(degraded, name)
	}

	out["performance_metrics"] = map[string]any{
		"execution_time_seconds": elapsed.Seconds(),
		"pipeline_type":          string(stats.Strategy),
		"worker_count":           workers,
		"stages_completed":       stats.StagesCompleted,
		"degraded_stages":        degraded,
		"fallback_used":          stats.FallbackUsed,
	}
	out["status"] = status
	return out
}
