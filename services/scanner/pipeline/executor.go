// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// Execution parameters.
const (
	// islandWorkers bounds the standard strategy's parallel island.
	islandWorkers = 4

	// DefaultStageTimeout bounds each independent stage in the
	// optimized strategy.
	DefaultStageTimeout = 5 * time.Minute
)

// StageObserver receives per-stage timing and degradation signals.
// Implemented by the telemetry package; a nil observer disables both.
type StageObserver interface {
	// ObserveStage records one stage execution's duration.
	ObserveStage(stage string, seconds float64)

	// ObserveStageFailure counts one stage result degrading to empty.
	ObserveStageFailure(stage string)
}

// RunStats summarizes one pipeline run for the output envelope and
// logs.
type RunStats struct {
	// Strategy actually used. When FallbackUsed is set this is
	// StrategyStandard even though optimized was selected.
	Strategy Strategy

	// FallbackUsed reports a transparent optimized-to-standard
	// fallback.
	FallbackUsed bool

	// StagesCompleted counts stages that produced a non-degraded
	// result.
	StagesCompleted int

	// DegradedStages lists stages whose result degraded to empty, in
	// sorted order.
	DegradedStages []string

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithStageTimeout overrides the optimized strategy's per-stage
// timeout. Tests use short timeouts.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stageTimeout = d }
}

// WithObserver attaches a stage timing observer.
func WithObserver(obs StageObserver) Option {
	return func(e *Executor) { e.observer = obs }
}

// Executor runs the full stage set over a file list. It is stateless
// across runs and safe for concurrent use.
type Executor struct {
	stages       StageSet
	estimator    *Estimator
	logger       *logging.Logger
	observer     StageObserver
	stageTimeout time.Duration
}

// NewExecutor creates an Executor. The stage set must be complete and
// the estimator non-nil.
func NewExecutor(stages StageSet, estimator *Estimator, logger *logging.Logger, opts ...Option) (*Executor, error) {
	if err := stages.Validate(); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, fmt.Errorf("nil estimator")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Executor{
		stages:       stages,
		estimator:    estimator,
		logger:       logger,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes every stage over files and returns the populated
// Context. Stage failures degrade to empty results; a failure of the
// optimized strategy itself falls back to the standard strategy. The
// returned error is reserved for context cancellation before the run
// could start.
func (e *Executor) Run(ctx context.Context, files []string) (*Context, RunStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, RunStats{}, err
	}
	start := time.Now()

	strategy := e.estimator.Select(files)
	e.logger.Info("pipeline starting",
		"strategy", string(strategy),
		"file_count", len(files),
	)

	run := newRunState()
	var pc *Context
	var err error
	fallback := false

	if strategy == StrategyOptimized {
		pc, err = e.runOptimized(ctx, files, run)
		if err != nil {
			e.logger.Warn("optimized pipeline failed, falling back to standard", "error", err)
			fallback = true
			strategy = StrategyStandard
			run = newRunState()
			pc = e.runStandard(ctx, files, run)
		}
	} else {
		pc = e.runStandard(ctx, files, run)
	}

	stats := RunStats{
		Strategy:        strategy,
		FallbackUsed:    fallback,
		StagesCompleted: run.completed(),
		DegradedStages:  run.degraded(),
		Duration:        time.Since(start),
	}
	e.logger.Info("pipeline finished",
		"strategy", string(stats.Strategy),
		"stages_completed", stats.StagesCompleted,
		"degraded", len(stats.DegradedStages),
		"duration", stats.Duration.String(),
	)
	return pc, stats, nil
}

// runStandard executes the sequential plan with the governance/intent
// parallel island.
func (e *Executor) runStandard(ctx context.Context, files []string, run *runState) *Context {
	pc := NewContext(files)

	for _, stage := range []Stage{
		e.stages.Structural,
		e.stages.Semantic,
		e.stages.AdvancedCode,
		e.stages.Comprehension,
		e.stages.Security,
		e.stages.Compliance,
		e.stages.Dependency,
		e.stages.Duplication,
		e.stages.API,
		e.stages.TestSignals,
	} {
		e.mustPut(pc, stage.Name(), e.safeRun(ctx, stage, files, pc, run))
	}

	// Parallel island: governance and a speculative intent draft
	// overlap; intent is then recomputed against real governance, so
	// the draft never survives into the Context.
	island := pool.NewWithResults[Result]().WithMaxGoroutines(islandWorkers)
	island.Go(func() Result {
		return e.safeRun(ctx, e.stages.Governance, files, pc, run)
	})
	island.Go(func() Result {
		return e.safeDraft(ctx, files, pc)
	})
	islandResults := island.Wait()
	governance := islandResults[0]

	e.mustPut(pc, e.stages.Governance.Name(), governance)
	e.mustPut(pc, e.stages.Intent.Name(), e.safeFinal(ctx, files, pc, governance, run))

	for _, stage := range []Stage{
		e.stages.Misleading,
		e.stages.SafeChange,
		e.stages.Risk,
		e.stages.Decision,
		e.stages.Authority,
		e.stages.Determinism,
	} {
		e.mustPut(pc, stage.Name(), e.safeRun(ctx, stage, files, pc, run))
	}
	return pc
}

// runOptimized fans the independent stages out concurrently, each
// under its own timeout, then runs the dependent tail sequentially.
// A panic in the orchestration itself is returned as an error so Run
// can fall back.
func (e *Executor) runOptimized(ctx context.Context, files []string, run *runState) (pc *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			pc = nil
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()

	pc = NewContext(files)
	e.mustPut(pc, e.stages.Structural.Name(), e.safeRun(ctx, e.stages.Structural, files, pc, run))
	e.mustPut(pc, e.stages.Semantic.Name(), e.safeRun(ctx, e.stages.Semantic, files, pc, run))

	independent := e.stages.independent()
	fanout := pool.NewWithResults[Result]()
	for _, stage := range independent {
		stage := stage
		fanout.Go(func() Result {
			return e.runWithTimeout(ctx, stage, files, pc, run)
		})
	}
	// Results arrive in submission order, so insertion into the
	// Context is deterministic regardless of completion order.
	results := fanout.Wait()
	for i, stage := range independent {
		e.mustPut(pc, stage.Name(), results[i])
	}

	governance := e.safeRun(ctx, e.stages.Governance, files, pc, run)
	e.mustPut(pc, e.stages.Governance.Name(), governance)
	e.mustPut(pc, e.stages.Intent.Name(), e.safeFinal(ctx, files, pc, governance, run))

	for _, stage := range []Stage{
		e.stages.Misleading,
		e.stages.SafeChange,
		e.stages.Risk,
		e.stages.Decision,
		e.stages.Authority,
		e.stages.Determinism,
	} {
		e.mustPut(pc, stage.Name(), e.safeRun(ctx, stage, files, pc, run))
	}
	return pc, nil
}

// safeRun executes one stage with fault isolation: an error or panic
// degrades the result to empty and is logged as a warning.
func (e *Executor) safeRun(ctx context.Context, stage Stage, files []string, pc *Context, run *runState) Result {
	start := time.Now()
	result, err := e.callStage(ctx, stage, files, pc)
	e.observe(stage.Name(), time.Since(start))

	if err != nil {
		e.logger.Warn("stage degraded", "stage", stage.Name(), "error", err)
		run.markDegraded(stage.Name())
		e.observeFailure(stage.Name())
		return Result{}
	}
	run.markCompleted()
	if result == nil {
		result = Result{}
	}
	return result
}

// runWithTimeout is safeRun with a deadline. On timeout the stage's
// goroutine is abandoned and the result degrades to empty. Run-state
// and observer updates happen here, not in the stage goroutine, so an
// abandoned stage finishing late cannot report a second outcome.
func (e *Executor) runWithTimeout(ctx context.Context, stage Stage, files []string, pc *Context, run *runState) Result {
	sctx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		result, err := e.callStage(sctx, stage, files, pc)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		e.observe(stage.Name(), time.Since(start))
		if out.err != nil {
			e.logger.Warn("stage degraded", "stage", stage.Name(), "error", out.err)
			run.markDegraded(stage.Name())
			e.observeFailure(stage.Name())
			return Result{}
		}
		run.markCompleted()
		if out.result == nil {
			return Result{}
		}
		return out.result
	case <-sctx.Done():
		e.logger.Warn("stage degraded",
			"stage", stage.Name(),
			"error", &StageError{StageName: stage.Name(), Err: ErrStageTimeout},
		)
		run.markDegraded(stage.Name())
		e.observeFailure(stage.Name())
		return Result{}
	}
}

// safeDraft runs the intent Reconciler's speculative phase. Draft
// failures are logged at debug only; the final phase is authoritative.
func (e *Executor) safeDraft(ctx context.Context, files []string, pc *Context) Result {
	result, err := func() (r Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: %v", ErrStagePanic, rec)
			}
		}()
		return e.stages.Intent.Draft(ctx, files, pc)
	}()
	if err != nil {
		e.logger.Debug("intent draft failed", "error", err)
		return Result{}
	}
	return result
}

// safeFinal runs the intent Reconciler's authoritative phase with
// fault isolation.
func (e *Executor) safeFinal(ctx context.Context, files []string, pc *Context, governance Result, run *runState) Result {
	start := time.Now()
	result, err := func() (r Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: %v", ErrStagePanic, rec)
			}
		}()
		return e.stages.Intent.Final(ctx, files, pc, governance)
	}()
	e.observe(e.stages.Intent.Name(), time.Since(start))

	if err != nil {
		e.logger.Warn("stage degraded",
			"stage", e.stages.Intent.Name(),
			"error", &StageError{StageName: e.stages.Intent.Name(), Err: err},
		)
		run.markDegraded(e.stages.Intent.Name())
		e.observeFailure(e.stages.Intent.Name())
		return Result{}
	}
	run.markCompleted()
	if result == nil {
		result = Result{}
	}
	return result
}

// callStage invokes stage.Run with panic recovery.
func (e *Executor) callStage(ctx context.Context, stage Stage, files []string, pc *Context) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &StageError{StageName: stage.Name(), Err: fmt.Errorf("%w: %v", ErrStagePanic, rec)}
		}
	}()
	result, err = stage.Run(ctx, files, pc)
	if err != nil {
		err = &StageError{StageName: stage.Name(), Err: err}
	}
	return result, err
}

// mustPut writes a stage result into the Context. A duplicate write is
// an orchestration bug, not a stage failure, so it panics; runOptimized
// converts the panic into its fallback path.
func (e *Executor) mustPut(pc *Context, key string, result Result) {
	if err := pc.Put(key, result); err != nil {
		panic(err)
	}
}

func (e *Executor) observe(stage string, d time.Duration) {
	if e.observer != nil {
		e.observer.ObserveStage(stage, d.Seconds())
	}
}

func (e *Executor) observeFailure(stage string) {
	if e.observer != nil {
		e.observer.ObserveStageFailure(stage)
	}
}

// runState collects per-run counters. Concurrent stages report through
// it, so it carries its own lock.
type runState struct {
	mu            sync.Mutex
	stagesOK      int
	degradedNames map[string]struct{}
}

func newRunState() *runState {
	return &runState{degradedNames: make(map[string]struct{})}
}

func (r *runState) markCompleted() {
	r.mu.Lock()
	r.stagesOK++
	r.mu.Unlock()
}

func (r *runState) markDegraded(name string) {
	r.mu.Lock()
	r.degradedNames[name] = struct{}{}
	r.mu.Unlock()
}

func (r *runState) completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stagesOK
}

func (r *runState) degraded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.degradedNames))
	for name := range r.degradedNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
