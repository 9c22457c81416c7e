// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/AleutianAI/repoint/pkg/logging"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// testIntent is a minimal Reconciler whose final result records the
// governance maturity it saw, so tests can verify reconciliation.
type testIntent struct {
	delay time.Duration
}

func (s *testIntent) Name() string { return KeyIntentPosture }

func (s *testIntent) Run(ctx context.Context, files []string, pc *Context) (Result, error) {
	return s.Final(ctx, files, pc, pc.GetOr(KeyGovernance))
}

func (s *testIntent) Draft(ctx context.Context, files []string, pc *Context) (Result, error) {
	time.Sleep(s.delay)
	return Result{"phase": "draft", "governance_seen": false}, nil
}

func (s *testIntent) Final(ctx context.Context, files []string, pc *Context, governance Result) (Result, error) {
	return Result{
		"phase":           "final",
		"governance_seen": governance.Bool("present"),
	}, nil
}

// countingStage returns a fixed result after an optional delay.
func countingStage(name string, delay time.Duration) Stage {
	return NewFuncStage(name, func(ctx context.Context, files []string, pc *Context) (Result, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return Result{"stage": name, "file_count": len(files)}, nil
	})
}

// testStages builds a complete stage set. delays lets a test stagger
// individual stages by name.
func testStages(delays map[string]time.Duration) StageSet {
	mk := func(name string) Stage {
		return countingStage(name, delays[name])
	}
	return StageSet{
		Structural:    mk(KeyStructure),
		Semantic:      mk(KeySemantic),
		AdvancedCode:  mk(KeyAdvancedCode),
		Comprehension: mk(KeyComprehension),
		Security:      mk(KeySecurity),
		Compliance:    mk(KeyCompliance),
		Dependency:    mk(KeyDependency),
		Duplication:   mk(KeyDuplication),
		API:           mk(KeyAPI),
		TestSignals:   mk(KeyTestSignals),
		Governance: NewFuncStage(KeyGovernance, func(ctx context.Context, files []string, pc *Context) (Result, error) {
			if d := delays[KeyGovernance]; d > 0 {
				time.Sleep(d)
			}
			return Result{"present": true}, nil
		}),
		Intent:      &testIntent{delay: delays[KeyIntentPosture]},
		Misleading:  mk(KeyMisleading),
		SafeChange:  mk(KeySafeChange),
		Risk:        mk(KeyRiskSynthesis),
		Decision:    mk(KeyDecision),
		Authority:   mk(KeyAuthority),
		Determinism: mk(KeyDeterminism),
	}
}

// recordingObserver captures observer callbacks for assertions. Stage
// callbacks arrive from pool goroutines, so it locks.
type recordingObserver struct {
	mu       sync.Mutex
	timings  map[string]int
	failures map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		timings:  make(map[string]int),
		failures: make(map[string]int),
	}
}

func (o *recordingObserver) ObserveStage(stage string, seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timings[stage]++
}

func (o *recordingObserver) ObserveStageFailure(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[stage]++
}

func (o *recordingObserver) failureCount(stage string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures[stage]
}

func newTestExecutor(t *testing.T, stages StageSet, opts ...Option) *Executor {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })
	e, err := NewExecutor(stages, NewEstimator(afero.NewMemMapFs()), logger, opts...)
	if err != nil {
		t.Fatalf("NewExecutor() failed: %v", err)
	}
	return e
}

// =============================================================================
// Validation
// =============================================================================

func TestNewExecutor_MissingStage(t *testing.T) {
	stages := testStages(nil)
	stages.Security = nil
	logger := logging.New(logging.Config{Quiet: true})
	defer logger.Close()

	_, err := NewExecutor(stages, NewEstimator(afero.NewMemMapFs()), logger)
	if !errors.Is(err, ErrMissingStage) {
		t.Errorf("NewExecutor() error = %v, want ErrMissingStage", err)
	}
}

// =============================================================================
// Standard Strategy
// =============================================================================

func TestExecutor_Standard_AllStagesPresent(t *testing.T) {
	e := newTestExecutor(t, testStages(nil))
	files := manyFiles("/r/f%d.go", 5)

	pc, stats, err := e.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Strategy != StrategyStandard {
		t.Errorf("Strategy = %v, want standard", stats.Strategy)
	}
	for _, key := range StageKeys {
		if _, ok := pc.Get(key); !ok {
			t.Errorf("missing context entry %q", key)
		}
	}
}

// Test the intent result is reconciled with real governance, not the
// speculative draft.
func TestExecutor_Standard_IntentReconciled(t *testing.T) {
	// A slow draft guarantees governance finishes first and a slow
	// governance guarantees the draft finishes first; both orderings
	// must yield the reconciled result.
	for name, delays := range map[string]map[string]time.Duration{
		"governance finishes first": {KeyIntentPosture: 20 * time.Millisecond},
		"draft finishes first":      {KeyGovernance: 20 * time.Millisecond},
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestExecutor(t, testStages(delays))
			pc, _, err := e.Run(context.Background(), []string{"/r/a.go"})
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			intent := pc.GetOr(KeyIntentPosture)
			if intent.String("phase") != "final" {
				t.Errorf("intent phase = %q, want final", intent.String("phase"))
			}
			if !intent.Bool("governance_seen") {
				t.Error("intent was not reconciled with real governance")
			}
		})
	}
}

// =============================================================================
// Fault Isolation
// =============================================================================

func TestExecutor_StageErrorDegrades(t *testing.T) {
	stages := testStages(nil)
	stages.Security = NewFuncStage(KeySecurity, func(ctx context.Context, files []string, pc *Context) (Result, error) {
		return nil, errors.New("scanner exploded")
	})

	e := newTestExecutor(t, stages)
	pc, stats, err := e.Run(context.Background(), []string{"/r/a.go"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	security, ok := pc.Get(KeySecurity)
	if !ok {
		t.Fatal("degraded stage missing from context")
	}
	if len(security) != 0 {
		t.Errorf("degraded stage result = %v, want empty", security)
	}
	if !reflect.DeepEqual(stats.DegradedStages, []string{KeySecurity}) {
		t.Errorf("DegradedStages = %v, want [security_analysis]", stats.DegradedStages)
	}

	// Downstream stages still executed.
	if _, ok := pc.Get(KeyDeterminism); !ok {
		t.Error("downstream stage did not run after a degraded stage")
	}
}

func TestExecutor_StagePanicDegrades(t *testing.T) {
	stages := testStages(nil)
	stages.Compliance = NewFuncStage(KeyCompliance, func(ctx context.Context, files []string, pc *Context) (Result, error) {
		panic("boom")
	})

	e := newTestExecutor(t, stages)
	pc, _, err := e.Run(context.Background(), []string{"/r/a.go"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	compliance, ok := pc.Get(KeyCompliance)
	if !ok || len(compliance) != 0 {
		t.Errorf("panicking stage should degrade to empty result, got %v (present=%v)", compliance, ok)
	}
	if _, ok := pc.Get(KeyRiskSynthesis); !ok {
		t.Error("downstream stage did not run after a panicking stage")
	}
}

// =============================================================================
// Optimized Strategy
// =============================================================================

func TestExecutor_Optimized_Selected(t *testing.T) {
	e := newTestExecutor(t, testStages(nil))
	files := manyFiles("/r/f%d.txt", 250)

	pc, stats, err := e.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Strategy != StrategyOptimized {
		t.Errorf("Strategy = %v, want optimized", stats.Strategy)
	}
	if stats.FallbackUsed {
		t.Error("unexpected fallback")
	}
	for _, key := range StageKeys {
		if _, ok := pc.Get(key); !ok {
			t.Errorf("missing context entry %q", key)
		}
	}
}

// Test the order-independence guarantee: staggering completion of the
// concurrent stages must not change any field of the final context.
func TestExecutor_Optimized_OrderIndependent(t *testing.T) {
	files := manyFiles("/r/f%d.txt", 250)

	snapshot := func(delays map[string]time.Duration) map[string]Result {
		e := newTestExecutor(t, testStages(delays))
		pc, _, err := e.Run(context.Background(), files)
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		out := make(map[string]Result)
		for _, key := range StageKeys {
			out[key] = pc.GetOr(key)
		}
		return out
	}

	baseline := snapshot(nil)
	reversed := snapshot(map[string]time.Duration{
		KeyAdvancedCode: 30 * time.Millisecond,
		KeySecurity:     20 * time.Millisecond,
		KeyAPI:          10 * time.Millisecond,
	})
	inverted := snapshot(map[string]time.Duration{
		KeyTestSignals: 30 * time.Millisecond,
		KeyDuplication: 20 * time.Millisecond,
		KeyCompliance:  10 * time.Millisecond,
	})

	if !reflect.DeepEqual(baseline, reversed) {
		t.Error("completion order changed the final context (reversed delays)")
	}
	if !reflect.DeepEqual(baseline, inverted) {
		t.Error("completion order changed the final context (inverted delays)")
	}
}

func TestExecutor_Optimized_TimeoutDegrades(t *testing.T) {
	stages := testStages(nil)
	stages.Duplication = countingStage(KeyDuplication, 500*time.Millisecond)

	e := newTestExecutor(t, stages, WithStageTimeout(50*time.Millisecond))
	files := manyFiles("/r/f%d.txt", 250)

	pc, stats, err := e.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	duplication, ok := pc.Get(KeyDuplication)
	if !ok || len(duplication) != 0 {
		t.Errorf("timed-out stage should degrade to empty, got %v (present=%v)", duplication, ok)
	}
	found := false
	for _, name := range stats.DegradedStages {
		if name == KeyDuplication {
			found = true
		}
	}
	if !found {
		t.Errorf("DegradedStages = %v, want to include %q", stats.DegradedStages, KeyDuplication)
	}
	if _, ok := pc.Get(KeyDeterminism); !ok {
		t.Error("run did not continue past the timed-out stage")
	}
}

// Test degraded stages reach the observer's failure hook, once each,
// on both the error path and the timeout path.
func TestExecutor_ObserverCountsFailures(t *testing.T) {
	t.Run("stage error", func(t *testing.T) {
		stages := testStages(nil)
		stages.Security = NewFuncStage(KeySecurity, func(ctx context.Context, files []string, pc *Context) (Result, error) {
			return nil, errors.New("scanner exploded")
		})

		obs := newRecordingObserver()
		e := newTestExecutor(t, stages, WithObserver(obs))
		if _, _, err := e.Run(context.Background(), []string{"/r/a.go"}); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if got := obs.failureCount(KeySecurity); got != 1 {
			t.Errorf("failure count for %q = %d, want 1", KeySecurity, got)
		}
		if got := obs.failureCount(KeyStructure); got != 0 {
			t.Errorf("failure count for %q = %d, want 0", KeyStructure, got)
		}
	})

	t.Run("stage timeout", func(t *testing.T) {
		stages := testStages(nil)
		stages.Duplication = countingStage(KeyDuplication, 300*time.Millisecond)

		obs := newRecordingObserver()
		e := newTestExecutor(t, stages, WithObserver(obs), WithStageTimeout(30*time.Millisecond))
		if _, _, err := e.Run(context.Background(), manyFiles("/r/f%d.txt", 250)); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}

		// Let the abandoned stage finish; its late outcome must not add
		// a second failure or a completion.
		time.Sleep(350 * time.Millisecond)
		if got := obs.failureCount(KeyDuplication); got != 1 {
			t.Errorf("failure count for %q = %d, want 1", KeyDuplication, got)
		}
	})
}

// Test a timed-out stage that outlives its abandonment can keep
// reading the context while the orchestrator writes the remaining
// entries. Run under the race detector this verifies the blackboard
// tolerates the overlap.
func TestExecutor_Optimized_AbandonedStageReadsSafely(t *testing.T) {
	stages := testStages(nil)
	stageDone := make(chan struct{})
	stages.TestSignals = NewFuncStage(KeyTestSignals, func(ctx context.Context, files []string, pc *Context) (Result, error) {
		defer close(stageDone)
		deadline := time.After(300 * time.Millisecond)
		for {
			select {
			case <-deadline:
				return Result{}, nil
			default:
				_ = pc.GetOr(KeyRiskSynthesis)
				_, _ = pc.Get(KeyDeterminism)
				_ = pc.Keys()
			}
		}
	})

	e := newTestExecutor(t, stages, WithStageTimeout(20*time.Millisecond))
	files := manyFiles("/r/f%d.txt", 250)

	pc, stats, err := e.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Strategy != StrategyOptimized {
		t.Fatalf("Strategy = %v, want optimized", stats.Strategy)
	}

	signals, ok := pc.Get(KeyTestSignals)
	if !ok || len(signals) != 0 {
		t.Errorf("timed-out stage should degrade to empty, got %v (present=%v)", signals, ok)
	}
	if _, ok := pc.Get(KeyDeterminism); !ok {
		t.Error("run did not continue past the abandoned stage")
	}

	// Wait for the abandoned goroutine so its reads all land inside
	// the test's lifetime.
	<-stageDone
}

// Test an orchestration-level failure in the optimized plan surfaces
// as an error so Run can fall back, instead of crashing.
func TestExecutor_Optimized_TopLevelFailureReturnsError(t *testing.T) {
	stages := testStages(nil)
	// Two stages claiming the same context key trip the append-only
	// blackboard during fanout insertion.
	stages.Duplication = countingStage(KeyAPI, 0)

	logger := logging.New(logging.Config{Quiet: true})
	defer logger.Close()
	e, err := NewExecutor(stages, NewEstimator(afero.NewMemMapFs()), logger)
	if err != nil {
		t.Fatalf("NewExecutor() failed: %v", err)
	}

	_, runErr := e.runOptimized(context.Background(), []string{"/r/a.go"}, newRunState())
	if runErr == nil {
		t.Fatal("runOptimized() should report duplicate-key orchestration failures")
	}
}

// =============================================================================
// Context and Result
// =============================================================================

func TestContext_AppendOnly(t *testing.T) {
	pc := NewContext(nil)
	if err := pc.Put(KeyStructure, Result{"a": 1}); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	err := pc.Put(KeyStructure, Result{"a": 2})
	if !errors.Is(err, ErrDuplicateResult) {
		t.Errorf("second put error = %v, want ErrDuplicateResult", err)
	}
	if pc.GetOr(KeyStructure).Float("a") != 1 {
		t.Error("duplicate put must not overwrite the original entry")
	}
}

func TestResult_Accessors(t *testing.T) {
	r := Result{
		"f":    3.5,
		"i":    7,
		"s":    "text",
		"b":    true,
		"m":    map[string]any{"inner": "v"},
		"list": []any{"a", 2, "b"},
	}

	if r.Float("f") != 3.5 || r.Float("i") != 7 || r.Float("missing") != 0 {
		t.Error("Float accessor mismatch")
	}
	if r.Int("i") != 7 {
		t.Error("Int accessor mismatch")
	}
	if r.String("s") != "text" || r.String("f") != "" {
		t.Error("String accessor mismatch")
	}
	if !r.Bool("b") || r.Bool("s") {
		t.Error("Bool accessor mismatch")
	}
	if r.Map("m").String("inner") != "v" {
		t.Error("Map accessor mismatch")
	}
	if len(r.Map("missing")) != 0 {
		t.Error("Map accessor should return empty for missing keys")
	}
	if got := r.Strings("list"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Strings accessor = %v, want [a b]", got)
	}
}
