// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates the scanner's analysis stages.
//
// A pipeline run threads a canonical file list through a fixed set of
// stages. Each stage is a pure function of the file list and the
// results written so far; it communicates only through the Result it
// returns. Results accumulate in a Context, an append-only blackboard
// that only the orchestrating goroutine writes.
//
// # Stage Contract
//
// Stages must not mutate shared state, must tolerate empty or partial
// upstream results, and should return an error rather than panic. The
// executor catches both errors and panics and degrades the stage's
// entry to an empty Result, so one broken stage never aborts a run.
//
// # Strategies
//
// The executor picks between two strategies using the complexity
// estimator:
//
//   - standard: sequential order, with governance and a draft intent
//     classification overlapped in a small worker pool, then the
//     intent result reconciled against real governance.
//   - optimized: the eight mutually independent analysis stages fan
//     out concurrently, each under its own timeout. Selected for large
//     repositories; any top-level failure falls back to standard.
//
// Either way the final Context is identical for identical inputs
// regardless of completion order.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// Stage Names
// =============================================================================

// Context keys for each stage's result. These are also the top-level
// keys of the scanner's output envelope.
const (
	KeyStructure     = "structure"
	KeySemantic      = "semantic"
	KeyAdvancedCode  = "advanced_code_analysis"
	KeyComprehension = "code_comprehension"
	KeySecurity      = "security_analysis"
	KeyCompliance    = "compliance_analysis"
	KeyDependency    = "dependency_analysis"
	KeyDuplication   = "code_duplication_analysis"
	KeyAPI           = "api_analysis"
	KeyTestSignals   = "test_signals"
	KeyGovernance    = "governance"
	KeyIntentPosture = "intent_posture"
	KeyMisleading    = "misleading_signals"
	KeySafeChange    = "safe_change_surface"
	KeyRiskSynthesis = "risk_synthesis"
	KeyDecision      = "decision_artifacts"
	KeyAuthority     = "authority_ceiling_evaluation"
	KeyDeterminism   = "determinism_verification"
)

// StageKeys lists every stage result key in pipeline order.
var StageKeys = []string{
	KeyStructure,
	KeySemantic,
	KeyAdvancedCode,
	KeyComprehension,
	KeySecurity,
	KeyCompliance,
	KeyDependency,
	KeyDuplication,
	KeyAPI,
	KeyTestSignals,
	KeyGovernance,
	KeyIntentPosture,
	KeyMisleading,
	KeySafeChange,
	KeyRiskSynthesis,
	KeyDecision,
	KeyAuthority,
	KeyDeterminism,
}

// =============================================================================
// Result
// =============================================================================

// Result is one stage's JSON-serializable output. The accessor methods
// tolerate missing keys and wrong types, returning zero values, so
// downstream stages degrade instead of panicking on partial upstream
// data.
type Result map[string]any

// Map returns the nested mapping at key, or an empty Result.
func (r Result) Map(key string) Result {
	switch v := r[key].(type) {
	case Result:
		return v
	case map[string]any:
		return Result(v)
	default:
		return Result{}
	}
}

// Float returns the numeric value at key, or 0.
func (r Result) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the numeric value at key truncated to int, or 0.
func (r Result) Int(key string) int {
	return int(r.Float(key))
}

// String returns the string at key, or "".
func (r Result) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the bool at key, or false.
func (r Result) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// Slice returns the list at key, or nil.
func (r Result) Slice(key string) []any {
	if v, ok := r[key].([]any); ok {
		return v
	}
	return nil
}

// Strings returns the list at key coerced to strings, dropping
// non-string elements. A []string value is returned as is.
func (r Result) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// =============================================================================
// Context
// =============================================================================

// Context is the blackboard a pipeline run writes stage results into.
// Entries are append-only: writing a key twice is an error, which
// keeps concurrently computed results from silently clobbering each
// other. Only the orchestrating goroutine writes, but stage goroutines
// read concurrently, and a stage abandoned after a timeout may still
// be reading while the orchestrator moves on. The map is lock-guarded
// for that reason.
type Context struct {
	files []string

	mu      sync.RWMutex
	results map[string]Result
}

// NewContext creates a Context over the canonical file list.
func NewContext(files []string) *Context {
	return &Context{
		files:   files,
		results: make(map[string]Result),
	}
}

// Files returns the canonical file list for this run. Callers must not
// mutate it.
func (c *Context) Files() []string {
	return c.files
}

// Get returns the result stored under key.
func (c *Context) Get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[key]
	return r, ok
}

// GetOr returns the result stored under key, or an empty Result.
func (c *Context) GetOr(key string) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.results[key]; ok {
		return r
	}
	return Result{}
}

// Keys returns the stored keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.results))
	for k := range c.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put stores a result. Append-only: a second write to the same key
// fails with ErrDuplicateResult.
func (c *Context) Put(key string, result Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateResult, key)
	}
	if result == nil {
		result = Result{}
	}
	c.results[key] = result
	return nil
}

// =============================================================================
// Stage
// =============================================================================

// Stage is one unit of analysis.
//
// Run must be a pure function of (files, pc): no shared mutable state,
// results communicated only through the return value. Run should
// return an error instead of panicking; the executor converts both
// into an empty result for this stage.
type Stage interface {
	// Name returns the context key this stage's result is stored under.
	Name() string

	// Run executes the stage against the file list and prior results.
	Run(ctx context.Context, files []string, pc *Context) (Result, error)
}

// StageFunc is a plain function satisfying the stage contract.
type StageFunc func(ctx context.Context, files []string, pc *Context) (Result, error)

// FuncStage adapts a StageFunc to the Stage interface.
type FuncStage struct {
	name string
	fn   StageFunc
}

// NewFuncStage creates a Stage from a function. Mostly used in tests.
func NewFuncStage(name string, fn StageFunc) *FuncStage {
	return &FuncStage{name: name, fn: fn}
}

// Name returns the stage name.
func (s *FuncStage) Name() string { return s.name }

// Run invokes the wrapped function.
func (s *FuncStage) Run(ctx context.Context, files []string, pc *Context) (Result, error) {
	return s.fn(ctx, files, pc)
}

// Reconciler is a Stage computed in two phases: an optimistic draft
// produced before governance is known, then a final result reconciled
// against the real governance signal. The draft lets the stage overlap
// with governance in the standard strategy's worker pool; the final
// phase is authoritative and is what lands in the Context.
type Reconciler interface {
	Stage

	// Draft computes the stage speculatively with no governance input.
	Draft(ctx context.Context, files []string, pc *Context) (Result, error)

	// Final recomputes the stage with the real governance result.
	Final(ctx context.Context, files []string, pc *Context, governance Result) (Result, error)
}

// =============================================================================
// StageSet
// =============================================================================

// StageSet names every stage the executor runs. All fields are
// required; Validate rejects an incomplete set before a run starts.
type StageSet struct {
	Structural    Stage
	Semantic      Stage
	AdvancedCode  Stage
	Comprehension Stage
	Security      Stage
	Compliance    Stage
	Dependency    Stage
	Duplication   Stage
	API           Stage
	TestSignals   Stage
	Governance    Stage
	Intent        Reconciler
	Misleading    Stage
	SafeChange    Stage
	Risk          Stage
	Decision      Stage
	Authority     Stage
	Determinism   Stage
}

// Validate returns ErrMissingStage naming the first nil stage, if any.
func (s *StageSet) Validate() error {
	checks := []struct {
		name  string
		stage Stage
	}{
		{"structural", s.Structural},
		{"semantic", s.Semantic},
		{"advanced code", s.AdvancedCode},
		{"comprehension", s.Comprehension},
		{"security", s.Security},
		{"compliance", s.Compliance},
		{"dependency", s.Dependency},
		{"duplication", s.Duplication},
		{"api", s.API},
		{"test signals", s.TestSignals},
		{"governance", s.Governance},
		{"misleading", s.Misleading},
		{"safe change", s.SafeChange},
		{"risk", s.Risk},
		{"decision", s.Decision},
		{"authority", s.Authority},
		{"determinism", s.Determinism},
	}
	for _, check := range checks {
		if check.stage == nil {
			return fmt.Errorf("%w: %s", ErrMissingStage, check.name)
		}
	}
	if s.Intent == nil {
		return fmt.Errorf("%w: intent", ErrMissingStage)
	}
	return nil
}

// independent returns the stages that may run concurrently in the
// optimized strategy. They depend only on structure and semantic, and
// are pairwise independent of each other.
func (s *StageSet) independent() []Stage {
	return []Stage{
		s.AdvancedCode,
		s.Comprehension,
		s.Security,
		s.Compliance,
		s.Dependency,
		s.Duplication,
		s.API,
		s.TestSignals,
	}
}
