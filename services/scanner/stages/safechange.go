// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// SafeChange models how safely the repository can be modified. Five
// factors each get a safety level; the overall level is their average.
type SafeChange struct{}

// ChangeConfidence is the fixed confidence attached to the model.
const ChangeConfidence = 0.8

// Name returns the context key for the change-safety model.
func (s *SafeChange) Name() string { return pipeline.KeySafeChange }

var safetyLevelValues = map[string]float64{
	"very_low": 1, "low": 2, "medium": 3, "high": 4,
}

// Run computes the change-safety model from upstream results.
func (s *SafeChange) Run(_ context.Context, files []string, pc *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)
	structure := pc.GetOr(pipeline.KeyStructure)
	semantic := pc.GetOr(pipeline.KeySemantic)
	testSignals := pc.GetOr(pipeline.KeyTestSignals)
	governance := pc.GetOr(pipeline.KeyGovernance)
	dependency := pc.GetOr(pipeline.KeyDependency)
	intent := pc.GetOr(pipeline.KeyIntentPosture)

	factors := map[string]any{
		"test_coverage": s.testCoverageFactor(testSignals),
		"complexity":    s.complexityFactor(semantic),
		"dependency":    s.dependencyFactor(governance, dependency, semantic),
		"critical_path": s.criticalPathFactor(paths, intent),
		"documentation": s.documentationFactor(structure, governance),
	}

	total := 0.0
	for _, name := range sortedKeys(factors) {
		factor := factors[name].(map[string]any)
		v, ok := safetyLevelValues[fmt.Sprint(factor["safety_level"])]
		if !ok {
			v = 2
		}
		total += v
	}
	average := total / float64(len(factors))

	level, description := "very_low", "Changes carry substantial risk without further analysis"
	switch {
	case average >= 3.5:
		level, description = "high", "Generally safe to make changes"
	case average >= 2.5:
		level, description = "medium", "Most changes are safe with normal review"
	case average >= 1.5:
		level, description = "low", "Changes need careful review and added tests"
	}

	safe, unsafe := s.changeLists(factors)

	return pipeline.Result{
		"overall_change_safety": map[string]any{
			"overall_safety_level": level,
			"description":          description,
			"average_safety_score": average,
		},
		"safety_factors":    factors,
		"safe_changes":      toAny(safe),
		"unsafe_changes":    toAny(unsafe),
		"change_confidence": ChangeConfidence,
	}, nil
}

func (s *SafeChange) testCoverageFactor(testSignals pipeline.Result) map[string]any {
	maturity := testSignals.Float("testing_maturity_score")
	level := "very_low"
	switch {
	case maturity >= 0.8:
		level = "high"
	case maturity >= 0.6:
		level = "medium"
	case maturity >= 0.3:
		level = "low"
	}
	return map[string]any{
		"safety_level":   level,
		"maturity_score": maturity,
		"description":    fmt.Sprintf("Testing maturity score is %.2f", maturity),
	}
}

func (s *SafeChange) complexityFactor(semantic pipeline.Result) map[string]any {
	functions := semantic.Slice("functions")
	complexCount := 0
	for _, fn := range functions {
		if m, ok := fn.(map[string]any); ok && pipeline.Result(m).Float("complexity") > 15 {
			complexCount++
		}
	}
	ratio := 0.0
	if len(functions) > 0 {
		ratio = float64(complexCount) / float64(len(functions))
	}
	level := "low"
	switch {
	case ratio < 0.1:
		level = "high"
	case ratio < 0.3:
		level = "medium"
	}
	return map[string]any{
		"safety_level":           level,
		"complex_function_ratio": ratio,
		"complex_function_count": complexCount,
		"description":            fmt.Sprintf("%.0f%% of functions are complex", ratio*100),
	}
}

func (s *SafeChange) dependencyFactor(governance, dependency, semantic pipeline.Result) map[string]any {
	hasLocks := governance.Map("dependency_governance").Bool("has_lock_files")
	vulnerable := len(dependency.Slice("vulnerabilities")) > 0

	imports := semantic.Strings("imports")
	external := 0
	for _, imp := range imports {
		if strings.Contains(imp, ".") {
			external++
		}
	}
	ratio := 0.0
	if len(imports) > 0 {
		ratio = float64(external) / float64(len(imports))
	}

	level := "medium"
	switch {
	case !hasLocks:
		level = "low"
	case vulnerable:
		level = "low"
	case ratio < 0.3:
		level = "high"
	}
	return map[string]any{
		"safety_level":          level,
		"has_lock_files":        hasLocks,
		"has_vulnerabilities":   vulnerable,
		"external_import_ratio": ratio,
		"description":           "Dependency surface stability for changes",
	}
}

func (s *SafeChange) criticalPathFactor(paths []string, intent pipeline.Result) map[string]any {
	critical := make([]string, 0)
	primary := intent.Map("primary_intent").String("intent")
	for _, f := range paths {
		lower := strings.ToLower(f)
		switch {
		case strings.HasSuffix(lower, "main.py") || strings.HasSuffix(lower, "main.go") ||
			strings.HasSuffix(lower, "__main__.py") || strings.HasSuffix(lower, "app.py"):
			critical = append(critical, f)
		case primary == "library" && strings.HasSuffix(lower, "__init__.py"):
			critical = append(critical, f)
		case isConfigFile(f) && !strings.Contains(lower, "test"):
			critical = append(critical, f)
		case strings.Contains(lower, ".github/workflows") || strings.Contains(lower, ".gitlab-ci"):
			critical = append(critical, f)
		}
	}
	critical = sortedUnique(critical)
	ratio := 0.0
	if len(paths) > 0 {
		ratio = float64(len(critical)) / float64(len(paths))
	}
	level := "low"
	switch {
	case ratio < 0.1:
		level = "high"
	case ratio < 0.3:
		level = "medium"
	}
	if len(critical) > 10 {
		critical = critical[:10]
	}
	return map[string]any{
		"safety_level":        level,
		"critical_file_ratio": ratio,
		"critical_files":      toAny(critical),
		"description":         "Share of files on the repository's critical path",
	}
}

func (s *SafeChange) documentationFactor(structure, governance pipeline.Result) map[string]any {
	counts := structure.Map("file_counts")
	coverage := 0.0
	if counts.Int("code") > 0 {
		coverage = float64(counts.Int("docs")) / float64(counts.Int("code"))
	}
	docs := governance.Map("documentation_governance")
	hasReadme := len(docs.Strings("readme_files")) > 0
	apiDocs := docs.Bool("api_docs")

	level := "very_low"
	switch {
	case coverage > 0.5 && hasReadme && apiDocs:
		level = "high"
	case coverage > 0.2 && hasReadme:
		level = "medium"
	case hasReadme:
		level = "low"
	}
	return map[string]any{
		"safety_level":           level,
		"documentation_coverage": coverage,
		"has_readme":             hasReadme,
		"has_api_docs":           apiDocs,
		"description":            fmt.Sprintf("Documentation coverage is %.2f", coverage),
	}
}

// changeLists derives which kinds of change are safe given the factor
// levels. Both lists are sorted for deterministic output.
func (s *SafeChange) changeLists(factors map[string]any) (safe, unsafe []string) {
	level := func(name string) string {
		return fmt.Sprint(factors[name].(map[string]any)["safety_level"])
	}
	classify := func(change, factor string, okLevels ...string) {
		l := level(factor)
		for _, okLevel := range okLevels {
			if l == okLevel {
				safe = append(safe, change)
				return
			}
		}
		unsafe = append(unsafe, change)
	}
	classify("refactoring_internal_logic", "test_coverage", "high", "medium")
	classify("modifying_complex_functions", "complexity", "high")
	classify("upgrading_dependencies", "dependency", "high", "medium")
	classify("editing_entry_points_and_config", "critical_path", "high")
	classify("changing_public_interfaces", "documentation", "high", "medium")
	sort.Strings(safe)
	sort.Strings(unsafe)
	return safe, unsafe
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
