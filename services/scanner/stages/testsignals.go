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
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// TestSignals classifies test files by kind and derives a testing
// maturity score. It reads the structural and semantic results from
// the blackboard rather than re-scanning contents.
type TestSignals struct{}

// Name returns the context key for test signals.
func (t *TestSignals) Name() string { return pipeline.KeyTestSignals }

// Run classifies tests and scores maturity.
func (t *TestSignals) Run(_ context.Context, files []string, pc *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)
	structure := pc.GetOr(pipeline.KeyStructure)
	semantic := pc.GetOr(pipeline.KeySemantic)

	byKind := map[string][]string{
		"unit": {}, "integration": {}, "e2e": {}, "other": {},
	}
	testCount := 0
	hasTestsDir := false
	for _, f := range paths {
		lower := strings.ToLower(f)
		if strings.HasPrefix(lower, "tests/") || strings.Contains(lower, "/tests/") {
			hasTestsDir = true
		}
		if !looksLikeTest(lower) {
			continue
		}
		testCount++
		byKind[testKind(lower)] = append(byKind[testKind(lower)], f)
	}

	codeCount := 0
	for _, f := range paths {
		if isCodeFile(f) && !looksLikeTest(strings.ToLower(f)) {
			codeCount++
		}
	}
	ratio := 0.0
	if codeCount > 0 {
		ratio = float64(testCount) / float64(codeCount)
	}

	testFunctions := 0
	for _, fn := range semantic.Slice("functions") {
		m, ok := fn.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(fmt.Sprint(m["name"]))
		if strings.HasPrefix(name, "test") {
			testFunctions++
		}
	}

	score := 0.0
	switch {
	case ratio > 0.5:
		score++
	case ratio > 0.2:
		score += 0.5
	}
	if len(structure.Strings("test_frameworks")) > 0 {
		score++
	}
	switch {
	case testFunctions > 10:
		score++
	case testFunctions > 0:
		score += 0.5
	}
	if hasTestsDir {
		score++
	}
	maturity := score / 5
	if maturity > 1 {
		maturity = 1
	}

	gaps := make([]any, 0)
	if !hasTestsDir {
		gaps = append(gaps, map[string]any{
			"type":        "missing_test_directory",
			"severity":    "medium",
			"description": "No dedicated tests directory found",
		})
	}
	if codeCount > 0 && ratio < 0.1 {
		gaps = append(gaps, map[string]any{
			"type":        "low_test_coverage",
			"severity":    "high",
			"description": fmt.Sprintf("Test to code ratio is only %.2f", ratio),
		})
	}
	untested := codeCount - testCount
	if untested > 5 && testCount == 0 {
		gaps = append(gaps, map[string]any{
			"type":        "untested_modules",
			"severity":    "high",
			"description": fmt.Sprintf("%d code files with no tests at all", untested),
		})
	}

	return pipeline.Result{
		"test_files": map[string]any{
			"unit":        toAny(byKind["unit"]),
			"integration": toAny(byKind["integration"]),
			"e2e":         toAny(byKind["e2e"]),
			"other":       toAny(byKind["other"]),
		},
		"test_file_count":        testCount,
		"code_file_count":        codeCount,
		"test_to_code_ratio":     ratio,
		"test_function_count":    testFunctions,
		"has_test_directory":     hasTestsDir,
		"testing_maturity_score": maturity,
		"test_gaps":              gaps,
	}, nil
}

func looksLikeTest(lower string) bool {
	for _, excluded := range []string{"node_modules", ".git/", "__pycache__"} {
		if strings.Contains(lower, excluded) {
			return false
		}
	}
	for _, marker := range []string{"_test.", ".test.", ".spec.", "tests/", "test_"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func testKind(lower string) string {
	switch {
	case strings.Contains(lower, "e2e") || strings.Contains(lower, "end_to_end"):
		return "e2e"
	case strings.Contains(lower, "integration"):
		return "integration"
	case strings.Contains(lower, "unit") || strings.Contains(lower, "test_") ||
		strings.Contains(lower, "_test."):
		return "unit"
	default:
		return "other"
	}
}
