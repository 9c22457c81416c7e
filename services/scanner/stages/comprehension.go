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
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Comprehension produces a readable per-file assessment of the most
// important code files: what each file is, how hard it is to follow,
// and what might bite a reader. Only the first ten code files in
// canonical order are assessed so the stage stays cheap on large
// repositories.
type Comprehension struct {
	files *cache.FileCache
}

// comprehensionFileLimit caps how many files get a full assessment.
const comprehensionFileLimit = 10

// comprehensionConfidence is the fixed per-file confidence.
const comprehensionConfidence = 0.8

// Name returns the context key for the comprehension assessment.
func (c *Comprehension) Name() string { return pipeline.KeyComprehension }

var (
	classRe     = regexp.MustCompile(`(?m)^\s*(?:class|type)\s+[A-Z]`)
	decoratorRe = regexp.MustCompile(`(?m)^\s*@\w+`)
	asyncRe     = regexp.MustCompile(`\basync\b|\bawait\b|\bgo func\b|\bgoroutine\b`)
	errorRe     = regexp.MustCompile(`\btry\b|\bcatch\b|\bexcept\b|if err != nil`)
	contextRe   = regexp.MustCompile(`\bwith\s+\w+|\bdefer\b|context\.Context`)
	broadRe     = regexp.MustCompile(`except\s*:|except\s+Exception`)
	evalRe      = regexp.MustCompile(`\beval\s*\(|\bexec\s*\(`)
	printRe     = regexp.MustCompile(`\bprint\s*\(|console\.log\s*\(|fmt\.Print`)
	logRe       = regexp.MustCompile(`(?i)\blog(ger|ging)?\b`)
)

// Run assesses the leading code files.
func (c *Comprehension) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	codeFiles := make([]string, 0)
	for _, f := range paths {
		if isCodeFile(f) {
			codeFiles = append(codeFiles, f)
		}
	}
	totalAvailable := len(codeFiles)
	if len(codeFiles) > comprehensionFileLimit {
		codeFiles = codeFiles[:comprehensionFileLimit]
	}

	analyses := make([]any, 0, len(codeFiles))
	allIssues := make([]string, 0)
	patternCounts := make(map[string]int)
	highComplexity := 0
	analyzed := 0

	for _, path := range codeFiles {
		content := c.files.Read(path)
		if content == "" {
			continue
		}
		analyzed++
		lines := strings.Split(content, "\n")
		funcCount := 0
		for _, line := range lines {
			if _, ok := matchFunction(ext(path), line); ok {
				funcCount++
			}
		}
		classCount := len(classRe.FindAllString(content, -1))

		complexity := "Low complexity"
		switch {
		case len(lines) > 500 || funcCount+classCount > 20:
			complexity = "High complexity"
			highComplexity++
		case len(lines) > 200 || funcCount+classCount > 10:
			complexity = "Medium complexity"
		}

		patterns := filePatterns(content, classCount)
		for _, p := range patterns {
			patternCounts[p]++
		}

		issues := fileIssues(path, content)
		allIssues = append(allIssues, issues...)

		analyses = append(analyses, map[string]any{
			"file_path":        path,
			"summary":          fileSummary(len(lines), funcCount, classCount),
			"intent":           fileIntent(path, content, classCount),
			"complexity":       complexity,
			"patterns":         toAny(patterns),
			"potential_issues": toAny(issues),
			"confidence":       comprehensionConfidence,
		})
	}

	highRatio := 0.0
	density := 0.0
	if analyzed > 0 {
		highRatio = float64(highComplexity) / float64(analyzed)
		density = float64(len(allIssues)) / float64(analyzed)
	}
	maturity := "Well-structured and maintainable"
	switch {
	case highRatio > 0.5:
		maturity = "Complex codebase - may need refactoring"
	case highRatio > 0.2:
		maturity = "Moderately mature codebase with some complexity"
	}

	topPatterns := rankedPatterns(patternCounts, 5)

	indicators := allIssues
	if len(indicators) > 10 {
		indicators = indicators[:10]
	}

	return pipeline.Result{
		"comprehension_analysis": analyses,
		"architecture_patterns":  toAny(topPatterns),
		"quality_assessment": map[string]any{
			"code_maturity":            maturity,
			"architecture_consistency": len(topPatterns) > 2,
			"issue_density":            density,
			"pattern_diversity":        len(patternCounts),
		},
		"risk_indicators": toAny(indicators),
		"analysis_metadata": map[string]any{
			"files_analyzed":        analyzed,
			"total_files_available": totalAvailable,
		},
	}, nil
}

func fileSummary(lines, funcs, classes int) string {
	return fmt.Sprintf("Code file with %d lines containing %d functions and %d classes",
		lines, funcs, classes)
}

func fileIntent(path, content string, classCount int) string {
	base := strings.ToLower(path)
	switch {
	case strings.HasSuffix(base, "main.py") || strings.HasSuffix(base, "main.go") ||
		strings.Contains(content, "__main__"):
		return "Main entry point"
	case classCount > 2:
		return "Object-oriented component"
	case strings.Contains(base, "util") || strings.Contains(base, "helper"):
		return "Utility module"
	default:
		return "General purpose module"
	}
}

func filePatterns(content string, classCount int) []string {
	patterns := make([]string, 0)
	if classCount > 0 {
		patterns = append(patterns, "Object-oriented design")
	}
	if decoratorRe.MatchString(content) {
		patterns = append(patterns, "Decorator usage")
	}
	if asyncRe.MatchString(content) {
		patterns = append(patterns, "Asynchronous execution")
	}
	if strings.Contains(content, "import ") {
		patterns = append(patterns, "Modular imports")
	}
	if errorRe.MatchString(content) {
		patterns = append(patterns, "Error handling")
	}
	if contextRe.MatchString(content) {
		patterns = append(patterns, "Context management")
	}
	return patterns
}

func fileIssues(path, content string) []string {
	issues := make([]string, 0)
	if len(content) > 10000 {
		issues = append(issues, path+": large file may be hard to navigate")
	}
	if strings.Contains(content, "TODO") {
		issues = append(issues, path+": unresolved TODO comments")
	}
	if printRe.MatchString(content) && !logRe.MatchString(content) {
		issues = append(issues, path+": raw printing instead of logging")
	}
	if broadRe.MatchString(content) {
		issues = append(issues, path+": overly broad exception handling")
	}
	if evalRe.MatchString(content) {
		issues = append(issues, path+": dynamic code execution")
	}
	return issues
}

func rankedPatterns(counts map[string]int, limit int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}
