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
	"math"
	"regexp"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// AdvancedCode computes deeper per-file metrics than the semantic
// stage: cyclomatic and cognitive complexity, Halstead estimates,
// control flow shape, and variable definition/usage counts.
type AdvancedCode struct {
	files *cache.FileCache
}

// Name returns the context key for the advanced code analysis.
func (a *AdvancedCode) Name() string { return pipeline.KeyAdvancedCode }

var (
	assignmentRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?::=|=)[^=]`)
	declRe       = regexp.MustCompile(`^\s*(?:var|let|const)\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	operatorRe   = regexp.MustCompile(`[+\-*/%=<>!&|^]+|\b(and|or|not|in|is)\b`)
	operandRe    = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b|\b\d+(\.\d+)?\b`)
	controlRe    = regexp.MustCompile(`\b(if|else|for|while|switch|case|try|catch|except|finally)\b`)
)

// Run analyzes every file in an understood language.
func (a *AdvancedCode) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	complexity := make(map[string]any)
	controlFlow := make(map[string]any)
	dataFlow := make(map[string]any)
	insights := make([]any, 0)

	totalFuncs := 0
	complexitySum := 0.0
	analyzed := 0
	highComplexityFiles := make([]string, 0)
	frequentRedefs := make([]string, 0)

	for _, path := range paths {
		if !analyzableExtensions[ext(path)] {
			continue
		}
		content := a.files.Read(path)
		if content == "" {
			continue
		}
		analyzed++
		lines := strings.Split(content, "\n")

		cyclomatic := 1 + len(decisionRe.FindAllString(content, -1))
		cognitive := cyclomatic + maxNesting(lines, ext(path))
		loc := len(normalizeLines(content))
		fileScore := float64(cyclomatic+cognitive) / 2
		complexity[path] = map[string]any{
			"cyclomatic_complexity": cyclomatic,
			"cognitive_complexity":  cognitive,
			"halstead_metrics":      halstead(content),
			"lines_of_code":         loc,
			"complexity_score":      fileScore,
		}
		complexitySum += fileScore

		funcs := make([]any, 0)
		funcCount := 0
		for i, line := range lines {
			if name, ok := matchFunction(ext(path), line); ok {
				funcCount++
				funcs = append(funcs, map[string]any{
					"name":       name,
					"line":       i + 1,
					"complexity": functionComplexity(ext(path), lines, i),
				})
			}
		}
		totalFuncs += funcCount
		avgFuncComplexity := 0.0
		if funcCount > 0 {
			sum := 0.0
			for _, fn := range funcs {
				sum += pipeline.Result(fn.(map[string]any)).Float("complexity")
			}
			avgFuncComplexity = sum / float64(funcCount)
		}
		controlFlow[path] = map[string]any{
			"functions":                   funcs,
			"control_structures":          len(controlRe.FindAllString(content, -1)),
			"total_functions":             funcCount,
			"average_function_complexity": avgFuncComplexity,
		}
		if avgFuncComplexity > 10 {
			highComplexityFiles = append(highComplexityFiles, path)
		}

		variables := a.variableFlow(lines, content)
		dataFlow[path] = map[string]any{"variables": variables}
		for _, name := range sortedKeys(variables) {
			v := variables[name].(map[string]any)
			if pipeline.Result(v).Int("total_definitions") > 5 {
				frequentRedefs = append(frequentRedefs, fmt.Sprintf("%s:%s", path, name))
			}
		}
	}

	if len(highComplexityFiles) > 0 {
		insights = append(insights, map[string]any{
			"type":     "complexity_warning",
			"severity": "medium",
			"description": fmt.Sprintf("%d files average function complexity above 10",
				len(highComplexityFiles)),
			"files": toAny(highComplexityFiles),
		})
	}
	for _, ref := range frequentRedefs {
		insights = append(insights, map[string]any{
			"type":        "data_flow_warning",
			"severity":    "low",
			"description": fmt.Sprintf("variable %s is redefined more than 5 times", ref),
		})
	}

	avgComplexity := 0.0
	if analyzed > 0 {
		avgComplexity = complexitySum / float64(analyzed)
	}

	return pipeline.Result{
		"complexity_analysis":   complexity,
		"control_flow_analysis": controlFlow,
		"data_flow_analysis":    dataFlow,
		"advanced_insights":     insights,
		"analysis_summary": map[string]any{
			"total_files_analyzed":     analyzed,
			"total_functions_analyzed": totalFuncs,
			"average_complexity":       avgComplexity,
		},
	}, nil
}

// maxNesting estimates nesting depth from indentation. Python code is
// assumed to indent by four spaces, everything else by tab or two.
func maxNesting(lines []string, e string) int {
	divisor := 2
	if e == ".py" {
		divisor = 4
	}
	deepest := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := 0
		for _, r := range line {
			if r == ' ' {
				indent++
			} else if r == '\t' {
				indent += divisor
			} else {
				break
			}
		}
		if depth := indent / divisor; depth > deepest {
			deepest = depth
		}
	}
	return deepest
}

func halstead(content string) map[string]any {
	operators := operatorRe.FindAllString(content, -1)
	operands := operandRe.FindAllString(content, -1)
	distinctOps := len(sortedUnique(operators))
	distinctOperands := len(sortedUnique(operands))

	vocabulary := distinctOps + distinctOperands
	length := len(operators) + len(operands)
	volume := 0.0
	if vocabulary > 0 {
		volume = float64(length) * math.Log2(float64(vocabulary))
	}
	return map[string]any{
		"distinct_operators": distinctOps,
		"distinct_operands":  distinctOperands,
		"total_operators":    len(operators),
		"total_operands":     len(operands),
		"vocabulary":         vocabulary,
		"length":             length,
		"volume":             math.Round(volume*100) / 100,
	}
}

func (a *AdvancedCode) variableFlow(lines []string, content string) map[string]any {
	defs := make(map[string]int)
	for _, line := range lines {
		for _, re := range []*regexp.Regexp{assignmentRe, declRe} {
			if m := re.FindStringSubmatch(line); m != nil {
				defs[m[1]]++
			}
		}
	}
	variables := make(map[string]any, len(defs))
	for name, count := range defs {
		usages := strings.Count(content, name) - count
		if usages < 0 {
			usages = 0
		}
		variables[name] = map[string]any{
			"total_definitions": count,
			"total_usages":      usages,
		}
	}
	return variables
}
