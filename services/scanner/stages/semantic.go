// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Semantic extracts lightweight code facts without building an AST:
// declared functions with a coarse complexity estimate, the import
// surface, and quality signals worth surfacing. Contents arrive
// through the streaming reader, so a large repository is analyzed in
// bounded-concurrency batches rather than one flat pass.
type Semantic struct {
	reader *cache.StreamingReader
}

// Name returns the context key for the semantic model.
func (s *Semantic) Name() string { return pipeline.KeySemantic }

var (
	goFuncRe     = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	pyFuncRe     = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	jsFuncRe     = regexp.MustCompile(`(?:^|\s)function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)
	javaMethodRe = regexp.MustCompile(`^\s*(?:public|private|protected)\s+[\w<>\[\],\s]+\s([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)

	goImportRe = regexp.MustCompile(`^\s*(?:import\s+)?(?:[\w.]+\s+)?"([^"]+)"`)
	pyImportRe = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	jsImportRe = regexp.MustCompile(`(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`)

	decisionRe = regexp.MustCompile(`\b(if|for|while|case|switch|catch|except|elif|else if)\b|&&|\|\|`)
)

// semanticBatch is the partial result of one streamed batch.
type semanticBatch struct {
	analyzed  int
	imports   []string
	functions []any
	signals   []any
}

// Run analyzes every file in an understood language. Batches run
// concurrently but merge in batch order, so the output is independent
// of completion order.
func (s *Semantic) Run(ctx context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := make([]string, 0, len(files))
	for _, path := range normalizePaths(files) {
		if analyzableExtensions[ext(path)] {
			paths = append(paths, path)
		}
	}

	parts, err := s.reader.Process(ctx, paths, func(batch []cache.FileContent) any {
		return analyzeSemanticBatch(batch)
	})
	if err != nil {
		return nil, err
	}

	analyzed := 0
	imports := make([]string, 0)
	functions := make([]any, 0)
	signals := make([]any, 0)
	for _, part := range parts {
		b := part.(semanticBatch)
		analyzed += b.analyzed
		imports = append(imports, b.imports...)
		functions = append(functions, b.functions...)
		signals = append(signals, b.signals...)
	}

	return pipeline.Result{
		"files_analyzed":       analyzed,
		"imports":              toAny(sortedUnique(imports)),
		"functions":            functions,
		"code_quality_signals": signals,
	}, nil
}

func analyzeSemanticBatch(batch []cache.FileContent) semanticBatch {
	var out semanticBatch
	for _, file := range batch {
		if file.Content == "" {
			continue
		}
		e := ext(file.Path)
		out.analyzed++
		lines := strings.Split(file.Content, "\n")

		inImportBlock := false
		for i, line := range lines {
			out.imports = append(out.imports, extractImports(e, line, &inImportBlock)...)
			if name, ok := matchFunction(e, line); ok {
				out.functions = append(out.functions, map[string]any{
					"name":       name,
					"file":       file.Path,
					"line":       i + 1,
					"complexity": functionComplexity(e, lines, i),
				})
			}
		}

		if len(lines) > 500 {
			out.signals = append(out.signals, map[string]any{
				"type": "large_file", "file": file.Path,
				"detail": "file exceeds 500 lines",
			})
		}
		if strings.Contains(file.Content, "TODO") || strings.Contains(file.Content, "FIXME") {
			out.signals = append(out.signals, map[string]any{
				"type": "todo_comments", "file": file.Path,
				"detail": "unresolved TODO or FIXME markers",
			})
		}
	}
	return out
}

func matchFunction(e, line string) (string, bool) {
	var m []string
	switch e {
	case ".go":
		m = goFuncRe.FindStringSubmatch(line)
	case ".py":
		m = pyFuncRe.FindStringSubmatch(line)
	case ".js", ".ts":
		m = jsFuncRe.FindStringSubmatch(line)
	case ".java":
		m = javaMethodRe.FindStringSubmatch(line)
	}
	if m == nil {
		return "", false
	}
	return m[1], true
}

// functionComplexity counts decision points from the declaration until
// the next declaration at the same or shallower level, bounded to keep
// pathological files cheap.
func functionComplexity(e string, lines []string, start int) int {
	complexity := 1
	limit := start + 200
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := start; i < limit; i++ {
		if i > start {
			if _, ok := matchFunction(e, lines[i]); ok {
				break
			}
		}
		complexity += len(decisionRe.FindAllString(lines[i], -1))
	}
	return complexity
}

func extractImports(e, line string, inBlock *bool) []string {
	switch e {
	case ".go":
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			*inBlock = true
			return nil
		}
		if *inBlock && trimmed == ")" {
			*inBlock = false
			return nil
		}
		if *inBlock || strings.HasPrefix(trimmed, "import ") {
			if m := goImportRe.FindStringSubmatch(line); m != nil {
				return []string{m[1]}
			}
		}
	case ".py":
		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			if m[1] != "" {
				return []string{m[1]}
			}
			return []string{m[2]}
		}
	case ".js", ".ts":
		if m := jsImportRe.FindStringSubmatch(line); m != nil {
			return []string{m[1]}
		}
	case ".java":
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.TrimSuffix(strings.TrimPrefix(trimmed, "import "), ";")
			pkg = strings.TrimPrefix(pkg, "static ")
			return []string{strings.TrimSpace(pkg)}
		}
	}
	return nil
}
