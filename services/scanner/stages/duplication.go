// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Duplication finds copied code with a sliding window of normalized
// line blocks. Tests, vendored trees, and minified files are excluded
// so the score reflects hand-written duplication.
type Duplication struct {
	files *cache.FileCache
}

// duplicationBlockSize is the window length in lines.
const duplicationBlockSize = 6

// Name returns the context key for the duplication analysis.
func (d *Duplication) Name() string { return pipeline.KeyDuplication }

var duplicationExcludes = []string{
	"node_modules", "build/", "dist/", "target/", "__pycache__", "venv", ".min.",
}

// Run hashes every 6-line window and groups matches.
func (d *Duplication) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	blocks := make(map[string][]blockRef)
	linesByFile := make(map[string]int)
	totalLines := 0

	for _, path := range paths {
		if !isCodeFile(path) || d.excluded(path) {
			continue
		}
		content := d.files.Read(path)
		if content == "" {
			continue
		}
		normalized := normalizeLines(content)
		linesByFile[path] = len(normalized)
		totalLines += len(normalized)
		for i := 0; i+duplicationBlockSize <= len(normalized); i++ {
			window := strings.Join(normalized[i:i+duplicationBlockSize], "\n")
			sum := sha256.Sum256([]byte(window))
			key := hex.EncodeToString(sum[:8])
			blocks[key] = append(blocks[key], blockRef{path, i + 1})
		}
	}

	dupBlocks := 0
	largestGroup := 0
	dupByFile := make(map[string]int)
	clones := make([]any, 0)
	for _, key := range duplicationKeys(blocks) {
		group := blocks[key]
		if len(group) < 2 {
			continue
		}
		dupBlocks += len(group)
		if len(group) > largestGroup {
			largestGroup = len(group)
		}
		locations := make([]any, 0, len(group))
		for _, ref := range group {
			dupByFile[ref.file]++
			locations = append(locations, map[string]any{
				"file": ref.file,
				"line": ref.line,
			})
		}
		clones = append(clones, map[string]any{
			"block_hash":  key,
			"occurrences": len(group),
			"locations":   locations,
		})
	}

	ratio := 0.0
	if totalLines > 0 {
		ratio = math.Round(float64(dupBlocks*duplicationBlockSize)/float64(totalLines)*1000) / 1000
	}
	score := 100 - min(ratio*100, 50) - min(float64(largestGroup)*2, 20)
	if score < 0 {
		score = 0
	}

	mostDuplicated := ""
	mostCount := 0
	breakdown := map[string]any{"critical": 0, "high": 0, "medium": 0, "low": 0}
	for _, path := range sortedIntKeys(dupByFile) {
		count := dupByFile[path]
		if count > mostCount {
			mostDuplicated, mostCount = path, count
		}
		fileRatio := 0.0
		if linesByFile[path] > 0 {
			fileRatio = float64(count*duplicationBlockSize) / float64(linesByFile[path])
		}
		level := "low"
		switch {
		case fileRatio > 0.5:
			level = "critical"
		case fileRatio > 0.3:
			level = "high"
		case fileRatio > 0.15:
			level = "medium"
		}
		breakdown[level] = breakdown[level].(int) + 1
	}

	return pipeline.Result{
		"clones": clones,
		"duplication_metrics": map[string]any{
			"duplicate_line_ratio":  ratio,
			"duplicate_block_count": dupBlocks,
			"largest_clone_group":   largestGroup,
			"most_duplicated_file":  mostDuplicated,
			"total_lines_analyzed":  totalLines,
		},
		"duplication_score":  score,
		"severity_breakdown": breakdown,
	}, nil
}

func (d *Duplication) excluded(path string) bool {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
		return true
	}
	for _, marker := range duplicationExcludes {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// normalizeLines strips surrounding whitespace and drops blank lines
// so formatting differences do not hide clones.
func normalizeLines(content string) []string {
	raw := strings.Split(content, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

type blockRef struct {
	file string
	line int
}

func duplicationKeys(blocks map[string][]blockRef) []string {
	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIntKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
