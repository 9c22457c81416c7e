// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stages implements the analysis stages the scan pipeline runs.
// Every stage reads the canonical file list and the blackboard context
// and produces a JSON-shaped pipeline.Result. Stages never mutate the
// filesystem; file contents come from the shared read-through cache so
// a path is read at most once per run.
package stages

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// languageByExtension maps file extensions to display language names.
var languageByExtension = map[string]string{
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".java": "Java",
	".rs":   "Rust",
	".go":   "Go",
	".cpp":  "C++",
	".c":    "C",
	".h":    "C/C++ Header",
	".rb":   "Ruby",
	".php":  "PHP",
	".sh":   "Shell",
	".yml":  "YAML",
	".yaml": "YAML",
	".json": "JSON",
	".xml":  "XML",
	".md":   "Markdown",
	".txt":  "Text",
}

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".java": true, ".rs": true,
	".go": true, ".cpp": true, ".c": true, ".rb": true, ".php": true,
}

var configExtensions = map[string]bool{
	".yml": true, ".yaml": true, ".json": true, ".xml": true,
	".toml": true, ".ini": true, ".cfg": true,
}

// analyzableExtensions are the languages the content-reading stages
// understand well enough to inspect.
var analyzableExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func isCodeFile(path string) bool   { return codeExtensions[ext(path)] }
func isConfigFile(path string) bool { return configExtensions[ext(path)] }

// isTestFile reports whether a path looks like test code. Vendored and
// generated trees are never counted.
func isTestFile(path string) bool {
	lower := strings.ToLower(path)
	for _, excluded := range []string{"node_modules", ".git", "__pycache__", "vendor/"} {
		if strings.Contains(lower, excluded) {
			return false
		}
	}
	return strings.Contains(lower, "test") || strings.Contains(lower, "spec")
}

// anyContains reports whether any path contains the needle.
func anyContains(files []string, needle string) bool {
	for _, f := range files {
		if strings.Contains(f, needle) {
			return true
		}
	}
	return false
}

// anyContainsFold is anyContains with case-insensitive matching.
func anyContainsFold(files []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, f := range files {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// anyBase reports whether any path's base name equals name.
func anyBase(files []string, name string) bool {
	for _, f := range files {
		if filepath.Base(f) == name {
			return true
		}
	}
	return false
}

// toAny converts a string slice to the []any shape Result lists use.
func toAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func mapsToAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, m := range items {
		out[i] = m
	}
	return out
}

// sortedUnique returns the sorted distinct elements of items.
func sortedUnique(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Set assembles the full stage set over a shared file cache. The
// returned StageSet is ready to hand to pipeline.NewExecutor.
func Set(files *cache.FileCache, logger *logging.Logger) pipeline.StageSet {
	if logger == nil {
		logger = logging.Default()
	}
	return pipeline.StageSet{
		Structural:    &Structural{},
		Semantic:      &Semantic{reader: cache.NewStreamingReader(files, 0, 0)},
		AdvancedCode:  &AdvancedCode{files: files},
		Comprehension: &Comprehension{files: files},
		Security:      &Security{files: files},
		Compliance:    &Compliance{files: files},
		Dependency:    &Dependency{files: files, logger: logger},
		Duplication:   &Duplication{files: files},
		API:           &API{files: files},
		TestSignals:   &TestSignals{},
		Governance:    &Governance{},
		Intent:        &Intent{},
		Misleading:    &Misleading{},
		SafeChange:    &SafeChange{},
	}
}
