// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Structural models repository layout from file paths alone: languages,
// frameworks, build and test tooling, documentation, and file counts.
// It reads no file contents, so it is the cheapest stage in the set.
type Structural struct{}

// Name returns the context key for the structural model.
func (s *Structural) Name() string { return pipeline.KeyStructure }

// Run builds the structural model.
func (s *Structural) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	languages := make(map[string]bool)
	for _, f := range paths {
		if lang, ok := languageByExtension[ext(f)]; ok {
			languages[lang] = true
		} else if ext(f) != "" {
			languages["Unknown"] = true
		}
	}

	frameworks := make([]string, 0)
	for marker, name := range frameworkMarkers {
		if anyBase(paths, marker) {
			frameworks = append(frameworks, name)
		}
	}
	sort.Strings(frameworks)

	buildSystems := make([]string, 0)
	for marker, name := range buildSystemMarkers {
		if anyBase(paths, marker) {
			buildSystems = append(buildSystems, name)
		}
	}
	sort.Strings(buildSystems)

	testFrameworks := make([]string, 0)
	for needle, name := range testFrameworkMarkers {
		if anyContainsFold(paths, needle) {
			testFrameworks = append(testFrameworks, name)
		}
	}
	sort.Strings(testFrameworks)

	documentation := make([]string, 0)
	configuration := make([]string, 0)
	for _, f := range paths {
		base := filepath.Base(f)
		lower := strings.ToLower(f)
		if strings.HasPrefix(strings.ToLower(base), "readme") ||
			strings.HasPrefix(lower, "docs/") || strings.Contains(lower, "/docs/") ||
			ext(f) == ".md" {
			documentation = append(documentation, f)
		}
		if configFileNames[base] {
			configuration = append(configuration, f)
		}
	}
	sort.Strings(documentation)
	sort.Strings(configuration)

	counts := map[string]any{
		"total":  len(paths),
		"code":   0,
		"test":   0,
		"config": 0,
		"docs":   0,
	}
	for _, f := range paths {
		lower := strings.ToLower(f)
		if isCodeFile(f) {
			counts["code"] = counts["code"].(int) + 1
		}
		if isConfigFile(f) {
			counts["config"] = counts["config"].(int) + 1
		}
		if strings.Contains(lower, "test") {
			counts["test"] = counts["test"].(int) + 1
		}
		base := strings.ToLower(filepath.Base(f))
		if strings.HasPrefix(base, "readme") || ext(f) == ".md" || strings.Contains(lower, "docs") {
			counts["docs"] = counts["docs"].(int) + 1
		}
	}

	langs := make([]string, 0, len(languages))
	for l := range languages {
		langs = append(langs, l)
	}
	sort.Strings(langs)

	return pipeline.Result{
		"languages":       toAny(langs),
		"frameworks":      toAny(frameworks),
		"build_systems":   toAny(buildSystems),
		"test_frameworks": toAny(testFrameworks),
		"documentation":   toAny(documentation),
		"configuration":   toAny(configuration),
		"file_counts":     counts,
	}, nil
}

// normalizePaths converts to forward slashes, strips leading "./",
// dedupes, and sorts. Every stage sees the same canonical ordering.
func normalizePaths(files []string) []string {
	cleaned := make([]string, 0, len(files))
	for _, f := range files {
		f = filepath.ToSlash(f)
		f = strings.TrimPrefix(f, "./")
		if f != "" {
			cleaned = append(cleaned, f)
		}
	}
	return sortedUnique(cleaned)
}

var frameworkMarkers = map[string]string{
	"requirements.txt": "Python (pip)",
	"pyproject.toml":   "Python (pyproject)",
	"setup.py":         "Python (setuptools)",
	"package.json":     "Node.js",
	"pom.xml":          "Java (Maven)",
	"build.gradle":     "Java (Gradle)",
	"Cargo.toml":       "Rust (Cargo)",
	"go.mod":           "Go modules",
}

var buildSystemMarkers = map[string]string{
	"Makefile":       "Make",
	"CMakeLists.txt": "CMake",
	"build.gradle":   "Gradle",
	"pom.xml":        "Maven",
}

var testFrameworkMarkers = map[string]string{
	"pytest":   "pytest",
	"unittest": "unittest",
	"jest":     "jest",
	"mocha":    "mocha",
}

var configFileNames = map[string]bool{
	".gitignore":       true,
	".gitattributes":   true,
	".editorconfig":    true,
	".prettierrc":      true,
	"eslint.config.js": true,
}
