// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Dependency parses manifest files per ecosystem and checks the
// declared dependencies against a small table of known-bad versions,
// license concerns, and staleness heuristics.
type Dependency struct {
	files  *cache.FileCache
	logger *logging.Logger
}

// Name returns the context key for the dependency analysis.
func (d *Dependency) Name() string { return pipeline.KeyDependency }

// manifestEcosystems maps manifest base names to their ecosystem.
var manifestEcosystems = map[string]string{
	"requirements.txt":  "python",
	"pyproject.toml":    "python",
	"setup.py":          "python",
	"Pipfile":           "python",
	"package.json":      "javascript",
	"package-lock.json": "javascript",
	"yarn.lock":         "javascript",
	"pom.xml":           "java",
	"build.gradle":      "java",
	"go.mod":            "go",
	"go.sum":            "go",
	"Cargo.toml":        "rust",
	"Cargo.lock":        "rust",
	"Gemfile":           "ruby",
	"composer.json":     "php",
}

// knownVulnerabilities maps ecosystem/package to the first fixed
// version. Anything older is flagged.
var knownVulnerabilities = map[string]map[string]string{
	"python": {
		"requests": "2.20.0",
		"django":   "2.2.0",
		"flask":    "1.0.0",
	},
	"javascript": {
		"lodash": "4.17.11",
		"moment": "2.20.0",
		"axios":  "0.18.1",
	},
}

type declaredDep struct {
	name      string
	version   string
	ecosystem string
	source    string
}

// Run parses manifests and assesses dependency health.
func (d *Dependency) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	ecosystems := make(map[string]bool)
	deps := make([]declaredDep, 0)
	for _, path := range paths {
		base := filepath.Base(path)
		eco, ok := manifestEcosystems[base]
		if !ok {
			continue
		}
		ecosystems[eco] = true
		parsed := d.parseManifest(path, base, eco)
		deps = append(deps, parsed...)
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].ecosystem != deps[j].ecosystem {
			return deps[i].ecosystem < deps[j].ecosystem
		}
		return deps[i].name < deps[j].name
	})

	vulnerabilities := make([]any, 0)
	licenseIssues := make([]any, 0)
	outdated := make([]any, 0)
	for _, dep := range deps {
		if fixed, ok := knownVulnerabilities[dep.ecosystem][strings.ToLower(dep.name)]; ok {
			if versionBefore(dep.version, fixed) {
				vulnerabilities = append(vulnerabilities, map[string]any{
					"package":     dep.name,
					"version":     dep.version,
					"ecosystem":   dep.ecosystem,
					"severity":    "high",
					"description": fmt.Sprintf("Known vulnerability in %s", dep.name),
					"fixed_in":    fixed,
				})
			}
		}
		if strings.Contains(strings.ToLower(dep.name), "gpl") {
			licenseIssues = append(licenseIssues, map[string]any{
				"package":     dep.name,
				"ecosystem":   dep.ecosystem,
				"severity":    "medium",
				"description": "GPL license may restrict commercial use",
			})
		}
		spec := strings.TrimSpace(dep.version)
		if strings.HasPrefix(spec, "1.") || strings.HasPrefix(spec, "^1.") {
			outdated = append(outdated, map[string]any{
				"package":   dep.name,
				"version":   dep.version,
				"ecosystem": dep.ecosystem,
			})
		}
	}

	health := 100.0
	health -= min(float64(len(vulnerabilities))*10, 40)
	health -= min(float64(len(licenseIssues))*5, 20)
	health -= min(float64(len(outdated))*2, 20)
	if len(ecosystems) == 0 {
		health -= 30
	}
	if health < 0 {
		health = 0
	}

	recommendations := make([]string, 0)
	if len(vulnerabilities) > 0 {
		recommendations = append(recommendations, "Upgrade packages with known vulnerabilities")
	}
	if len(licenseIssues) > 0 {
		recommendations = append(recommendations, "Review restrictive license obligations")
	}
	if len(outdated) > 0 {
		recommendations = append(recommendations, "Update packages pinned to old major versions")
	}
	if len(ecosystems) == 0 {
		recommendations = append(recommendations, "Add a dependency manifest so dependencies are tracked")
	}

	depList := make([]any, 0, len(deps))
	for _, dep := range deps {
		depList = append(depList, map[string]any{
			"name":      dep.name,
			"version":   dep.version,
			"ecosystem": dep.ecosystem,
			"source":    dep.source,
		})
	}

	ecoNames := make([]string, 0, len(ecosystems))
	for eco := range ecosystems {
		ecoNames = append(ecoNames, eco)
	}
	sort.Strings(ecoNames)

	return pipeline.Result{
		"ecosystems_detected":     toAny(ecoNames),
		"dependencies":            depList,
		"dependency_count":        len(deps),
		"vulnerabilities":         vulnerabilities,
		"license_issues":          licenseIssues,
		"outdated_packages":       outdated,
		"dependency_health_score": health,
		"recommendations":         toAny(recommendations),
	}, nil
}

func (d *Dependency) parseManifest(path, base, eco string) []declaredDep {
	content := d.files.Read(path)
	if content == "" {
		return nil
	}
	switch base {
	case "requirements.txt":
		return parseRequirements(path, content)
	case "package.json":
		return parsePackageJSON(path, content, d.logger)
	case "go.mod":
		return parseGoMod(path, content, d.logger)
	default:
		return nil
	}
}

func parseRequirements(path, content string) []declaredDep {
	deps := make([]declaredDep, 0)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name, version := line, ""
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
			if idx := strings.Index(line, sep); idx >= 0 {
				name = strings.TrimSpace(line[:idx])
				version = strings.TrimSpace(line[idx+len(sep):])
				break
			}
		}
		if idx := strings.IndexAny(name, "[;"); idx >= 0 {
			name = strings.TrimSpace(name[:idx])
		}
		if name != "" {
			deps = append(deps, declaredDep{name, version, "python", path})
		}
	}
	return deps
}

func parsePackageJSON(path, content string, logger *logging.Logger) []declaredDep {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		logger.Warn("unparseable package.json", "path", path, "error", err)
		return nil
	}
	deps := make([]declaredDep, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for _, set := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
		for name, version := range set {
			deps = append(deps, declaredDep{name, version, "javascript", path})
		}
	}
	return deps
}

func parseGoMod(path, content string, logger *logging.Logger) []declaredDep {
	f, err := modfile.ParseLax(path, []byte(content), nil)
	if err != nil {
		logger.Warn("unparseable go.mod", "path", path, "error", err)
		return nil
	}
	deps := make([]declaredDep, 0, len(f.Require))
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		deps = append(deps, declaredDep{req.Mod.Path, req.Mod.Version, "go", path})
	}
	return deps
}

// versionBefore reports whether the declared spec pins a version older
// than fixed. Unparseable specs are treated as not vulnerable.
func versionBefore(spec, fixed string) bool {
	clean := strings.TrimLeft(strings.TrimSpace(spec), "^~=v ")
	if clean == "" {
		return false
	}
	a := versionParts(clean)
	b := versionParts(fixed)
	if a == nil {
		return false
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func versionParts(v string) []int {
	if idx := strings.IndexAny(v, "-+ ,"); idx >= 0 {
		v = v[:idx]
	}
	fields := strings.Split(v, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return parts
		}
		parts = append(parts, n)
	}
	return parts
}
