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

// Governance inventories the repository's engineering governance from
// paths: quality tooling, security posture, CI, documentation, and
// dependency management, rolled into a maturity score and gap list.
type Governance struct{}

// Name returns the context key for the governance inventory.
func (g *Governance) Name() string { return pipeline.KeyGovernance }

var securityScannerNames = []string{
	"bandit", "safety", "trivy", "snyk", "owasp", "dependabot",
	"sonar", "checkov", "semgrep", "codeql",
}

var ciPlatformMarkers = map[string]string{
	".github/workflows": "GitHub Actions",
	".gitlab-ci":        "GitLab CI",
	"jenkinsfile":       "Jenkins",
	".circleci":         "CircleCI",
	".travis.yml":       "Travis CI",
	"azure-pipelines":   "Azure Pipelines",
}

// Run builds the governance inventory.
func (g *Governance) Run(_ context.Context, files []string, pc *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)
	structure := pc.GetOr(pipeline.KeyStructure)

	quality := g.codeQuality(paths)
	security := g.security(paths)
	cicd := g.cicd(paths)
	docs := g.documentation(paths)
	deps := g.dependencies(paths)
	licenses := g.licenses(paths)
	artifacts := g.complianceArtifacts(paths)

	score := 0.0
	if cicd["has_ci_cd"].(bool) {
		score++
	}
	if len(quality["linters"].([]any))+len(quality["formatters"].([]any))+len(quality["static_analyzers"].([]any)) > 0 {
		score++
	}
	if security["has_security_scanning"].(bool) || security["has_security_md"].(bool) {
		score++
	}
	docComplete := 0.0
	for _, present := range []bool{
		len(docs["readme_files"].([]any)) > 0,
		docs["contributing_guide"].(bool),
		docs["license_file"].(bool),
		docs["changelog"].(bool),
	} {
		if present {
			docComplete += 0.25
		}
	}
	score += docComplete
	if deps["has_dependency_management"].(bool) {
		score++
	}
	if len(structure.Strings("test_frameworks")) > 0 {
		score += 0.5
	}
	if anyBase(paths, ".gitignore") {
		score += 0.5
	}
	if docs["license_file"].(bool) || docs["code_of_conduct"].(bool) {
		score += 0.5
	}
	maturity := score / 8
	if maturity > 1 {
		maturity = 1
	}

	gaps := make([]any, 0)
	if !cicd["has_ci_cd"].(bool) {
		gaps = append(gaps, governanceGap("missing_ci_cd", "high",
			"No continuous integration configuration detected"))
	}
	if len(quality["linters"].([]any))+len(quality["formatters"].([]any)) == 0 {
		gaps = append(gaps, governanceGap("missing_code_quality", "medium",
			"No linter or formatter configuration detected"))
	}
	if !security["has_security_scanning"].(bool) && !security["has_security_md"].(bool) {
		gaps = append(gaps, governanceGap("missing_security_practices", "high",
			"No security scanning or security policy detected"))
	}
	if docComplete < 0.5 {
		gaps = append(gaps, governanceGap("incomplete_documentation", "medium",
			"Core project documentation is incomplete"))
	}

	return pipeline.Result{
		"code_quality_governance":   quality,
		"security_governance":       security,
		"ci_cd_governance":          cicd,
		"documentation_governance":  docs,
		"dependency_governance":     deps,
		"license_governance":        licenses,
		"compliance_artifacts":      artifacts,
		"governance_maturity_score": maturity,
		"governance_gaps":           gaps,
	}, nil
}

func governanceGap(kind, severity, description string) map[string]any {
	return map[string]any{
		"type":        kind,
		"severity":    severity,
		"description": description,
	}
}

func (g *Governance) codeQuality(paths []string) map[string]any {
	linters := make([]string, 0)
	formatters := make([]string, 0)
	analyzers := make([]string, 0)
	for needle, bucket := range map[string]*[]string{
		"pylint": &linters, "flake8": &linters, "eslint": &linters,
		"golangci": &linters,
		"black":    &formatters, "isort": &formatters, "prettier": &formatters,
		"mypy": &analyzers, "bandit": &analyzers, "safety": &analyzers,
	} {
		if anyContainsFold(paths, needle) {
			*bucket = append(*bucket, needle)
		}
	}
	sort.Strings(linters)
	sort.Strings(formatters)
	sort.Strings(analyzers)
	return map[string]any{
		"linters":          toAny(linters),
		"formatters":       toAny(formatters),
		"static_analyzers": toAny(analyzers),
		"has_pre_commit":   anyBase(paths, ".pre-commit-config.yaml"),
	}
}

func (g *Governance) security(paths []string) map[string]any {
	scanners := make([]string, 0)
	for _, name := range securityScannerNames {
		if anyContainsFold(paths, name) {
			scanners = append(scanners, name)
		}
	}
	hasSecurityMD := false
	policies := make([]string, 0)
	for _, f := range paths {
		base := strings.ToLower(filepath.Base(f))
		if base == "security.md" {
			hasSecurityMD = true
			policies = append(policies, f)
		}
	}
	sort.Strings(policies)
	return map[string]any{
		"security_scanners":     toAny(scanners),
		"security_policies":     toAny(policies),
		"has_security_md":       hasSecurityMD,
		"secret_scanning":       anyContainsFold(paths, "gitleaks") || anyContainsFold(paths, "trufflehog"),
		"has_security_scanning": len(scanners) > 0,
	}
}

func (g *Governance) cicd(paths []string) map[string]any {
	platforms := make([]string, 0)
	for marker, name := range ciPlatformMarkers {
		if anyContainsFold(paths, marker) {
			platforms = append(platforms, name)
		}
	}
	sort.Strings(platforms)
	automation := make([]string, 0)
	for _, name := range []string{"Makefile", "Taskfile.yml", "justfile"} {
		if anyBase(paths, name) {
			automation = append(automation, name)
		}
	}
	return map[string]any{
		"ci_platforms":     toAny(platforms),
		"has_ci_cd":        len(platforms) > 0,
		"build_automation": toAny(automation),
	}
}

func (g *Governance) documentation(paths []string) map[string]any {
	readmes := make([]string, 0)
	for _, f := range paths {
		if strings.HasPrefix(strings.ToLower(filepath.Base(f)), "readme") {
			readmes = append(readmes, f)
		}
	}
	sort.Strings(readmes)
	apiDocs := anyContainsFold(paths, "openapi") || anyContainsFold(paths, "swagger") ||
		anyContainsFold(paths, "docs/api")
	tools := make([]string, 0)
	for _, needle := range []string{"mkdocs", "sphinx", "docusaurus"} {
		if anyContainsFold(paths, needle) {
			tools = append(tools, needle)
		}
	}
	return map[string]any{
		"readme_files":        toAny(readmes),
		"contributing_guide":  anyContainsFold(paths, "contributing"),
		"code_of_conduct":     anyContainsFold(paths, "code_of_conduct"),
		"license_file":        hasLicenseFile(paths),
		"changelog":           anyContainsFold(paths, "changelog"),
		"api_docs":            apiDocs,
		"documentation_tools": toAny(tools),
	}
}

func (g *Governance) dependencies(paths []string) map[string]any {
	depFiles := make([]string, 0)
	lockFiles := make([]string, 0)
	for _, f := range paths {
		base := filepath.Base(f)
		switch base {
		case "requirements.txt", "pyproject.toml", "setup.py", "package.json",
			"pom.xml", "build.gradle", "Cargo.toml", "go.mod", "Gemfile", "composer.json":
			depFiles = append(depFiles, f)
		case "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "poetry.lock",
			"Pipfile.lock", "Cargo.lock", "go.sum", "Gemfile.lock", "composer.lock":
			lockFiles = append(lockFiles, f)
		}
	}
	sort.Strings(depFiles)
	sort.Strings(lockFiles)
	return map[string]any{
		"dependency_files":          toAny(depFiles),
		"lock_files":                toAny(lockFiles),
		"has_dependency_management": len(depFiles) > 0,
		"has_lock_files":            len(lockFiles) > 0,
		"dependency_scanning":       anyContainsFold(paths, "dependabot") || anyContainsFold(paths, "renovate"),
	}
}

func (g *Governance) licenses(paths []string) map[string]any {
	detected := make([]string, 0)
	for _, f := range paths {
		base := strings.ToUpper(filepath.Base(f))
		if base == "LICENSE" || base == "LICENSE.TXT" || base == "LICENSE.MD" ||
			base == "COPYING" || strings.HasPrefix(base, "LICENSE-") ||
			strings.HasPrefix(base, "LICENSE.") {
			detected = append(detected, f)
		}
	}
	return map[string]any{
		"detected_licenses": toAny(sortedUnique(detected)),
	}
}

func (g *Governance) complianceArtifacts(paths []string) []any {
	artifacts := make([]string, 0)
	for _, f := range paths {
		base := strings.ToUpper(filepath.Base(f))
		for _, marker := range []string{"LICENSE", "COPYING", "NOTICE", "PATENTS", "DCO", "CLA"} {
			if base == marker || strings.HasPrefix(base, marker+".") {
				artifacts = append(artifacts, f)
				break
			}
		}
	}
	return toAny(sortedUnique(artifacts))
}

func hasLicenseFile(paths []string) bool {
	for _, f := range paths {
		base := strings.ToUpper(filepath.Base(f))
		if base == "LICENSE" || strings.HasPrefix(base, "LICENSE.") || base == "COPYING" {
			return true
		}
	}
	return false
}
