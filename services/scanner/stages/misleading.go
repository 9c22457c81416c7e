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
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Misleading cross-checks upstream results for contradictions: places
// where the repository presents itself differently from what the code
// shows. Each finding names the two signals that disagree.
type Misleading struct{}

// Name returns the context key for misleading-signal detection.
func (m *Misleading) Name() string { return pipeline.KeyMisleading }

var (
	snakeCaseRe  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	camelCaseRe  = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	pascalCaseRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
)

// Run detects contradictions across the upstream results.
func (m *Misleading) Run(_ context.Context, _ []string, pc *pipeline.Context) (pipeline.Result, error) {
	structure := pc.GetOr(pipeline.KeyStructure)
	semantic := pc.GetOr(pipeline.KeySemantic)
	governance := pc.GetOr(pipeline.KeyGovernance)
	intent := pc.GetOr(pipeline.KeyIntentPosture)

	quality := m.qualityInconsistencies(semantic)
	docs := m.documentationDiscrepancies(structure, governance)
	govConflicts := m.governanceConflicts(governance)
	intentMismatch := m.intentMismatches(structure, intent)
	maintenance := m.maintenanceIndicators(semantic, governance, intent)
	deception := m.securityDeceptions(governance, intent)

	total := len(quality) + len(docs) + len(govConflicts) +
		len(intentMismatch) + len(maintenance) + len(deception)

	overall := "low"
	switch {
	case total >= 5:
		overall = "high"
	case total >= 3:
		overall = "medium"
	}

	return pipeline.Result{
		"code_quality_inconsistencies": quality,
		"documentation_discrepancies":  docs,
		"governance_conflicts":         govConflicts,
		"intent_mismatches":            intentMismatch,
		"maintenance_indicators":       maintenance,
		"security_deceptions":          deception,
		"total_misleading_signals":     total,
		"overall_misleading_risk":      overall,
		"requires_caution":             total > 0,
	}, nil
}

func misleadingSignal(kind, severity, description string) map[string]any {
	return map[string]any{
		"type":        kind,
		"severity":    severity,
		"description": description,
	}
}

func (m *Misleading) qualityInconsistencies(semantic pipeline.Result) []any {
	signals := make([]any, 0)
	functions := semantic.Slice("functions")

	minC, maxC := 0.0, 0.0
	styles := map[string]bool{}
	for i, fn := range functions {
		f, ok := fn.(map[string]any)
		if !ok {
			continue
		}
		c := pipeline.Result(f).Float("complexity")
		if i == 0 || c < minC {
			minC = c
		}
		if c > maxC {
			maxC = c
		}
		name := pipeline.Result(f).String("name")
		switch {
		case strings.Contains(name, "_") && snakeCaseRe.MatchString(name):
			styles["snake_case"] = true
		case pascalCaseRe.MatchString(name):
			styles["PascalCase"] = true
		case camelCaseRe.MatchString(name) && name != strings.ToLower(name):
			styles["camelCase"] = true
		}
	}
	if len(functions) > 0 && maxC > 20 && minC < 5 {
		signals = append(signals, misleadingSignal("mixed_complexity", "medium",
			fmt.Sprintf("Function complexity ranges from %.0f to %.0f", minC, maxC)))
	}
	if len(styles) > 2 {
		signals = append(signals, misleadingSignal("inconsistent_naming", "low",
			fmt.Sprintf("%d naming conventions in use", len(styles))))
	}
	return signals
}

func (m *Misleading) documentationDiscrepancies(structure, governance pipeline.Result) []any {
	signals := make([]any, 0)
	counts := structure.Map("file_counts")
	if counts.Int("code") > 50 && counts.Int("docs") == 0 {
		signals = append(signals, misleadingSignal("undocumented_codebase", "medium",
			"Substantial code with no documentation at all"))
	}
	readmes := governance.Map("documentation_governance").Strings("readme_files")
	if len(readmes) > 1 {
		signals = append(signals, misleadingSignal("multiple_readmes", "low",
			fmt.Sprintf("%d README files may disagree", len(readmes))))
	}
	return signals
}

func (m *Misleading) governanceConflicts(governance pipeline.Result) []any {
	signals := make([]any, 0)
	if governance.Map("ci_cd_governance").Bool("has_ci_cd") &&
		!governance.Map("security_governance").Bool("has_security_scanning") {
		signals = append(signals, misleadingSignal("ci_without_security", "high",
			"CI pipeline exists but runs no security scanning"))
	}
	licenses := governance.Map("license_governance").Strings("detected_licenses")
	if len(licenses) > 1 {
		signals = append(signals, misleadingSignal("conflicting_licenses", "medium",
			fmt.Sprintf("%d license files present", len(licenses))))
	}
	return signals
}

func (m *Misleading) intentMismatches(structure, intent pipeline.Result) []any {
	signals := make([]any, 0)
	primary := intent.Map("primary_intent").String("intent")
	frameworks := structure.Strings("frameworks")

	hasPackaging := false
	for _, fw := range frameworks {
		if strings.Contains(fw, "setuptools") || strings.Contains(fw, "pyproject") ||
			strings.Contains(fw, "modules") || strings.Contains(fw, "Cargo") {
			hasPackaging = true
		}
	}
	if primary == "library" && !hasPackaging {
		signals = append(signals, misleadingSignal("library_without_packaging", "medium",
			"Classified as a library but no packaging metadata found"))
	}
	if primary == "application" {
		hasEntry := false
		for _, fw := range frameworks {
			if strings.Contains(fw, "Node") || strings.Contains(fw, "modules") ||
				strings.Contains(fw, "pip") || strings.Contains(fw, "pyproject") {
				hasEntry = true
			}
		}
		if !hasEntry {
			signals = append(signals, misleadingSignal("application_without_entry", "low",
				"Classified as an application but no recognized entry metadata found"))
		}
	}
	return signals
}

func (m *Misleading) maintenanceIndicators(semantic, governance, intent pipeline.Result) []any {
	signals := make([]any, 0)
	hasTODOs := false
	for _, sig := range semantic.Slice("code_quality_signals") {
		if s, ok := sig.(map[string]any); ok &&
			pipeline.Result(s).String("type") == "todo_comments" {
			hasTODOs = true
		}
	}
	maturity := intent.Map("maturity_classification").Float("maturity_score")
	if hasTODOs && maturity < 0.3 {
		signals = append(signals, misleadingSignal("stale_todos", "medium",
			"Unresolved TODO markers in a low-maturity codebase"))
	}
	if !governance.Map("ci_cd_governance").Bool("has_ci_cd") {
		signals = append(signals, misleadingSignal("no_continuous_integration", "low",
			"No CI means changes may land unverified"))
	}
	return signals
}

func (m *Misleading) securityDeceptions(governance, intent pipeline.Result) []any {
	signals := make([]any, 0)
	practices := intent.Map("security_posture").Float("security_practices_score")
	if practices < 2 {
		signals = append(signals, misleadingSignal("weak_security_practices", "high",
			fmt.Sprintf("Security practices score is only %.2f", practices)))
	}
	security := governance.Map("security_governance")
	if len(security.Strings("security_scanners")) > 0 && !security.Bool("has_security_md") {
		signals = append(signals, misleadingSignal("tools_without_policy", "medium",
			"Security tooling configured but no security policy published"))
	}
	return signals
}
