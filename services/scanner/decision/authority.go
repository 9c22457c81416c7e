// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// authorityRanks orders the authority hierarchy. Lower rank means
// higher authority.
var authorityRanks = map[string]int{
	"developer":             5,
	"technical_lead":        4,
	"senior_technical_lead": 3,
	"senior_architect":      2,
	"chief_architect":       1,
}

var authorityNames = map[int]string{
	5: "developer",
	4: "technical_lead",
	3: "senior_technical_lead",
	2: "senior_architect",
	1: "chief_architect",
}

// labelRank orders severity and impact labels for the highest-label
// summaries.
var labelRank = map[string]int{"low": 1, "medium": 2, "high": 3}

// Ceiling tracks an authority rank that only ever elevates. Any rank
// at or above the current one is ignored, so the final ceiling is the
// same under every ordering of the constraint set.
type Ceiling struct {
	rank    int
	applied []map[string]any
}

// NewCeiling starts a ceiling at the named authority. Unknown names
// start at developer.
func NewCeiling(authority string) *Ceiling {
	rank, ok := authorityRanks[authority]
	if !ok {
		rank = authorityRanks["developer"]
	}
	return &Ceiling{rank: rank}
}

// Elevate lowers the rank to the named minimum when that minimum
// outranks the current ceiling, recording the source. Reports whether
// the ceiling moved.
func (c *Ceiling) Elevate(authority string, source map[string]any) bool {
	rank, ok := authorityRanks[authority]
	if !ok {
		rank = authorityRanks["developer"]
	}
	if rank >= c.rank {
		return false
	}
	c.rank = rank
	c.applied = append(c.applied, source)
	return true
}

// Authority returns the name of the current ceiling.
func (c *Ceiling) Authority() string { return authorityNames[c.rank] }

// Rank returns the numeric rank of the current ceiling.
func (c *Ceiling) Rank() int { return c.rank }

// Evaluator refines the baseline authority ceiling from the decision
// artifacts against risk, intent, governance, and organizational
// constraints. It implements pipeline.Stage.
type Evaluator struct {
	logger *logging.Logger
}

func NewEvaluator(logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{logger: logger}
}

func (e *Evaluator) Name() string { return pipeline.KeyAuthority }

func (e *Evaluator) Run(_ context.Context, _ []string, pc *pipeline.Context) (pipeline.Result, error) {
	synthesis := pc.GetOr(pipeline.KeyRiskSynthesis)
	intent := pc.GetOr(pipeline.KeyIntentPosture)
	governance := pc.GetOr(pipeline.KeyGovernance)
	structure := pc.GetOr(pipeline.KeyStructure)
	artifacts := pc.GetOr(pipeline.KeyDecision)

	constraints := authorityConstraints(synthesis, intent, governance)
	factors := organizationalFactors(structure, intent)
	final := finalCeiling(artifacts.Map("authority_ceiling"), constraints, factors)

	e.logger.Debug("authority ceiling evaluated",
		"maximum_authority", final["maximum_authority"],
		"applied_constraints", final["constraint_count"])

	return pipeline.Result{
		"final_authority_ceiling": final,
		"authority_constraints":   constraints,
		"organizational_factors":  factors,
		"authority_rationale":     authorityRationale(final),
		"authority_confidence":    authorityConfidence(final, artifacts),
		"evaluation_timestamp":    PlaceholderTimestamp,
		"evaluation_version":      artifactVersion,
	}, nil
}

// authorityConstraints derives authority minimums from the overall risk
// level, the classified intent, and governance maturity.
func authorityConstraints(synthesis, intent, governance pipeline.Result) map[string]any {
	constraints := []any{}
	add := func(ctype, severity, description, minimum, rationale string) {
		constraints = append(constraints, map[string]any{
			"constraint_type":   ctype,
			"severity":          severity,
			"description":       description,
			"authority_minimum": minimum,
			"rationale":         rationale,
		})
	}

	switch synthesis.Map("overall_risk_assessment").String("overall_risk_level") {
	case "high":
		add("risk_based", "high", "High overall risk requires senior authority",
			"senior_architect", "High risk levels demand experienced decision makers")
	case "medium":
		add("risk_based", "medium", "Medium risk requires technical leadership",
			"technical_lead", "Medium risk needs oversight from experienced technical personnel")
	}

	switch intent.Map("primary_intent").String("intent") {
	case "production_service", "infrastructure":
		add("intent_based", "high", "Production/infrastructure code requires higher authority",
			"senior_technical_lead", "Critical systems require senior approval to prevent outages")
	case "library", "framework":
		add("intent_based", "medium", "Library/framework changes affect downstream users",
			"technical_lead", "API changes require coordination with dependent systems")
	}

	switch maturity := governance.Float("governance_maturity_score"); {
	case maturity < 0.4:
		add("governance_based", "high", "Low governance maturity requires authority elevation",
			"senior_technical_lead", "Weak governance processes increase risk of poor decisions")
	case maturity < 0.7:
		add("governance_based", "medium", "Moderate governance requires oversight",
			"technical_lead", "Governance gaps need experienced oversight")
	}

	return map[string]any{
		"constraints":      constraints,
		"constraint_count": len(constraints),
		"highest_severity": highestLabel(constraints, "severity"),
	}
}

// organizationalFactors derives authority implications from codebase
// scale, project maturity, and testing discipline. The file total sums
// every counter the structural stage emits, aggregate included, which
// keeps the scale thresholds aligned with the original tuning.
func organizationalFactors(structure, intent pipeline.Result) map[string]any {
	counts := structure.Map("file_counts")
	totalFiles := 0
	for key := range counts {
		totalFiles += counts.Int(key)
	}

	factors := []any{}
	add := func(ftype, impact, description, implication, rationale string) {
		factors = append(factors, map[string]any{
			"factor_type":           ftype,
			"impact":                impact,
			"description":           description,
			"authority_implication": implication,
			"rationale":             rationale,
		})
	}

	switch {
	case totalFiles > 1000:
		add("scale", "high", "Large codebase requires senior authority",
			"senior_technical_lead", "Large codebases have complex interactions requiring experienced oversight")
	case totalFiles > 100:
		add("scale", "medium", "Medium codebase requires technical leadership",
			"technical_lead", "Medium codebases need experienced technical guidance")
	}

	switch intent.Map("maturity_classification").String("maturity_level") {
	case "experimental", "alpha":
		add("maturity", "high", "Early-stage project requires senior authority",
			"senior_architect", "Experimental projects need architectural guidance for foundation decisions")
	case "beta":
		add("maturity", "medium", "Beta-stage project needs oversight",
			"technical_lead", "Beta projects require experienced guidance for stabilization")
	}

	testRatio := float64(counts.Int("test")) / float64(max(totalFiles, 1))
	if testRatio < 0.1 {
		add("team_maturity", "medium", "Low testing indicates team maturity concerns",
			"technical_lead", "Teams with low testing maturity need experienced oversight")
	}

	return map[string]any{
		"organizational_factors": factors,
		"factor_count":           len(factors),
		"highest_impact":         highestLabel(factors, "impact"),
	}
}

// finalCeiling applies every constraint and factor to the baseline
// ceiling, then derives the decision scope for the rank it lands on.
func finalCeiling(baseline pipeline.Result, constraints, factors map[string]any) map[string]any {
	ceiling := NewCeiling(baseline.String("maximum_authority"))

	for _, raw := range constraints["constraints"].([]any) {
		if constraint, ok := raw.(map[string]any); ok {
			minimum, _ := constraint["authority_minimum"].(string)
			ceiling.Elevate(minimum, constraint)
		}
	}
	for _, raw := range factors["organizational_factors"].([]any) {
		if factor, ok := raw.(map[string]any); ok {
			implication, _ := factor["authority_implication"].(string)
			ceiling.Elevate(implication, factor)
		}
	}

	authority := ceiling.Authority()
	scope, oversight := scopeFor(authority)

	applied := make([]any, 0, len(ceiling.applied))
	for _, source := range ceiling.applied {
		applied = append(applied, source)
	}

	return map[string]any{
		"maximum_authority":   authority,
		"decision_scope":      scope,
		"oversight_required":  oversight,
		"authority_level":     ceiling.Rank(),
		"applied_constraints": applied,
		"constraint_count":    len(applied),
	}
}

func scopeFor(authority string) (string, bool) {
	switch authority {
	case "chief_architect", "senior_architect":
		return "architectural_decisions_only", true
	case "senior_technical_lead":
		return "major_changes_only", true
	case "technical_lead":
		return "feature_changes_allowed", true
	default:
		return "routine_changes_only", false
	}
}

// authorityRationale explains the final ceiling: one line for the
// elevation, one per constraint source in application order, and a
// closing scope line.
func authorityRationale(final map[string]any) map[string]any {
	applied := final["applied_constraints"].([]any)
	authority, _ := final["maximum_authority"].(string)
	spoken := strings.ReplaceAll(authority, "_", " ")

	var parts []string
	if len(applied) > 0 {
		parts = append(parts, fmt.Sprintf(
			"Authority elevated to %s due to %d constraining factor(s)", spoken, len(applied)))

		grouped := map[string][]string{}
		var order []string
		for _, raw := range applied {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			source := constraintSource(entry)
			if _, seen := grouped[source]; !seen {
				order = append(order, source)
			}
			description, _ := entry["description"].(string)
			grouped[source] = append(grouped[source], description)
		}
		for _, source := range order {
			parts = append(parts, fmt.Sprintf("%s: %s",
				titleCase(source), strings.Join(grouped[source], ", ")))
		}
	} else {
		parts = append(parts, fmt.Sprintf(
			"Standard authority level (%s) maintained - no elevation required", spoken))
	}

	scope, _ := final["decision_scope"].(string)
	oversight := "not required"
	if b, _ := final["oversight_required"].(bool); b {
		oversight = "required"
	}
	parts = append(parts, fmt.Sprintf("Decision scope limited to %s with oversight %s",
		strings.ReplaceAll(scope, "_", " "), oversight))

	keyFactors := []any{}
	for i, raw := range applied {
		if i == 3 {
			break
		}
		if entry, ok := raw.(map[string]any); ok {
			description, _ := entry["description"].(string)
			keyFactors = append(keyFactors, description)
		}
	}

	rationale := make([]any, 0, len(parts))
	for _, part := range parts {
		rationale = append(rationale, part)
	}

	return map[string]any{
		"authority_rationale": rationale,
		"rationale_summary":   strings.Join(parts, " "),
		"key_factors":         keyFactors,
	}
}

// authorityConfidence adjusts the decision confidence by how much
// concrete guidance the constraints contributed: +0.1 per applied
// constraint capped at 0.9, or -0.1 floored at 0.6 when nothing
// applied.
func authorityConfidence(final map[string]any, artifacts pipeline.Result) map[string]any {
	appliedCount := len(final["applied_constraints"].([]any))

	assessment := artifacts.Map("confidence_assessment")
	base := 0.5
	if _, ok := assessment["confidence_score"]; ok {
		base = assessment.Float("confidence_score")
	}

	var score float64
	if appliedCount > 0 {
		score = min(0.9, base+0.1*float64(appliedCount))
	} else {
		score = max(0.6, base-0.1)
	}

	var level, description string
	switch {
	case score >= 0.8:
		level, description = "high", "Strong confidence in authority ceiling determination"
	case score >= 0.6:
		level, description = "medium", "Moderate confidence with some subjectivity"
	default:
		level, description = "low", "Limited confidence - additional review recommended"
	}

	return map[string]any{
		"authority_confidence_level": level,
		"authority_confidence_score": score,
		"description":                description,
		"confidence_factors": map[string]any{
			"base_analysis_confidence": base,
			"constraint_application":   appliedCount > 0,
			"constraint_count":         appliedCount,
		},
	}
}

// constraintSource names the family a constraint or organizational
// factor came from.
func constraintSource(entry map[string]any) string {
	if ctype, ok := entry["constraint_type"].(string); ok && ctype != "" {
		return ctype
	}
	if ftype, ok := entry["factor_type"].(string); ok && ftype != "" {
		return ftype
	}
	return "unknown"
}

func highestLabel(entries []any, field string) string {
	highest := "low"
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := entry[field].(string)
		if labelRank[label] > labelRank[highest] {
			highest = label
		}
	}
	return highest
}

func titleCase(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
