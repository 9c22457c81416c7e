// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package decision derives actionable artifacts from the synthesized
// risk picture: a decision framework, a prioritized action plan, and an
// authority ceiling that downstream evaluation may only elevate.
package decision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// PlaceholderTimestamp is stamped onto every decision and authority
// artifact. A wall-clock value would change the determinism hash
// between otherwise identical runs.
const (
	PlaceholderTimestamp = "2025-12-23T00:00:00Z"
	artifactVersion      = "1.0.0"
)

// requiredComponents is the completeness denominator for the confidence
// assessment. The synthesizer emits more component scores than these;
// completeness only tracks the signal-bearing core.
var requiredComponents = []string{
	"structural_risk", "semantic_risk", "testing_risk", "governance_risk",
	"intent_risk", "misleading_risk", "change_risk", "advanced_code_risk",
}

// Artifacts turns the risk synthesis, safe-change surface, and intent
// posture into decision artifacts. It implements pipeline.Stage.
type Artifacts struct {
	logger *logging.Logger
}

func NewArtifacts(logger *logging.Logger) *Artifacts {
	if logger == nil {
		logger = logging.Default()
	}
	return &Artifacts{logger: logger}
}

func (a *Artifacts) Name() string { return pipeline.KeyDecision }

func (a *Artifacts) Run(_ context.Context, _ []string, pc *pipeline.Context) (pipeline.Result, error) {
	synthesis := pc.GetOr(pipeline.KeyRiskSynthesis)
	surface := pc.GetOr(pipeline.KeySafeChange)
	intent := pc.GetOr(pipeline.KeyIntentPosture)

	framework := decisionFramework(synthesis)
	plan := actionPlan(synthesis, surface)

	a.logger.Debug("decision artifacts generated",
		"decision_type", framework["decision_type"],
		"action_count", plan["action_count"])

	return pipeline.Result{
		"decision_framework":    framework,
		"action_plan":           plan,
		"authority_ceiling":     baselineCeiling(synthesis, intent),
		"confidence_assessment": confidenceAssessment(synthesis),
		"next_steps":            nextSteps(framework, plan),
		"decision_timestamp":    PlaceholderTimestamp,
		"decision_version":      artifactVersion,
	}, nil
}

// decisionFramework selects the oversight tier from the overall risk
// level. Any critical issue escalates to the conservative tier and adds
// a risk assessment gate.
func decisionFramework(synthesis pipeline.Result) map[string]any {
	var framework map[string]any
	switch synthesis.Map("overall_risk_assessment").String("overall_risk_level") {
	case "high":
		framework = map[string]any{
			"decision_type":      "conservative",
			"authority_required": "senior_technical_lead",
			"approval_gates":     []any{"security_review", "architecture_review", "testing_review"},
			"timeframe":          "extended_review_period",
			"rationale":          "High risk requires careful consideration and multiple approvals",
		}
	case "medium":
		framework = map[string]any{
			"decision_type":      "balanced",
			"authority_required": "technical_lead",
			"approval_gates":     []any{"code_review", "testing_review"},
			"timeframe":          "standard_review_period",
			"rationale":          "Medium risk requires standard oversight and review processes",
		}
	default:
		framework = map[string]any{
			"decision_type":      "agile",
			"authority_required": "developer",
			"approval_gates":     []any{"peer_review"},
			"timeframe":          "rapid_deployment",
			"rationale":          "Low risk allows for streamlined decision making",
		}
	}

	if len(synthesis.Slice("critical_issues")) > 0 {
		framework["decision_type"] = "conservative"
		framework["authority_required"] = "senior_technical_lead"
		framework["approval_gates"] = append(framework["approval_gates"].([]any), "risk_assessment_review")
		framework["rationale"] = "Critical issues detected - elevated decision framework required"
	}

	return framework
}

// actionPlan buckets recommendations by priority and appends the top
// safe changes as long-term improvements. Unsafe changes come through
// verbatim as prohibited actions.
func actionPlan(synthesis, surface pipeline.Result) map[string]any {
	immediate := []any{}
	shortTerm := []any{}
	longTerm := []any{}

	for _, raw := range synthesis.Slice("recommendations") {
		rec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := pipeline.Result(rec)
		action := map[string]any{
			"description":      r.String("action"),
			"category":         r.String("category"),
			"rationale":        r.String("rationale"),
			"estimated_effort": estimateEffort(r),
		}
		switch r.String("priority") {
		case "critical":
			immediate = append(immediate, action)
		case "high":
			shortTerm = append(shortTerm, action)
		default:
			longTerm = append(longTerm, action)
		}
	}

	safe := surface.Strings("safe_changes")
	if len(safe) > 3 {
		safe = safe[:3]
	}
	for _, change := range safe {
		longTerm = append(longTerm, map[string]any{
			"description":      change,
			"category":         "safe_improvement",
			"rationale":        "Safe change that can improve repository health",
			"estimated_effort": "low",
		})
	}

	prohibited := surface.Slice("unsafe_changes")
	if prohibited == nil {
		prohibited = []any{}
	}

	return map[string]any{
		"immediate_actions":  immediate,
		"short_term_actions": shortTerm,
		"long_term_actions":  longTerm,
		"prohibited_actions": prohibited,
		"action_count":       len(immediate) + len(shortTerm) + len(longTerm),
	}
}

func estimateEffort(rec pipeline.Result) string {
	category := rec.String("category")
	action := strings.ToLower(rec.String("action"))

	switch {
	case strings.Contains(category, "security") || strings.Contains(category, "governance"):
		if strings.Contains(action, "establish") || strings.Contains(action, "implement") {
			return "high"
		}
		return "medium"
	case strings.Contains(category, "testing"):
		if strings.Contains(action, "comprehensive") {
			return "high"
		}
		return "medium"
	case strings.Contains(category, "code_quality") || strings.Contains(category, "structure"):
		return "medium"
	default:
		return "low"
	}
}

// baselineCeiling sets the starting authority from risk and project
// maturity. The downstream evaluation stage may elevate it further but
// never relax it.
func baselineCeiling(synthesis, intent pipeline.Result) map[string]any {
	level := synthesis.Map("overall_risk_assessment").String("overall_risk_level")
	maturity := intent.Map("maturity_classification").String("maturity_level")

	switch {
	case level == "high" || maturity == "experimental" || maturity == "alpha":
		return map[string]any{
			"maximum_authority":  "senior_architect",
			"decision_scope":     "limited_changes_only",
			"oversight_required": true,
			"rationale":          "High risk or low maturity requires senior oversight",
		}
	case level == "medium" || maturity == "beta":
		return map[string]any{
			"maximum_authority":  "technical_lead",
			"decision_scope":     "feature_changes_allowed",
			"oversight_required": true,
			"rationale":          "Medium risk requires technical lead approval",
		}
	default:
		return map[string]any{
			"maximum_authority":  "developer",
			"decision_scope":     "full_changes_allowed",
			"oversight_required": false,
			"rationale":          "Low risk allows developer-level decisions",
		}
	}
}

// confidenceAssessment averages the synthesis confidence with data
// completeness and the consistency of component risk levels.
func confidenceAssessment(synthesis pipeline.Result) map[string]any {
	riskConfidence := 0.5
	if _, ok := synthesis["risk_confidence"]; ok {
		riskConfidence = synthesis.Float("risk_confidence")
	}

	componentRisks := synthesis.Map("component_risks")
	completeness := dataCompleteness(componentRisks)
	consistency := analysisConsistency(componentRisks)
	overall := (riskConfidence + completeness + consistency) / 3

	var level, description string
	switch {
	case overall >= 0.8:
		level, description = "high", "Strong confidence in analysis results"
	case overall >= 0.6:
		level, description = "medium", "Moderate confidence with some uncertainties"
	default:
		level, description = "low", "Limited confidence - additional investigation recommended"
	}

	return map[string]any{
		"confidence_level": level,
		"confidence_score": overall,
		"description":      description,
		"confidence_factors": map[string]any{
			"risk_assessment_confidence": riskConfidence,
			"data_completeness":          completeness,
			"analysis_consistency":       consistency,
		},
	}
}

func dataCompleteness(componentRisks pipeline.Result) float64 {
	present := 0
	for _, key := range requiredComponents {
		if _, ok := componentRisks[key]; ok {
			present++
		}
	}
	return float64(present) / float64(len(requiredComponents))
}

// analysisConsistency maps component levels onto 1..3 and scores how
// tightly they cluster: 1 minus half the variance, floored at zero.
// Unknown and critical levels are excluded from the sample.
func analysisConsistency(componentRisks pipeline.Result) float64 {
	values := map[string]float64{"low": 1, "medium": 2, "high": 3}

	keys := make([]string, 0, len(componentRisks))
	for key := range componentRisks {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var levels []float64
	for _, key := range keys {
		if v, ok := values[componentRisks.Map(key).String("risk_level")]; ok {
			levels = append(levels, v)
		}
	}
	if len(levels) == 0 {
		return 0.5
	}

	mean := 0.0
	for _, v := range levels {
		mean += v
	}
	mean /= float64(len(levels))

	variance := 0.0
	for _, v := range levels {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(levels))

	return max(0, 1-variance/2)
}

// nextSteps orders the follow-up work. The documentation step is always
// last so consumers can rely on at least one entry.
func nextSteps(framework, plan map[string]any) []any {
	steps := []any{}

	if framework["decision_type"] == "conservative" {
		steps = append(steps, map[string]any{
			"step":      "Schedule senior review meeting",
			"priority":  "immediate",
			"owner":     "technical_lead",
			"timeframe": "within_24_hours",
			"rationale": "Conservative framework requires senior approval",
		})
	}

	if n := len(plan["immediate_actions"].([]any)); n > 0 {
		steps = append(steps, map[string]any{
			"step":      fmt.Sprintf("Address %d critical issue(s)", n),
			"priority":  "immediate",
			"owner":     "assigned_developer",
			"timeframe": "within_1_week",
			"rationale": "Critical issues require immediate attention",
		})
	}

	if n := len(plan["short_term_actions"].([]any)); n > 0 {
		steps = append(steps, map[string]any{
			"step":      fmt.Sprintf("Plan %d high-priority improvement(s)", n),
			"priority":  "short_term",
			"owner":     "technical_lead",
			"timeframe": "within_2_weeks",
			"rationale": "High-priority items need planning and scheduling",
		})
	}

	steps = append(steps, map[string]any{
		"step":      "Document findings and share with team",
		"priority":  "immediate",
		"owner":     "analysis_owner",
		"timeframe": "within_48_hours",
		"rationale": "Team needs to be aware of analysis results",
	})

	return steps
}
