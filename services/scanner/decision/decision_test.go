// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

func seededContext(t *testing.T, results map[string]pipeline.Result) *pipeline.Context {
	t.Helper()
	pc := pipeline.NewContext([]string{"main.go"})
	for key, r := range results {
		require.NoError(t, pc.Put(key, r))
	}
	return pc
}

func runArtifacts(t *testing.T, results map[string]pipeline.Result) pipeline.Result {
	t.Helper()
	out, err := NewArtifacts(nil).Run(context.Background(), nil, seededContext(t, results))
	require.NoError(t, err)
	return out
}

func runEvaluator(t *testing.T, results map[string]pipeline.Result) pipeline.Result {
	t.Helper()
	out, err := NewEvaluator(nil).Run(context.Background(), nil, seededContext(t, results))
	require.NoError(t, err)
	return out
}

// =============================================================================
// Artifacts
// =============================================================================

func TestArtifactsLowRiskDefaults(t *testing.T) {
	out := runArtifacts(t, nil)

	framework := out.Map("decision_framework")
	assert.Equal(t, "agile", framework.String("decision_type"))
	assert.Equal(t, "developer", framework.String("authority_required"))
	assert.Equal(t, []any{"peer_review"}, framework.Slice("approval_gates"))

	plan := out.Map("action_plan")
	assert.Equal(t, 0, plan.Int("action_count"))
	assert.Empty(t, plan.Slice("prohibited_actions"))

	ceiling := out.Map("authority_ceiling")
	assert.Equal(t, "developer", ceiling.String("maximum_authority"))
	assert.Equal(t, "full_changes_allowed", ceiling.String("decision_scope"))
	assert.False(t, ceiling.Bool("oversight_required"))

	// No synthesis means half confidence, zero completeness, neutral
	// consistency: (0.5 + 0 + 0.5) / 3.
	confidence := out.Map("confidence_assessment")
	assert.Equal(t, "low", confidence.String("confidence_level"))
	assert.InDelta(t, 1.0/3.0, confidence.Float("confidence_score"), 0.001)

	steps := out.Slice("next_steps")
	require.Len(t, steps, 1)
	assert.Equal(t, "Document findings and share with team",
		pipeline.Result(steps[0].(map[string]any)).String("step"))

	assert.Equal(t, PlaceholderTimestamp, out.String("decision_timestamp"))
	assert.Equal(t, "1.0.0", out.String("decision_version"))
}

func TestArtifactsCriticalIssueEscalation(t *testing.T) {
	out := runArtifacts(t, map[string]pipeline.Result{
		pipeline.KeyRiskSynthesis: {
			"overall_risk_assessment": map[string]any{"overall_risk_level": "high"},
			"critical_issues": []any{
				map[string]any{"issue": "Critical security vulnerabilities detected"},
			},
		},
	})

	framework := out.Map("decision_framework")
	assert.Equal(t, "conservative", framework.String("decision_type"))
	assert.Equal(t, "senior_technical_lead", framework.String("authority_required"))

	gates := framework.Slice("approval_gates")
	require.Len(t, gates, 4)
	assert.Equal(t, "risk_assessment_review", gates[3])
	assert.Equal(t, "Critical issues detected - elevated decision framework required",
		framework.String("rationale"))

	// High risk also raises the baseline ceiling.
	ceiling := out.Map("authority_ceiling")
	assert.Equal(t, "senior_architect", ceiling.String("maximum_authority"))
	assert.True(t, ceiling.Bool("oversight_required"))
}

func TestArtifactsActionPlanBucketsAndEffort(t *testing.T) {
	out := runArtifacts(t, map[string]pipeline.Result{
		pipeline.KeyRiskSynthesis: {
			"recommendations": []any{
				map[string]any{
					"priority": "critical", "category": "security",
					"action":    "Establish security scanning in CI",
					"rationale": "Vulnerabilities detected",
				},
				map[string]any{
					"priority": "high", "category": "testing",
					"action":    "Add comprehensive test coverage",
					"rationale": "Coverage is low",
				},
				map[string]any{
					"priority": "medium", "category": "code_quality",
					"action":    "Refactor complex modules",
					"rationale": "Complexity is high",
				},
			},
		},
		pipeline.KeySafeChange: {
			"safe_changes": []any{
				"refactoring_internal_logic", "improving_documentation",
				"adding_tests", "upgrading_dependencies",
			},
			"unsafe_changes": []any{"changing_public_interfaces"},
		},
	})

	plan := out.Map("action_plan")
	immediate := plan.Slice("immediate_actions")
	shortTerm := plan.Slice("short_term_actions")
	longTerm := plan.Slice("long_term_actions")

	require.Len(t, immediate, 1)
	assert.Equal(t, "high",
		pipeline.Result(immediate[0].(map[string]any)).String("estimated_effort"))
	require.Len(t, shortTerm, 1)
	assert.Equal(t, "high",
		pipeline.Result(shortTerm[0].(map[string]any)).String("estimated_effort"))

	// One medium recommendation plus the top three safe changes.
	require.Len(t, longTerm, 4)
	assert.Equal(t, "medium",
		pipeline.Result(longTerm[0].(map[string]any)).String("estimated_effort"))
	assert.Equal(t, "safe_improvement",
		pipeline.Result(longTerm[1].(map[string]any)).String("category"))

	assert.Equal(t, []any{"changing_public_interfaces"}, plan.Slice("prohibited_actions"))
	assert.Equal(t, 6, plan.Int("action_count"))

	steps := out.Slice("next_steps")
	require.Len(t, steps, 3)
	assert.Equal(t, "Address 1 critical issue(s)",
		pipeline.Result(steps[0].(map[string]any)).String("step"))
	assert.Equal(t, "Plan 1 high-priority improvement(s)",
		pipeline.Result(steps[1].(map[string]any)).String("step"))
}

func TestArtifactsConfidenceCompleteAndConsistent(t *testing.T) {
	componentRisks := map[string]any{}
	for _, key := range requiredComponents {
		componentRisks[key] = map[string]any{"risk_level": "low"}
	}

	out := runArtifacts(t, map[string]pipeline.Result{
		pipeline.KeyRiskSynthesis: {
			"risk_confidence": 0.85,
			"component_risks": componentRisks,
		},
	})

	confidence := out.Map("confidence_assessment")
	assert.Equal(t, "high", confidence.String("confidence_level"))
	assert.InDelta(t, 0.95, confidence.Float("confidence_score"), 0.001)

	factors := confidence.Map("confidence_factors")
	assert.InDelta(t, 1.0, factors.Float("data_completeness"), 0.001)
	assert.InDelta(t, 1.0, factors.Float("analysis_consistency"), 0.001)
}

// =============================================================================
// Ceiling
// =============================================================================

func TestCeilingOnlyElevates(t *testing.T) {
	c := NewCeiling("developer")

	assert.True(t, c.Elevate("technical_lead", map[string]any{"id": "a"}))
	assert.False(t, c.Elevate("developer", map[string]any{"id": "b"}))
	assert.True(t, c.Elevate("senior_architect", map[string]any{"id": "c"}))
	assert.False(t, c.Elevate("senior_technical_lead", map[string]any{"id": "d"}))
	assert.True(t, c.Elevate("chief_architect", map[string]any{"id": "e"}))

	assert.Equal(t, "chief_architect", c.Authority())
	assert.Equal(t, 1, c.Rank())
}

func TestCeilingOrderIndependentFinalAuthority(t *testing.T) {
	names := []string{
		"technical_lead", "chief_architect", "developer",
		"senior_architect", "senior_technical_lead",
	}

	forward := NewCeiling("developer")
	for _, name := range names {
		forward.Elevate(name, map[string]any{"authority_minimum": name})
	}
	backward := NewCeiling("developer")
	for i := len(names) - 1; i >= 0; i-- {
		backward.Elevate(names[i], map[string]any{"authority_minimum": names[i]})
	}

	assert.Equal(t, forward.Authority(), backward.Authority())
	assert.Equal(t, "chief_architect", forward.Authority())
}

func TestCeilingUnknownAuthorityTreatedAsDeveloper(t *testing.T) {
	c := NewCeiling("intern")
	assert.Equal(t, "developer", c.Authority())
	assert.False(t, c.Elevate("junior_developer", nil))
}

// =============================================================================
// Evaluator
// =============================================================================

func TestEvaluatorElevatesFromConstraints(t *testing.T) {
	out := runEvaluator(t, map[string]pipeline.Result{
		pipeline.KeyRiskSynthesis: {
			"overall_risk_assessment": map[string]any{"overall_risk_level": "high"},
		},
		pipeline.KeyIntentPosture: {
			"primary_intent":          map[string]any{"intent": "infrastructure"},
			"maturity_classification": map[string]any{"maturity_level": "experimental"},
		},
		pipeline.KeyGovernance: {"governance_maturity_score": 0.3},
		pipeline.KeyStructure: {
			"file_counts": map[string]any{
				"total": 600, "code": 450, "test": 30, "config": 60, "docs": 60,
			},
		},
		pipeline.KeyDecision: {
			"authority_ceiling":     map[string]any{"maximum_authority": "developer"},
			"confidence_assessment": map[string]any{"confidence_score": 0.7},
		},
	})

	constraints := out.Map("authority_constraints")
	assert.Equal(t, 3, constraints.Int("constraint_count"))
	assert.Equal(t, "high", constraints.String("highest_severity"))

	factors := out.Map("organizational_factors")
	assert.Equal(t, 3, factors.Int("factor_count"))
	assert.Equal(t, "high", factors.String("highest_impact"))

	// Only the first constraint reaching senior_architect actually
	// moves the ceiling; everything weaker is already covered.
	final := out.Map("final_authority_ceiling")
	assert.Equal(t, "senior_architect", final.String("maximum_authority"))
	assert.Equal(t, "architectural_decisions_only", final.String("decision_scope"))
	assert.True(t, final.Bool("oversight_required"))
	assert.Equal(t, 2, final.Int("authority_level"))
	assert.Equal(t, 1, final.Int("constraint_count"))

	rationale := out.Map("authority_rationale")
	lines := rationale.Slice("authority_rationale")
	require.Len(t, lines, 3)
	assert.Equal(t, "Authority elevated to senior architect due to 1 constraining factor(s)", lines[0])
	assert.Equal(t, "Risk Based: High overall risk requires senior authority", lines[1])
	assert.Equal(t, "Decision scope limited to architectural decisions only with oversight required", lines[2])
	assert.Equal(t, []any{"High overall risk requires senior authority"},
		rationale.Slice("key_factors"))

	confidence := out.Map("authority_confidence")
	assert.InDelta(t, 0.8, confidence.Float("authority_confidence_score"), 0.001)
	assert.Equal(t, "high", confidence.String("authority_confidence_level"))

	assert.Equal(t, PlaceholderTimestamp, out.String("evaluation_timestamp"))
	assert.Equal(t, "1.0.0", out.String("evaluation_version"))
}

func TestEvaluatorBareContext(t *testing.T) {
	out := runEvaluator(t, nil)

	// Zero governance maturity and zero test ratio still constrain.
	constraints := out.Map("authority_constraints")
	assert.Equal(t, 1, constraints.Int("constraint_count"))
	assert.Equal(t, "high", constraints.String("highest_severity"))

	factors := out.Map("organizational_factors")
	assert.Equal(t, 1, factors.Int("factor_count"))
	assert.Equal(t, "medium", factors.String("highest_impact"))

	final := out.Map("final_authority_ceiling")
	assert.Equal(t, "senior_technical_lead", final.String("maximum_authority"))
	assert.Equal(t, "major_changes_only", final.String("decision_scope"))
	assert.True(t, final.Bool("oversight_required"))

	confidence := out.Map("authority_confidence")
	assert.InDelta(t, 0.6, confidence.Float("authority_confidence_score"), 0.001)
	assert.Equal(t, "medium", confidence.String("authority_confidence_level"))
}

func TestEvaluatorStandardAuthorityWhenNothingApplies(t *testing.T) {
	out := runEvaluator(t, map[string]pipeline.Result{
		pipeline.KeyRiskSynthesis: {
			"overall_risk_assessment": map[string]any{"overall_risk_level": "low"},
		},
		pipeline.KeyIntentPosture: {
			"primary_intent":          map[string]any{"intent": "application"},
			"maturity_classification": map[string]any{"maturity_level": "production_ready"},
		},
		pipeline.KeyGovernance: {"governance_maturity_score": 0.8},
		pipeline.KeyStructure: {
			"file_counts": map[string]any{
				"total": 10, "code": 5, "test": 3, "config": 1, "docs": 1,
			},
		},
		pipeline.KeyDecision: {
			"authority_ceiling":     map[string]any{"maximum_authority": "developer"},
			"confidence_assessment": map[string]any{"confidence_score": 0.9},
		},
	})

	final := out.Map("final_authority_ceiling")
	assert.Equal(t, "developer", final.String("maximum_authority"))
	assert.Equal(t, "routine_changes_only", final.String("decision_scope"))
	assert.False(t, final.Bool("oversight_required"))
	assert.Equal(t, 0, final.Int("constraint_count"))

	rationale := out.Map("authority_rationale")
	lines := rationale.Slice("authority_rationale")
	require.Len(t, lines, 2)
	assert.Equal(t, "Standard authority level (developer) maintained - no elevation required", lines[0])
	assert.Equal(t, "Decision scope limited to routine changes only with oversight not required", lines[1])
	assert.Empty(t, rationale.Slice("key_factors"))

	confidence := out.Map("authority_confidence")
	assert.InDelta(t, 0.8, confidence.Float("authority_confidence_score"), 0.001)
	assert.False(t, confidence.Map("confidence_factors").Bool("constraint_application"))
}
