// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"context"
	"sort"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// RiskConfidence is the confidence attached to every synthesis result.
// Placeholder until completeness-based confidence lands in the decision
// layer.
const RiskConfidence = 0.85

// component wires one scorer to its upstream stage key, its weight in
// the overall synthesis, and its failure fallback. Order matters: it is
// the order components appear in the output and in factor iteration.
type componentSpec struct {
	key      string
	stageKey string
	weight   float64
	score    scorer
}

// components is the full scoring plan. Security carries triple weight;
// the analysis-heavy components carry double.
var components = []componentSpec{
	{"structural_risk", pipeline.KeyStructure, 1, guard("structural", LevelLow, scoreStructural)},
	{"semantic_risk", pipeline.KeySemantic, 1, guard("semantic", LevelLow, scoreSemantic)},
	{"security_risk", pipeline.KeySecurity, 3, guard("security", LevelLow, scoreSecurity)},
	{"comprehension_risk", pipeline.KeyComprehension, 2, guard("ai", LevelLow, scoreComprehension)},
	{"compliance_risk", pipeline.KeyCompliance, 2, guard("compliance", LevelUnknown, scoreCompliance)},
	{"dependency_risk", pipeline.KeyDependency, 2, guard("dependency", LevelUnknown, scoreDependency)},
	{"duplication_risk", pipeline.KeyDuplication, 1, guard("duplication", LevelUnknown, scoreDuplication)},
	{"api_risk", pipeline.KeyAPI, 2, guard("api", LevelUnknown, scoreAPI)},
	{"advanced_code_risk", pipeline.KeyAdvancedCode, 2, guard("advanced_code", LevelUnknown, scoreAdvancedCode)},
	{"testing_risk", pipeline.KeyTestSignals, 2, guard("testing", LevelLow, scoreTesting)},
	{"governance_risk", pipeline.KeyGovernance, 2, guard("governance", LevelLow, scoreGovernance)},
	{"intent_risk", pipeline.KeyIntentPosture, 1, guard("intent", LevelLow, scoreIntent)},
	{"misleading_risk", pipeline.KeyMisleading, 1, guard("misleading", LevelLow, scoreMisleading)},
	{"change_risk", pipeline.KeySafeChange, 1, guard("change", LevelLow, scoreChange)},
}

// levelValues maps component levels to the scale used for the weighted
// overall average. Critical and unknown deliberately fall back to 1;
// the critical bands surface through recommendations and critical
// issues instead of the average.
var levelValues = map[string]float64{
	LevelLow:    1,
	LevelMedium: 2,
	LevelHigh:   3,
}

// Synthesizer folds every upstream analysis into a single weighted risk
// picture. It implements pipeline.Stage.
type Synthesizer struct {
	logger *logging.Logger
}

func NewSynthesizer(logger *logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Synthesizer{logger: logger}
}

func (s *Synthesizer) Name() string { return pipeline.KeyRiskSynthesis }

// Run scores all fourteen components from the blackboard and assembles
// the overall assessment, recommendations, and critical issues. A
// scorer that fails contributes its fallback component rather than
// failing the stage.
func (s *Synthesizer) Run(_ context.Context, _ []string, pc *pipeline.Context) (pipeline.Result, error) {
	scored := make(map[string]Component, len(components))
	componentRisks := make(map[string]any, len(components))

	weightedSum := 0.0
	totalWeight := 0.0
	for _, spec := range components {
		c := spec.score(pc.GetOr(spec.stageKey))
		scored[spec.key] = c
		componentRisks[spec.key] = c.result()

		value, ok := levelValues[c.Level]
		if !ok {
			value = 1
		}
		weightedSum += value * spec.weight
		totalWeight += spec.weight
	}

	average := weightedSum / totalWeight
	var overallLevel, overallDescription string
	switch {
	case average >= 2.5:
		overallLevel = LevelHigh
		overallDescription = "High risk - significant concerns across multiple areas"
	case average >= 1.8:
		overallLevel = LevelMedium
		overallDescription = "Medium risk - some concerns requiring attention"
	default:
		overallLevel = LevelLow
		overallDescription = "Low risk - generally acceptable for most use cases"
	}

	s.logger.Debug("risk synthesis complete",
		"overall_level", overallLevel, "average_risk_score", average)

	return pipeline.Result{
		"overall_risk_assessment": map[string]any{
			"overall_risk_level":    overallLevel,
			"description":           overallDescription,
			"average_risk_score":    average,
			"risk_components_count": len(components),
		},
		"component_risks": componentRisks,
		"recommendations": recommendations(scored),
		"critical_issues": criticalIssues(scored),
		"risk_confidence": RiskConfidence,
	}, nil
}

type recommendationRule struct {
	component string
	levels    []string
	priority  string
	category  string
	action    string
	rationale string
}

var recommendationRules = []recommendationRule{
	// rationale filled at match time so it can name the actual level
	{"security_risk", []string{LevelCritical, LevelHigh}, "critical", "security",
		"Address critical security vulnerabilities immediately", ""},
	{"compliance_risk", []string{LevelCritical}, "critical", "compliance",
		"Address critical compliance violations immediately",
		"Critical compliance violations pose legal and regulatory risk"},
	{"dependency_risk", []string{LevelCritical}, "critical", "dependencies",
		"Address critical dependency vulnerabilities immediately",
		"Critical dependency issues pose immediate security risk"},
	{"duplication_risk", []string{LevelCritical}, "critical", "code_quality",
		"Address critical code duplication immediately",
		"Critical code duplication indicates severe maintainability issues"},
	{"testing_risk", []string{LevelHigh}, "critical", "testing",
		"Implement comprehensive test suite",
		"High testing risk indicates insufficient quality assurance"},
	{"governance_risk", []string{LevelHigh}, "critical", "governance",
		"Establish governance framework",
		"High governance risk indicates missing critical processes"},
	{"compliance_risk", []string{LevelHigh}, "high", "compliance",
		"Address high-severity compliance issues",
		"High compliance risk indicates significant standards violations"},
	{"dependency_risk", []string{LevelHigh}, "high", "dependencies",
		"Address dependency health issues",
		"High dependency risk indicates security and maintenance concerns"},
	{"duplication_risk", []string{LevelHigh}, "high", "code_quality",
		"Address high code duplication",
		"High duplication risk indicates significant maintainability issues"},
	{"misleading_risk", []string{LevelHigh}, "high", "misleading_signals",
		"Address misleading signals before proceeding",
		"High misleading signals indicate potential deception or confusion"},
	{"intent_risk", []string{LevelHigh}, "high", "intent",
		"Clarify repository intent and posture",
		"Unclear intent increases operational risk"},
	{"semantic_risk", []string{LevelHigh}, "medium", "code_quality",
		"Refactor complex code and improve quality",
		"High semantic risk indicates maintainability issues"},
	{"change_risk", []string{LevelHigh}, "medium", "change_safety",
		"Improve change safety through better practices",
		"High change risk indicates unsafe modification patterns"},
	{"structural_risk", []string{LevelHigh}, "low", "structure",
		"Reorganize repository structure",
		"Structural issues affect long-term maintainability"},
}

var priorityOrder = map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}

// recommendations evaluates the rule table against the scored
// components and returns the matches sorted by priority. The sort is
// stable so same-priority rules keep table order.
func recommendations(scored map[string]Component) []any {
	matched := make([]map[string]any, 0, 4)
	for _, rule := range recommendationRules {
		level := scored[rule.component].Level
		hit := false
		for _, l := range rule.levels {
			if level == l {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		rationale := rule.rationale
		if rule.component == "security_risk" {
			rationale = "Security risk level: " + level + " - immediate action required"
		}
		matched = append(matched, map[string]any{
			"priority":  rule.priority,
			"category":  rule.category,
			"action":    rule.action,
			"rationale": rationale,
		})
	}
	sort.SliceStable(matched, func(i, j int) bool {
		pi, ok := priorityOrder[matched[i]["priority"].(string)]
		if !ok {
			pi = 4
		}
		pj, ok := priorityOrder[matched[j]["priority"].(string)]
		if !ok {
			pj = 4
		}
		return pi < pj
	})

	out := make([]any, len(matched))
	for i, m := range matched {
		out[i] = m
	}
	return out
}

// criticalIssues flags conditions that should stop a consumer before
// acting on the repository.
func criticalIssues(scored map[string]Component) []any {
	issues := make([]any, 0, 2)
	add := func(severity, issue, impact string) {
		issues = append(issues, map[string]any{
			"severity":                  severity,
			"issue":                     issue,
			"impact":                    impact,
			"immediate_action_required": true,
		})
	}

	if scored["security_risk"].Level == LevelCritical {
		add("critical", "Critical security vulnerabilities detected",
			"Immediate security risk - repository compromised")
	}
	if scored["compliance_risk"].Level == LevelCritical {
		add("critical", "Critical compliance violations detected",
			"Legal and regulatory risk - immediate remediation required")
	}
	if scored["dependency_risk"].Level == LevelCritical {
		add("critical", "Critical dependency vulnerabilities detected",
			"Immediate security risk from vulnerable dependencies")
	}
	if scored["duplication_risk"].Level == LevelCritical {
		add("critical", "Critical code duplication detected",
			"Severe maintainability issues - immediate refactoring required")
	}
	if scored["testing_risk"].Level == LevelHigh && scored["governance_risk"].Level == LevelHigh {
		add("critical", "Fundamental quality and governance gaps",
			"Repository unsuitable for production use")
	}
	if scored["misleading_risk"].Level == LevelHigh {
		add("high", "Significant misleading signals detected",
			"Potential security or operational risks")
	}
	if scored["intent_risk"].Level == LevelHigh && scored["change_risk"].Level == LevelHigh {
		add("high", "Unclear intent combined with unsafe change patterns",
			"High risk of unintended consequences")
	}
	return issues
}
