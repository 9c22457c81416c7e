// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// capitalize upcases the first byte of an ASCII level name.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// levelFromScore buckets a score into low/medium/high at the given
// thresholds.
func levelFromScore(score, mediumAt, highAt float64) string {
	switch {
	case score >= highAt:
		return LevelHigh
	case score >= mediumAt:
		return LevelMedium
	default:
		return LevelLow
	}
}

// scoreStructural penalizes large codebases without tests, config
// sprawl, and missing build tooling.
func scoreStructural(input map[string]any) Component {
	structure := pipeline.Result(input)
	fileCounts := structure.Map("file_counts")

	total := 0.0
	for _, key := range sortedKeys(fileCounts) {
		total += fileCounts.Float(key)
	}
	codeFiles := fileCounts.Float("code")
	testFiles := fileCounts.Float("test")
	configFiles := fileCounts.Float("config")

	score := 0.0
	var factors []string

	if codeFiles > 100 && testFiles < codeFiles*0.1 {
		score += 3
		factors = append(factors, "insufficient_test_coverage")
	}
	if configFiles > total*0.3 {
		score += 2
		factors = append(factors, "excessive_configuration")
	}
	if codeFiles > 50 && len(structure.Strings("build_systems")) == 0 {
		score += 2
		factors = append(factors, "missing_build_system")
	}

	level := levelFromScore(score, 3, 5)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Structural risk: %s (%g points)", level, score),
	}
}

// scoreSemantic penalizes complex functions, heavy external imports,
// and accumulated quality signals.
func scoreSemantic(input map[string]any) Component {
	semantic := pipeline.Result(input)
	functions := semantic.Slice("functions")
	imports := semantic.Slice("imports")
	qualitySignals := semantic.Slice("code_quality_signals")

	score := 0.0
	var factors []string

	complexCount := 0
	for _, fn := range functions {
		if m, ok := fn.(map[string]any); ok && pipeline.Result(m).Float("complexity") > 20 {
			complexCount++
		}
	}
	if float64(complexCount) > float64(len(functions))*0.2 {
		score += 3
		factors = append(factors, "high_function_complexity")
	}

	externalCount := 0
	for _, imp := range imports {
		if s, ok := imp.(string); ok && strings.Contains(s, ".") {
			externalCount++
		}
	}
	if float64(externalCount) > float64(len(imports))*0.5 {
		score += 2
		factors = append(factors, "heavy_external_dependencies")
	}

	if len(qualitySignals) > 10 {
		score += 2
		factors = append(factors, "code_quality_concerns")
	}

	level := levelFromScore(score, 3, 5)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Semantic risk: %s (%g points)", level, score),
	}
}

// scoreSecurity prefers the stage's own risk assessment and falls back
// to a severity-weighted count of findings. This is the one component
// weighted 3x in the overall synthesis.
func scoreSecurity(input map[string]any) Component {
	security := pipeline.Result(input)
	summary := security.Map("summary")
	riskAssessment := security.Map("risk_assessment")

	var score float64
	var level string

	if _, ok := riskAssessment["risk_score"]; ok {
		score = riskAssessment.Float("risk_score") * 10
		level = riskAssessment.String("overall_risk")
		if level == "" {
			level = LevelLow
		}
	} else {
		score = summary.Float("critical_findings")*5 +
			summary.Float("high_findings")*3 +
			summary.Float("medium_findings")
		switch {
		case score >= 10:
			level = LevelCritical
		case score >= 5:
			level = LevelHigh
		case score >= 2:
			level = LevelMedium
		default:
			level = LevelLow
		}
	}

	var factors []string
	if summary.Float("critical_findings") > 0 {
		factors = append(factors, "critical_security_vulnerabilities")
	}
	if summary.Float("high_findings") > 0 {
		factors = append(factors, "high_security_vulnerabilities")
	}
	if summary.Float("findings_per_1000_lines") > 5 {
		factors = append(factors, "high_vulnerability_density")
	}

	capped := score
	if capped > 10 {
		capped = 10
	}
	return Component{
		Level:       level,
		Score:       capped,
		Factors:     factors,
		Description: fmt.Sprintf("Security risk: %s (%.1f points)", level, score),
	}
}

// scoreComprehension penalizes low-comprehensibility signals from the
// comprehension stage's quality assessment.
func scoreComprehension(input map[string]any) Component {
	comprehension := pipeline.Result(input)
	analysis := comprehension.Map("comprehension_analysis")
	quality := analysis.Map("quality_assessment")
	indicators := analysis.Slice("risk_indicators")

	score := 0.0
	var factors []string

	if quality.String("code_maturity") == "Complex codebase - may need refactoring" {
		score += 3
		factors = append(factors, "high_code_complexity")
	}
	if consistent, ok := quality["architecture_consistency"].(bool); ok && !consistent {
		score += 2
		factors = append(factors, "inconsistent_architecture")
	}

	issueDensity := quality.Float("issue_density")
	switch {
	case issueDensity > 2:
		score += 3
		factors = append(factors, "high_issue_density")
	case issueDensity > 1:
		score += 1
		factors = append(factors, "moderate_issue_density")
	}

	if len(indicators) > 5 {
		score += 2
		factors = append(factors, "multiple_code_risks")
	}
	if comprehension.Map("analysis_metadata").Float("files_analyzed") == 0 {
		score += 2
		factors = append(factors, "no_ai_analysis_available")
	}

	level := levelFromScore(score, 3, 6)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Comprehension risk: %s (%g points)", level, score),
	}
}

// scoreCompliance penalizes low compliance scores and severe
// violations, with a framework-specific OWASP/security term.
func scoreCompliance(input map[string]any) Component {
	compliance := pipeline.Result(input)
	violations := compliance.Slice("violations")

	overallScore := 100.0
	if _, ok := compliance["overall_compliance_score"]; ok {
		overallScore = compliance.Float("overall_compliance_score")
	}

	score := 0.0
	var factors []string

	switch {
	case overallScore < 70:
		score += 4
		factors = append(factors, "low_overall_compliance")
	case overallScore < 85:
		score += 2
		factors = append(factors, "moderate_compliance_issues")
	}

	criticalViolations := 0
	highViolations := 0
	for _, v := range violations {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		switch pipeline.Result(m).String("severity") {
		case "critical":
			criticalViolations++
		case "high":
			highViolations++
		}
	}
	score += float64(criticalViolations) * 3
	score += float64(highViolations) * 2
	if criticalViolations > 0 {
		factors = append(factors, "critical_compliance_violations")
	}
	if highViolations > 0 {
		factors = append(factors, "high_severity_compliance_violations")
	}

	frameworkScores := compliance.Map("framework_scores")
	if owasp, ok := frameworkScores["OWASP"]; ok {
		if f, isNum := owasp.(float64); isNum && f < 80 {
			score += 2
			factors = append(factors, "owasp_compliance_issues")
		}
	}
	if sec, ok := frameworkScores["Security Best Practices"]; ok {
		if f, isNum := sec.(float64); isNum && f < 80 {
			score += 2
			factors = append(factors, "security_best_practice_violations")
		}
	}

	level := levelFromScore(score, 4, 8)
	capped := score
	if capped > 10 {
		capped = 10
	}
	return Component{
		Level:       level,
		Score:       capped,
		Factors:     factors,
		Description: fmt.Sprintf("Compliance risk: %s (%g points)", level, score),
	}
}

// scoreDependency penalizes poor health scores, vulnerable and
// outdated packages, and the absence of any dependency management.
// This scorer has a critical band.
func scoreDependency(input map[string]any) Component {
	dependency := pipeline.Result(input)
	vulnerabilities := dependency.Slice("vulnerabilities")
	licenseIssues := dependency.Slice("license_issues")
	outdated := dependency.Slice("outdated_packages")
	ecosystems := dependency.Strings("ecosystems_detected")

	healthScore := 100.0
	if _, ok := dependency["dependency_health_score"]; ok {
		healthScore = dependency.Float("dependency_health_score")
	}

	score := 0.0
	var factors []string

	switch {
	case healthScore < 50:
		score += 8
		factors = append(factors, "very_poor_dependency_health")
	case healthScore < 70:
		score += 5
		factors = append(factors, "poor_dependency_health")
	case healthScore < 85:
		score += 2
		factors = append(factors, "moderate_dependency_health")
	}

	if n := len(vulnerabilities); n > 0 {
		score += min(float64(n)*3, 15)
		factors = append(factors, fmt.Sprintf("%d_vulnerable_dependencies", n))
	}
	if n := len(licenseIssues); n > 0 {
		score += min(float64(n)*2, 10)
		factors = append(factors, fmt.Sprintf("%d_license_issues", n))
	}
	if n := len(outdated); n > 0 {
		score += min(float64(n), 5)
		factors = append(factors, fmt.Sprintf("%d_outdated_packages", n))
	}
	if len(ecosystems) == 0 {
		score += 10
		factors = append(factors, "no_dependency_management")
	}

	var level string
	switch {
	case score >= 15:
		level = LevelCritical
	case score >= 8:
		level = LevelHigh
	case score >= 4:
		level = LevelMedium
	default:
		level = LevelLow
	}
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("%s dependency risk (%g points)", capitalize(level), score),
	}
}

// scoreDuplication penalizes low duplication scores, high duplicate
// ratios, and files in the critical/high bands. Critical band scorer.
func scoreDuplication(input map[string]any) Component {
	duplication := pipeline.Result(input)
	metrics := duplication.Map("duplication_metrics")
	severity := duplication.Map("severity_breakdown")

	dupScore := 100.0
	if _, ok := duplication["duplication_score"]; ok {
		dupScore = duplication.Float("duplication_score")
	}

	score := 0.0
	var factors []string

	switch {
	case dupScore < 50:
		score += 8
		factors = append(factors, "severe_duplication")
	case dupScore < 70:
		score += 5
		factors = append(factors, "high_duplication")
	case dupScore < 85:
		score += 2
		factors = append(factors, "moderate_duplication")
	}

	ratio := metrics.Float("duplicate_line_ratio")
	switch {
	case ratio > 0.3:
		score += 3
		factors = append(factors, "high_duplicate_ratio")
	case ratio > 0.15:
		score += 1
		factors = append(factors, "moderate_duplicate_ratio")
	}

	if critical := severity.Float("critical"); critical > 0 {
		score += min(critical*2, 10)
		factors = append(factors, fmt.Sprintf("%d_files_critical_duplication", int(critical)))
	}
	if high := severity.Float("high"); high > 0 {
		score += min(high, 5)
		factors = append(factors, fmt.Sprintf("%d_files_high_duplication", int(high)))
	}
	if metrics.Float("largest_clone_group") > 10 {
		score += 2
		factors = append(factors, "large_clone_groups")
	}

	var level string
	switch {
	case score >= 12:
		level = LevelCritical
	case score >= 6:
		level = LevelHigh
	case score >= 3:
		level = LevelMedium
	default:
		level = LevelLow
	}
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("%s duplication risk (%g points)", capitalize(level), score),
	}
}

// scoreAPI penalizes low API scores, security findings against
// endpoints, compliance gaps, and design issues. Critical band scorer.
func scoreAPI(input map[string]any) Component {
	api := pipeline.Result(input)
	metrics := api.Map("api_metrics")
	securityFindings := api.Slice("security_findings")
	complianceIssues := api.Slice("compliance_issues")

	apiScore := 100.0
	if _, ok := api["api_score"]; ok {
		apiScore = api.Float("api_score")
	}

	score := 0.0
	var factors []string

	switch {
	case apiScore < 50:
		score += 8
		factors = append(factors, "severe_api_issues")
	case apiScore < 70:
		score += 5
		factors = append(factors, "high_api_issues")
	case apiScore < 85:
		score += 2
		factors = append(factors, "moderate_api_issues")
	}

	criticalSec := 0
	highSec := 0
	for _, f := range securityFindings {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		switch pipeline.Result(m).String("severity") {
		case "critical":
			criticalSec++
		case "high":
			highSec++
		}
	}
	if criticalSec > 0 {
		score += min(float64(criticalSec)*3, 12)
		factors = append(factors, fmt.Sprintf("%d_critical_api_security_issues", criticalSec))
	}
	if highSec > 0 {
		score += min(float64(highSec)*2, 8)
		factors = append(factors, fmt.Sprintf("%d_high_api_security_issues", highSec))
	}
	if n := len(complianceIssues); n > 0 {
		score += min(float64(n), 5)
		factors = append(factors, fmt.Sprintf("%d_api_compliance_violations", n))
	}

	designIssues := metrics.Float("design_issues")
	switch {
	case designIssues > 5:
		score += 3
		factors = append(factors, "poor_api_design")
	case designIssues > 2:
		score += 1
		factors = append(factors, "moderate_api_design_issues")
	}

	coverage := 1.0
	if _, ok := metrics["endpoint_coverage"]; ok {
		coverage = metrics.Float("endpoint_coverage")
	}
	if coverage < 0.5 {
		score += 2
		factors = append(factors, "low_api_endpoint_coverage")
	}

	var level string
	switch {
	case score >= 12:
		level = LevelCritical
	case score >= 6:
		level = LevelHigh
	case score >= 3:
		level = LevelMedium
	default:
		level = LevelLow
	}
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("%s API risk (%g points)", capitalize(level), score),
	}
}

// scoreAdvancedCode walks the per-file complexity, control flow, data
// flow, and insight maps. File maps are iterated in sorted key order
// so the factor list stays deterministic.
func scoreAdvancedCode(input map[string]any) Component {
	advanced := pipeline.Result(input)
	if len(advanced) == 0 {
		return Component{
			Level:       LevelLow,
			Score:       0,
			Factors:     nil,
			Description: "No advanced code analysis data available",
		}
	}

	score := 0.0
	var factors []string

	complexity := advanced.Map("complexity_analysis")
	for _, path := range sortedKeys(complexity) {
		fileComplexity := complexity.Map(path)
		if len(fileComplexity) == 0 {
			continue
		}
		cyclomatic := fileComplexity.Float("cyclomatic_complexity")
		cognitive := fileComplexity.Float("cognitive_complexity")

		switch {
		case cyclomatic > 15:
			score += 2
			factors = append(factors, "high_cyclomatic_complexity_"+path)
		case cyclomatic > 10:
			score += 1
			factors = append(factors, "moderate_cyclomatic_complexity_"+path)
		}
		switch {
		case cognitive > 20:
			score += 2
			factors = append(factors, "high_cognitive_complexity_"+path)
		case cognitive > 15:
			score += 1
			factors = append(factors, "moderate_cognitive_complexity_"+path)
		}
	}

	controlFlow := advanced.Map("control_flow_analysis")
	for _, path := range sortedKeys(controlFlow) {
		fileControl := controlFlow.Map(path)
		if len(fileControl) == 0 {
			continue
		}
		avg := fileControl.Float("average_function_complexity")
		switch {
		case avg > 10:
			score += 2
			factors = append(factors, "complex_control_flow_"+path)
		case avg > 5:
			score += 1
			factors = append(factors, "moderate_control_flow_"+path)
		}
	}

	dataFlow := advanced.Map("data_flow_analysis")
	for _, path := range sortedKeys(dataFlow) {
		variables := dataFlow.Map(path).Map("variables")
		for _, varName := range sortedKeys(variables) {
			if variables.Map(varName).Float("total_definitions") > 5 {
				score += 1
				factors = append(factors, "frequent_variable_redefinition_"+path)
			}
		}
	}

	for _, item := range advanced.Slice("advanced_insights") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		insight := pipeline.Result(m)
		insightType := insight.String("type")
		if insightType == "" {
			insightType = "unknown"
		}
		switch insight.String("severity") {
		case "high":
			score += 3
			factors = append(factors, "advanced_insight_"+insightType)
		case "medium":
			score += 2
			factors = append(factors, "advanced_insight_"+insightType)
		}
	}

	level := levelFromScore(score, 4, 8)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Advanced code risk: %s (%g points from complexity and flow analysis)", level, score),
	}
}

// scoreTesting penalizes low testing maturity and accumulated gaps.
func scoreTesting(input map[string]any) Component {
	testSignals := pipeline.Result(input)
	maturity := testSignals.Float("testing_maturity_score")
	gaps := testSignals.Slice("test_gaps")

	score := 0.0
	var factors []string

	switch {
	case maturity < 0.3:
		score += 4
		factors = append(factors, "very_low_test_maturity")
	case maturity < 0.6:
		score += 2
		factors = append(factors, "low_test_maturity")
	}
	if len(gaps) > 3 {
		score += 2
		factors = append(factors, "multiple_test_gaps")
	}

	level := levelFromScore(score, 2, 4)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Testing risk: %s (%g points)", level, score),
	}
}

// scoreGovernance penalizes low governance maturity, missing security
// scanning, and license ambiguity.
func scoreGovernance(input map[string]any) Component {
	governance := pipeline.Result(input)
	maturity := governance.Float("governance_maturity_score")
	securityGov := governance.Map("security_governance")
	licenseGov := governance.Map("license_governance")

	score := 0.0
	var factors []string

	switch {
	case maturity < 0.3:
		score += 4
		factors = append(factors, "very_low_governance_maturity")
	case maturity < 0.6:
		score += 2
		factors = append(factors, "low_governance_maturity")
	}
	if !securityGov.Bool("has_security_scanning") {
		score += 2
		factors = append(factors, "missing_security_scanning")
	}
	if len(licenseGov.Strings("detected_licenses")) > 1 {
		score += 1
		factors = append(factors, "multiple_licenses")
	}

	level := levelFromScore(score, 2, 4)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Governance risk: %s (%g points)", level, score),
	}
}

// scoreIntent penalizes weak security posture and low maturity in the
// intent classification.
func scoreIntent(input map[string]any) Component {
	intent := pipeline.Result(input)
	securityPosture := intent.Map("security_posture")
	maturityClass := intent.Map("maturity_classification")

	score := 0.0
	var factors []string

	if securityPosture.Float("security_practices_score") < 3 {
		score += 3
		factors = append(factors, "low_security_posture")
	}
	if maturityClass.Float("maturity_score") < 0.3 {
		score += 2
		factors = append(factors, "low_maturity_level")
	}

	level := levelFromScore(score, 2, 4)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Intent risk: %s (%g points)", level, score),
	}
}

// scoreMisleading penalizes misleading-signal density and the stage's
// own overall risk call.
func scoreMisleading(input map[string]any) Component {
	misleading := pipeline.Result(input)
	totalSignals := misleading.Float("total_misleading_signals")
	overallRisk := misleading.String("overall_misleading_risk")

	score := 0.0
	var factors []string

	switch overallRisk {
	case LevelHigh:
		score += 4
		factors = append(factors, "high_misleading_signals")
	case LevelMedium:
		score += 2
		factors = append(factors, "medium_misleading_signals")
	}
	if totalSignals > 5 {
		score += 1
		factors = append(factors, "multiple_misleading_signals")
	}

	level := levelFromScore(score, 2, 4)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Misleading risk: %s (%g points)", level, score),
	}
}

// scoreChange penalizes low overall change safety.
func scoreChange(input map[string]any) Component {
	safeChange := pipeline.Result(input)
	safetyLevel := safeChange.Map("overall_change_safety").String("overall_safety_level")

	score := 0.0
	var factors []string

	switch safetyLevel {
	case "very_low":
		score += 4
		factors = append(factors, "very_low_change_safety")
	case "low":
		score += 2
		factors = append(factors, "low_change_safety")
	}

	level := levelFromScore(score, 2, 4)
	return Component{
		Level:       level,
		Score:       score,
		Factors:     factors,
		Description: fmt.Sprintf("Change risk: %s (%g points)", level, score),
	}
}
