// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"sort"

	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Intent classifies what the repository is for (library, application,
// tool, research, infrastructure), its security posture, and its
// maturity. Posture and maturity both depend on the governance result,
// so the stage is a two-phase Reconciler: a speculative draft computed
// with empty governance overlaps with the governance stage itself, and
// the final phase recomputes against the real signal.
type Intent struct{}

// Name returns the context key for the intent classification.
func (in *Intent) Name() string { return pipeline.KeyIntentPosture }

// Run computes the classification with whatever governance is already
// on the blackboard.
func (in *Intent) Run(ctx context.Context, files []string, pc *pipeline.Context) (pipeline.Result, error) {
	return in.Final(ctx, files, pc, pc.GetOr(pipeline.KeyGovernance))
}

// Draft computes the classification assuming no governance signal.
func (in *Intent) Draft(ctx context.Context, files []string, pc *pipeline.Context) (pipeline.Result, error) {
	return in.Final(ctx, files, pc, pipeline.Result{})
}

// Final computes the authoritative classification.
func (in *Intent) Final(_ context.Context, files []string, pc *pipeline.Context, governance pipeline.Result) (pipeline.Result, error) {
	paths := normalizePaths(files)
	testSignals := pc.GetOr(pipeline.KeyTestSignals)

	primary := in.classifyIntent(paths)
	posture := in.securityPosture(governance)
	maturity := in.maturity(governance, testSignals)
	patterns := in.codePatterns(paths)

	confidence := (primary["confidence"].(float64) +
		posture["security_practices_score"].(float64) +
		maturity["maturity_score"].(float64) + 0.5) / 4

	return pipeline.Result{
		"primary_intent":          primary,
		"security_posture":        posture,
		"maturity_classification": maturity,
		"risk_posture":            posture["risk_level"],
		"development_stage":       maturity["maturity_level"],
		"code_patterns":           patterns,
		"intent_confidence":       confidence,
	}, nil
}

func (in *Intent) classifyIntent(paths []string) map[string]any {
	scores := map[string]float64{
		"library": 0, "application": 0, "tool": 0,
		"research": 0, "educational": 0, "infrastructure": 0,
	}
	if anyBase(paths, "__init__.py") {
		scores["library"] += 2
	}
	if anyBase(paths, "setup.py") || anyBase(paths, "pyproject.toml") {
		scores["library"]++
	}
	if anyBase(paths, "go.mod") && !anyContains(paths, "cmd/") && !anyBase(paths, "main.go") {
		scores["library"] += 2
	}
	if anyBase(paths, "main.py") || anyBase(paths, "__main__.py") ||
		anyBase(paths, "main.go") || anyContains(paths, "cmd/") {
		scores["application"] += 2
	}
	if anyBase(paths, "app.py") {
		scores["application"]++
	}
	if anyContainsFold(paths, "cli") || anyContainsFold(paths, "command") {
		scores["tool"] += 2
	}
	for needle, intent := range map[string]string{
		"notebook": "research", ".ipynb": "research", "experiment": "research",
		"tutorial": "educational", "example": "educational", "lesson": "educational",
		"terraform": "infrastructure", "ansible": "infrastructure",
		"dockerfile": "infrastructure", "helm": "infrastructure",
	} {
		if anyContainsFold(paths, needle) {
			scores[intent]++
		}
	}

	best, bestScore, total := "unknown", 0.0, 0.0
	for _, intent := range sortedScoreKeys(scores) {
		total += scores[intent]
		if scores[intent] > bestScore {
			best, bestScore = intent, scores[intent]
		}
	}
	confidence := 0.0
	if total > 0 {
		confidence = bestScore / total
	}
	return map[string]any{
		"intent":     best,
		"confidence": confidence,
		"signals":    in.scoreMap(scores),
	}
}

func (in *Intent) securityPosture(governance pipeline.Result) map[string]any {
	security := governance.Map("security_governance")
	quality := governance.Map("code_quality_governance")
	deps := governance.Map("dependency_governance")
	cicd := governance.Map("ci_cd_governance")

	score := 0.0
	controls := make([]string, 0)
	if len(security.Strings("security_scanners")) > 0 {
		score += 2
		controls = append(controls, "security_scanners")
	}
	if security.Bool("has_security_md") {
		score++
		controls = append(controls, "security_policy")
	}
	if security.Bool("secret_scanning") {
		score++
		controls = append(controls, "secret_scanning")
	}
	if deps.Bool("has_lock_files") {
		score++
		controls = append(controls, "dependency_pinning")
	}
	if deps.Bool("dependency_scanning") {
		score++
		controls = append(controls, "dependency_scanning")
	}
	if len(quality.Strings("static_analyzers")) > 0 {
		score++
		controls = append(controls, "static_analysis")
	}
	if cicd.Bool("has_ci_cd") {
		score++
		controls = append(controls, "continuous_integration")
	}
	sort.Strings(controls)

	posture, riskLevel := "weak", "high"
	switch {
	case score >= 7:
		posture, riskLevel = "strong", "low"
	case score >= 4:
		posture, riskLevel = "moderate", "medium"
	}
	return map[string]any{
		"posture":                  posture,
		"risk_level":               riskLevel,
		"security_practices_score": score / 10,
		"security_controls":        toAny(controls),
	}
}

func (in *Intent) maturity(governance, testSignals pipeline.Result) map[string]any {
	testing := testSignals.Float("testing_maturity_score")
	govScore := governance.Float("governance_maturity_score")

	ratio := testSignals.Float("test_to_code_ratio")
	structureScore := 0.0
	switch {
	case ratio > 0.5:
		structureScore = 1.0
	case ratio > 0.2:
		structureScore = 0.7
	case ratio > 0.1:
		structureScore = 0.4
	}

	docs := governance.Map("documentation_governance")
	docScore := 0.0
	if len(docs.Strings("readme_files")) > 0 {
		docScore += 0.3
	}
	if docs.Bool("contributing_guide") {
		docScore += 0.2
	}
	if docs.Bool("license_file") {
		docScore += 0.2
	}
	if docs.Bool("code_of_conduct") {
		docScore += 0.15
	}
	if docs.Bool("changelog") {
		docScore += 0.15
	}

	score := testing*0.3 + govScore*0.3 + structureScore*0.2 + docScore*0.2
	level := "experimental"
	switch {
	case score >= 0.8:
		level = "production_ready"
	case score >= 0.6:
		level = "beta"
	case score >= 0.4:
		level = "alpha"
	case score >= 0.2:
		level = "prototype"
	}
	return map[string]any{
		"maturity_level": level,
		"maturity_score": score,
		"factors": map[string]any{
			"testing":        testing,
			"governance":     govScore,
			"code_structure": structureScore,
			"documentation":  docScore,
		},
	}
}

func (in *Intent) codePatterns(paths []string) []any {
	patterns := make([]string, 0)
	for needle, pattern := range map[string]string{
		"docker":     "containerized",
		"async":      "asynchronous",
		"handler":    "event_driven",
		"migrations": "database_backed",
		"proto":      "rpc_interfaces",
	} {
		if anyContainsFold(paths, needle) {
			patterns = append(patterns, pattern)
		}
	}
	sort.Strings(patterns)
	return toAny(patterns)
}

func (in *Intent) scoreMap(scores map[string]float64) map[string]any {
	out := make(map[string]any, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}

func sortedScoreKeys(scores map[string]float64) []string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
