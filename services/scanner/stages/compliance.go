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

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Compliance evaluates every code file against a fixed rule table
// spanning OWASP, security best practices, code quality, and privacy
// regulation. Each file either passes or violates each rule; the
// overall score is the pass rate.
type Compliance struct {
	files *cache.FileCache
}

// Name returns the context key for the compliance evaluation.
func (c *Compliance) Name() string { return pipeline.KeyCompliance }

type complianceRule struct {
	id        string
	name      string
	severity  string
	framework string
	check     func(path, content string) (bool, string)
}

func patternRule(re *regexp.Regexp, detail string) func(string, string) (bool, string) {
	return func(_, content string) (bool, string) {
		if re.MatchString(content) {
			return true, detail
		}
		return false, ""
	}
}

var complianceRules = []complianceRule{
	{"OWASP-A01", "SQL Injection", "critical", "OWASP",
		patternRule(regexp.MustCompile(`(?i)(execute|query)\s*\(\s*["'].*(%s|\+|f["'])`),
			"query built by string interpolation")},
	{"OWASP-A02", "Broken Authentication", "high", "OWASP",
		patternRule(regexp.MustCompile(`(?i)password\s*==\s*["']|auth\s*=\s*False|verify\s*=\s*False`),
			"weak or disabled authentication check")},
	{"OWASP-A03", "Sensitive Data Exposure", "high", "OWASP",
		patternRule(regexp.MustCompile(`(?i)(print|console\.log|logger?\.\w+)\s*\([^)]*(password|secret|token|ssn)`),
			"sensitive value written to output")},
	{"OWASP-A04", "XML External Entities", "medium", "OWASP",
		patternRule(regexp.MustCompile(`(?i)etree\.parse|xml\.sax|DocumentBuilderFactory|libxml`),
			"XML parsed without disabling external entities")},
	{"OWASP-A05", "Broken Access Control", "high", "OWASP",
		patternRule(regexp.MustCompile(`(?i)(is_admin|superuser|role)\s*=\s*(True|true|["']admin["'])`),
			"privilege hardcoded instead of checked")},
	{"SEC-001", "Hardcoded Secrets", "critical", "Security Best Practices",
		patternRule(regexp.MustCompile(`(?i)\b(password|secret|api_key|apikey|token)\s*[:=]\s*["'][^"']{4,}["']`),
			"credential embedded in source")},
	{"SEC-002", "Insecure Randomness", "medium", "Security Best Practices",
		patternRule(regexp.MustCompile(`(?i)\brandom\.(random|randint|choice)\b|Math\.random|math/rand`),
			"non-cryptographic randomness in use")},
	{"SEC-003", "Command Injection", "high", "Security Best Practices",
		patternRule(regexp.MustCompile(`(?i)os\.system\s*\(|shell\s*=\s*True|exec\.Command\s*\([^)]*\+`),
			"shell command built from program data")},
	{"SEC-004", "Path Traversal", "high", "Security Best Practices",
		patternRule(regexp.MustCompile(`(\.\./){2,}|(?i)open\s*\([^)]*(request|input|argv)`),
			"file path influenced by external input")},
	{"QUAL-001", "High Complexity", "medium", "Code Quality", checkHighComplexity},
	{"QUAL-002", "Dead Code Markers", "low", "Code Quality",
		patternRule(regexp.MustCompile(`TODO|FIXME|XXX`), "unresolved work markers present")},
	{"QUAL-003", "Magic Numbers", "low", "Code Quality", checkMagicNumbers},
	{"QUAL-004", "Long Functions", "medium", "Code Quality", checkLongFunctions},
	{"GDPR-001", "Personal Data Handling", "high", "GDPR",
		patternRule(regexp.MustCompile(`(?i)\b(ssn|social_security|passport_number|date_of_birth)\b`),
			"personal identifiers handled in code")},
	{"GDPR-002", "Consent Tracking", "medium", "GDPR", checkConsentTracking},
	{"CCPA-001", "Data Sale Indicators", "medium", "CCPA",
		patternRule(regexp.MustCompile(`(?i)(sell|share)\w*_?(user|personal|customer)_?data`),
			"possible sale or sharing of personal data")},
}

// Run evaluates the rule table over every code file.
func (c *Compliance) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	violations := make([]any, 0)
	bySeverity := map[string]any{"critical": 0, "high": 0, "medium": 0, "low": 0}
	totalChecks, passedChecks := 0, 0
	frameworkTotals := make(map[string]int)
	frameworkPassed := make(map[string]int)
	violatedRules := make(map[string]bool)

	for _, path := range paths {
		if !isCodeFile(path) {
			continue
		}
		content := c.files.Read(path)
		if content == "" {
			continue
		}
		for _, rule := range complianceRules {
			totalChecks++
			frameworkTotals[rule.framework]++
			violated, details := rule.check(path, content)
			if !violated {
				passedChecks++
				frameworkPassed[rule.framework]++
				continue
			}
			violatedRules[rule.id] = true
			bySeverity[rule.severity] = bySeverity[rule.severity].(int) + 1
			violations = append(violations, map[string]any{
				"rule_id":     rule.id,
				"rule_name":   rule.name,
				"severity":    rule.severity,
				"framework":   rule.framework,
				"file":        path,
				"description": fmt.Sprintf("%s violation in %s", rule.name, path),
				"details":     details,
			})
		}
	}

	overall := 100.0
	if totalChecks > 0 {
		overall = float64(passedChecks) / float64(totalChecks) * 100
	}
	frameworkScores := make(map[string]any)
	for _, fw := range sortedIntKeys(frameworkTotals) {
		frameworkScores[fw] = float64(frameworkPassed[fw]) / float64(frameworkTotals[fw]) * 100
	}

	recommendations := make([]string, 0)
	for _, rule := range complianceRules {
		if violatedRules[rule.id] {
			recommendations = append(recommendations,
				fmt.Sprintf("Address %s (%s) violations", rule.name, rule.id))
		}
	}

	return pipeline.Result{
		"overall_compliance_score": overall,
		"total_checks":             totalChecks,
		"passed_checks":            passedChecks,
		"violations":               violations,
		"framework_scores":         frameworkScores,
		"compliance_by_severity":   bySeverity,
		"recommendations":          toAny(recommendations),
	}, nil
}

var decisionKeywordRe = regexp.MustCompile(`\b(if|for|while|case|catch|except|elif)\b`)

func checkHighComplexity(_, content string) (bool, string) {
	decisions := len(decisionKeywordRe.FindAllString(content, -1))
	if decisions > 50 {
		return true, fmt.Sprintf("%d decision points in one file", decisions)
	}
	return false, ""
}

var multiDigitRe = regexp.MustCompile(`\b\d{2,}\b`)

func checkMagicNumbers(_, content string) (bool, string) {
	literals := len(multiDigitRe.FindAllString(content, -1))
	if literals > 10 {
		return true, fmt.Sprintf("%d multi-digit literals", literals)
	}
	return false, ""
}

func checkLongFunctions(path, content string) (bool, string) {
	e := ext(path)
	lines := strings.Split(content, "\n")
	funcs := 0
	for _, line := range lines {
		if _, ok := matchFunction(e, line); ok {
			funcs++
		}
	}
	if funcs == 0 {
		return false, ""
	}
	avg := float64(len(lines)) / float64(funcs)
	if avg > 50 {
		return true, fmt.Sprintf("average function length is %.0f lines", avg)
	}
	return false, ""
}

var consentDataRe = regexp.MustCompile(`(?i)\b(cookie|tracking|analytics)\b`)
var consentWordRe = regexp.MustCompile(`(?i)\bconsent\b`)

func checkConsentTracking(_, content string) (bool, string) {
	if consentDataRe.MatchString(content) && !consentWordRe.MatchString(content) {
		return true, "tracking mechanisms with no consent handling"
	}
	return false, ""
}
