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
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// Security scans code files line by line against known vulnerability
// patterns. At most one finding per line per pattern type.
type Security struct {
	files *cache.FileCache
}

// Name returns the context key for the security scan.
func (s *Security) Name() string { return pipeline.KeySecurity }

type vulnPattern struct {
	kind     string
	severity string
	cwe      string
	re       *regexp.Regexp
}

var vulnPatterns = []vulnPattern{
	{"sql_injection", "high", "CWE-89",
		regexp.MustCompile(`(?i)(execute|query|cursor\.exec)\s*\(\s*["'].*(%s|\+|\bformat\b|f["'])`)},
	{"xss", "high", "CWE-79",
		regexp.MustCompile(`(?i)(innerHTML\s*=|document\.write\s*\(|dangerouslySetInnerHTML)`)},
	{"weak_crypto", "medium", "CWE-327",
		regexp.MustCompile(`(?i)\b(md5|sha1|des|rc4)\s*\(|hashlib\.(md5|sha1)|crypto/md5|crypto/sha1`)},
	{"hardcoded_secrets", "high", "CWE-798",
		regexp.MustCompile(`(?i)\b(password|secret|api_key|apikey|token|private_key)\s*[:=]\s*["'][^"']{4,}["']`)},
	{"path_traversal", "high", "CWE-22",
		regexp.MustCompile(`(\.\./){2,}|(?i)(open|os\.path\.join|ioutil\.ReadFile|os\.ReadFile)\s*\([^)]*(request|params|argv|input)`)},
	{"command_injection", "critical", "CWE-78",
		regexp.MustCompile(`(?i)os\.system\s*\(|subprocess\.(call|run|Popen)\s*\(.*shell\s*=\s*True|exec\.Command\s*\([^)]*\+`)},
	{"insecure_deserialization", "high", "CWE-502",
		regexp.MustCompile(`(?i)pickle\.loads?\s*\(|yaml\.load\s*\([^)]*\)|marshal\.loads?\s*\(|unserialize\s*\(`)},
}

var severityWeights = map[string]float64{
	"critical": 1.0, "high": 0.7, "medium": 0.4, "low": 0.1, "info": 0.05,
}

var owaspByType = map[string]string{
	"sql_injection":            "A03:2021 Injection",
	"xss":                      "A03:2021 Injection",
	"weak_crypto":              "A02:2021 Cryptographic Failures",
	"hardcoded_secrets":        "A07:2021 Identification and Authentication Failures",
	"path_traversal":           "A01:2021 Broken Access Control",
	"command_injection":        "A03:2021 Injection",
	"insecure_deserialization": "A08:2021 Software and Data Integrity Failures",
}

var securityAdvice = map[string]string{
	"sql_injection":            "Use parameterized queries instead of string interpolation",
	"xss":                      "Escape or sanitize all user-controlled output",
	"weak_crypto":              "Replace weak hash and cipher algorithms with modern equivalents",
	"hardcoded_secrets":        "Move secrets into environment variables or a secret manager",
	"path_traversal":           "Validate and canonicalize user-supplied file paths",
	"command_injection":        "Avoid shell invocation with untrusted input",
	"insecure_deserialization": "Deserialize only trusted data with safe loaders",
}

// Run scans every code file for pattern matches.
func (s *Security) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	findings := make([]any, 0)
	bySeverity := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0}
	seenTypes := make(map[string]bool)
	filesAnalyzed, totalLines := 0, 0

	for _, path := range paths {
		if !isCodeFile(path) {
			continue
		}
		content := s.files.Read(path)
		if content == "" {
			continue
		}
		filesAnalyzed++
		lines := strings.Split(content, "\n")
		totalLines += len(lines)
		for i, line := range lines {
			for _, p := range vulnPatterns {
				if !p.re.MatchString(line) {
					continue
				}
				findings = append(findings, map[string]any{
					"type":     p.kind,
					"severity": p.severity,
					"cwe":      p.cwe,
					"file":     path,
					"line":     i + 1,
				})
				bySeverity[p.severity]++
				seenTypes[p.kind] = true
			}
		}
	}

	perThousand := 0.0
	if totalLines > 0 {
		perThousand = math.Round(float64(len(findings))/float64(totalLines)*1000*100) / 100
	}

	coverage := make([]string, 0, len(seenTypes))
	recommendations := make([]string, 0, len(seenTypes))
	for _, kind := range sortedBoolKeys(seenTypes) {
		coverage = append(coverage, owaspByType[kind])
		recommendations = append(recommendations, securityAdvice[kind])
	}

	return pipeline.Result{
		"findings": findings,
		"summary": map[string]any{
			"total_files_analyzed":    filesAnalyzed,
			"total_findings":          len(findings),
			"critical_findings":       bySeverity["critical"],
			"high_findings":           bySeverity["high"],
			"medium_findings":         bySeverity["medium"],
			"low_findings":            bySeverity["low"],
			"total_lines_analyzed":    totalLines,
			"findings_per_1000_lines": perThousand,
		},
		"risk_assessment": s.riskAssessment(findings, totalLines),
		"owasp_coverage":  toAny(sortedUnique(coverage)),
		"recommendations": toAny(recommendations),
	}, nil
}

func (s *Security) riskAssessment(findings []any, totalLines int) map[string]any {
	if len(findings) == 0 {
		return map[string]any{
			"overall_risk": "low",
			"risk_score":   0.1,
			"description":  "No security vulnerabilities detected",
		}
	}
	weightSum := 0.0
	for _, f := range findings {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		weightSum += severityWeights[pipeline.Result(m).String("severity")]
	}
	exposure := float64(totalLines) / 10000
	if exposure > 1 {
		exposure = 1
	}
	score := math.Round(weightSum/float64(len(findings))*exposure*1000) / 1000

	level := "minimal"
	switch {
	case score >= 0.8:
		level = "critical"
	case score >= 0.6:
		level = "high"
	case score >= 0.4:
		level = "medium"
	case score >= 0.2:
		level = "low"
	}
	return map[string]any{
		"overall_risk": level,
		"risk_score":   score,
		"description":  fmt.Sprintf("%d findings across the scanned code", len(findings)),
	}
}

func sortedBoolKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
