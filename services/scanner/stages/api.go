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
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/repoint/services/scanner/cache"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
)

// API discovers HTTP endpoints from OpenAPI documents and common
// routing code patterns, then audits them for security, design, and
// documentation problems.
type API struct {
	files *cache.FileCache
}

// Name returns the context key for the API analysis.
func (a *API) Name() string { return pipeline.KeyAPI }

type endpoint struct {
	path         string
	method       string
	description  string
	parameters   []string
	hasResponses bool
	security     []string
	source       string
}

var (
	flaskRouteRe   = regexp.MustCompile(`@(?:app|blueprint|bp)\.route\s*\(\s*["']([^"']+)["'](?:.*methods\s*=\s*\[([^\]]*)\])?`)
	djangoRouteRe  = regexp.MustCompile(`(?:path|url)\s*\(\s*r?["']([^"']+)["']`)
	expressRouteRe = regexp.MustCompile(`\b(?:app|router)\.(get|post|put|patch|delete)\s*\(\s*["']([^"']+)["']`)
	springRouteRe  = regexp.MustCompile(`@(RequestMapping|GetMapping|PostMapping|PutMapping|DeleteMapping)\s*\(\s*(?:value\s*=\s*)?["']([^"']+)["']`)

	pathSegmentRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

var standardMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

var sensitivePathPrefixes = []string{"/admin", "/internal", "/debug", "/config"}

// Run discovers and audits endpoints.
func (a *API) Run(_ context.Context, files []string, _ *pipeline.Context) (pipeline.Result, error) {
	paths := normalizePaths(files)

	endpoints := make([]endpoint, 0)
	specFiles := make([]string, 0)
	for _, path := range paths {
		if isOpenAPIFile(path) {
			content := a.files.Read(path)
			if content == "" {
				continue
			}
			if eps := parseOpenAPI(path, content); eps != nil {
				specFiles = append(specFiles, path)
				endpoints = append(endpoints, eps...)
			}
			continue
		}
		if isCodeFile(path) {
			content := a.files.Read(path)
			if content == "" {
				continue
			}
			endpoints = append(endpoints, parseCodeRoutes(path, content)...)
		}
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].path != endpoints[j].path {
			return endpoints[i].path < endpoints[j].path
		}
		return endpoints[i].method < endpoints[j].method
	})

	securityFindings := a.auditSecurity(endpoints)
	designIssues := a.auditDesign(endpoints)
	docIssues := a.auditDocumentation(endpoints)
	complianceIssues := a.auditCompliance(endpoints)

	secure, documented := 0, 0
	for _, ep := range endpoints {
		if len(ep.security) > 0 {
			secure++
		}
		if ep.description != "" {
			documented++
		}
	}
	coverage := 1.0
	if len(endpoints) > 0 {
		coverage = float64(documented) / float64(len(endpoints))
	}

	score := 100.0
	score -= min(float64(len(securityFindings))*5, 30)
	score -= min(float64(len(designIssues))*2, 20)
	score -= min(float64(len(docIssues)), 15)
	if len(specFiles) > 0 {
		score += 10
	}
	if len(endpoints) > 0 {
		score += min(float64(secure)/float64(len(endpoints))*10, 10)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return pipeline.Result{
		"api_specification_files": toAny(sortedUnique(specFiles)),
		"endpoints":               endpointList(endpoints),
		"security_findings":       securityFindings,
		"design_issues":           designIssues,
		"documentation_issues":    docIssues,
		"compliance_issues":       complianceIssues,
		"api_metrics": map[string]any{
			"total_endpoints":      len(endpoints),
			"secure_endpoints":     secure,
			"documented_endpoints": documented,
			"design_issues":        len(designIssues),
			"endpoint_coverage":    coverage,
		},
		"api_score": score,
	}, nil
}

func isOpenAPIFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	e := ext(path)
	if e != ".yml" && e != ".yaml" && e != ".json" {
		return false
	}
	return strings.Contains(base, "openapi") || strings.Contains(base, "swagger")
}

// parseOpenAPI extracts endpoints from an OpenAPI document. Returns
// nil when the document has no paths section.
func parseOpenAPI(source, content string) []endpoint {
	var doc struct {
		Paths map[string]map[string]struct {
			Summary     string `yaml:"summary"`
			Description string `yaml:"description"`
			Parameters  []struct {
				Name string `yaml:"name"`
			} `yaml:"parameters"`
			Responses map[string]any   `yaml:"responses"`
			Security  []map[string]any `yaml:"security"`
		} `yaml:"paths"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil || len(doc.Paths) == 0 {
		return nil
	}
	endpoints := make([]endpoint, 0)
	for path, ops := range doc.Paths {
		for method, op := range ops {
			upper := strings.ToUpper(method)
			desc := op.Summary
			if desc == "" {
				desc = op.Description
			}
			params := make([]string, 0, len(op.Parameters))
			for _, p := range op.Parameters {
				params = append(params, p.Name)
			}
			security := make([]string, 0)
			for _, s := range op.Security {
				for scheme := range s {
					security = append(security, scheme)
				}
			}
			sort.Strings(security)
			endpoints = append(endpoints, endpoint{
				path:         path,
				method:       upper,
				description:  desc,
				parameters:   params,
				hasResponses: len(op.Responses) > 0,
				security:     security,
				source:       source,
			})
		}
	}
	return endpoints
}

func parseCodeRoutes(source, content string) []endpoint {
	endpoints := make([]endpoint, 0)
	add := func(path, method string) {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		endpoints = append(endpoints, endpoint{
			path:   path,
			method: strings.ToUpper(method),
			source: source,
		})
	}
	for _, m := range flaskRouteRe.FindAllStringSubmatch(content, -1) {
		methods := []string{"GET"}
		if m[2] != "" {
			methods = nil
			for _, raw := range strings.Split(m[2], ",") {
				methods = append(methods, strings.Trim(raw, ` "'`))
			}
		}
		for _, method := range methods {
			add(m[1], method)
		}
	}
	for _, m := range djangoRouteRe.FindAllStringSubmatch(content, -1) {
		add(m[1], "GET")
	}
	for _, m := range expressRouteRe.FindAllStringSubmatch(content, -1) {
		add(m[2], m[1])
	}
	for _, m := range springRouteRe.FindAllStringSubmatch(content, -1) {
		method := "GET"
		switch m[1] {
		case "PostMapping":
			method = "POST"
		case "PutMapping":
			method = "PUT"
		case "DeleteMapping":
			method = "DELETE"
		}
		add(m[2], method)
	}
	return endpoints
}

func (a *API) auditSecurity(endpoints []endpoint) []any {
	findings := make([]any, 0)
	for _, ep := range endpoints {
		lower := strings.ToLower(ep.path)
		mutating := ep.method == "PUT" || ep.method == "PATCH" || ep.method == "DELETE"
		for _, prefix := range sensitivePathPrefixes {
			if mutating && strings.HasPrefix(lower, prefix) {
				findings = append(findings, apiIssue("insecure_method", "high", ep,
					fmt.Sprintf("%s allowed on sensitive path %s", ep.method, ep.path)))
				break
			}
		}
		if len(ep.security) == 0 {
			for _, needle := range []string{"admin", "user", "private"} {
				if strings.Contains(lower, needle) {
					findings = append(findings, apiIssue("missing_auth", "medium", ep,
						fmt.Sprintf("no security requirement on %s", ep.path)))
					break
				}
			}
		}
		for _, scheme := range ep.security {
			schemeLower := strings.ToLower(scheme)
			if strings.Contains(schemeLower, "basic") || strings.Contains(schemeLower, "api-key") ||
				strings.Contains(schemeLower, "apikey") {
				findings = append(findings, apiIssue("weak_auth", "medium", ep,
					fmt.Sprintf("weak authentication scheme %q", scheme)))
			}
		}
	}
	return findings
}

func (a *API) auditDesign(endpoints []endpoint) []any {
	issues := make([]any, 0)
	for _, ep := range endpoints {
		for _, segment := range strings.Split(strings.Trim(ep.path, "/"), "/") {
			if segment == "" || strings.HasPrefix(segment, "{") || strings.HasPrefix(segment, "<") ||
				strings.HasPrefix(segment, ":") {
				continue
			}
			if !pathSegmentRe.MatchString(segment) {
				issues = append(issues, apiIssue("non_standard_naming", "low", ep,
					fmt.Sprintf("path segment %q is not lower_snake or kebab case", segment)))
				break
			}
		}
		if !standardMethods[ep.method] {
			issues = append(issues, apiIssue("non_standard_method", "medium", ep,
				fmt.Sprintf("non-standard HTTP method %s", ep.method)))
		}
		if ep.source != "" && isOpenAPIFile(ep.source) && !ep.hasResponses {
			issues = append(issues, apiIssue("missing_status_codes", "low", ep,
				"no response status codes declared"))
		}
	}
	return issues
}

func (a *API) auditDocumentation(endpoints []endpoint) []any {
	issues := make([]any, 0)
	for _, ep := range endpoints {
		if !isOpenAPIFile(ep.source) {
			continue
		}
		if ep.description == "" {
			issues = append(issues, apiIssue("missing_description", "low", ep,
				"endpoint has no summary or description"))
		}
		if len(ep.parameters) == 0 && strings.ContainsAny(ep.path, "{<:") {
			issues = append(issues, apiIssue("undocumented_parameters", "medium", ep,
				"path parameters are not documented"))
		}
	}
	return issues
}

func (a *API) auditCompliance(endpoints []endpoint) []any {
	issues := make([]any, 0)
	for _, ep := range endpoints {
		lower := strings.ToLower(ep.path)
		if strings.Contains(lower, "user") && len(ep.security) == 0 && ep.method != "GET" {
			issues = append(issues, apiIssue("unprotected_personal_data", "medium", ep,
				"personal data endpoint accepts writes without declared security"))
		}
	}
	return issues
}

func apiIssue(kind, severity string, ep endpoint, description string) map[string]any {
	return map[string]any{
		"type":        kind,
		"severity":    severity,
		"path":        ep.path,
		"method":      ep.method,
		"source":      ep.source,
		"description": description,
	}
}

func endpointList(endpoints []endpoint) []any {
	out := make([]any, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, map[string]any{
			"path":        ep.path,
			"method":      ep.method,
			"description": ep.description,
			"parameters":  toAny(ep.parameters),
			"security":    toAny(ep.security),
			"source":      ep.source,
		})
	}
	return out
}
