// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package risk synthesizes per-stage analysis outputs into component
// risk assessments and one overall weighted assessment.
//
// Fourteen scorers each reduce one stage's output to a Component with
// a level, a point score, and the factors that contributed. Scorers
// are pure and individually fault-isolated: a panicking scorer yields
// a degraded Component carrying an "<stage>_analysis_error" factor,
// never aborting synthesis.
//
// The overall assessment is a weighted mean over component levels
// mapped to {low:1, medium:2, high:3}, with security weighted
// heaviest. Recommendations and critical issues come from fixed rule
// tables over component levels.
package risk

import (
	"fmt"
	"sort"
)

// Risk levels, ordered by severity. "critical" appears only on
// components whose scorer defines a critical band; "unknown" marks a
// scorer that failed and could not assess.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
	LevelUnknown  = "unknown"
)

// Component is the standardized risk summary one scorer produces.
type Component struct {
	Level       string
	Score       float64
	Factors     []string
	Description string
}

// result renders the component as a stage-result mapping. Factors are
// emitted as a list of strings, empty rather than null when absent.
func (c Component) result() map[string]any {
	factors := make([]any, 0, len(c.Factors))
	for _, f := range c.Factors {
		factors = append(factors, f)
	}
	return map[string]any{
		"risk_level":   c.Level,
		"risk_score":   c.Score,
		"risk_factors": factors,
		"description":  c.Description,
	}
}

// scorer reduces one stage output to a Component.
type scorer func(input map[string]any) Component

// guard wraps a scorer with panic recovery. The fallback level is
// scorer-specific: most degrade to unknown, a few (matching their
// documented behavior) degrade to low.
func guard(stageName, fallbackLevel string, fn scorer) scorer {
	return func(input map[string]any) (c Component) {
		defer func() {
			if rec := recover(); rec != nil {
				c = Component{
					Level:       fallbackLevel,
					Score:       0,
					Factors:     []string{stageName + "_analysis_error"},
					Description: fmt.Sprintf("%s risk assessment failed: %v", stageName, rec),
				}
			}
		}()
		return fn(input)
	}
}

// sortedKeys returns the map's keys in sorted order so factor lists
// derived from map iteration stay deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
