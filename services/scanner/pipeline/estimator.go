// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Strategy identifies which execution plan the executor runs.
type Strategy string

const (
	// StrategyStandard is the sequential plan with one small parallel
	// island.
	StrategyStandard Strategy = "standard"

	// StrategyOptimized fans the independent analysis stages out
	// concurrently. Auto-selected for large or complex repositories.
	StrategyOptimized Strategy = "optimized"
)

// Thresholds for strategy selection.
const (
	fileCountThreshold  = 200
	complexityThreshold = 50.0

	// largeFileBytes is the size above which a sampled file counts as
	// heavy.
	largeFileBytes = 100 * 1024

	// sizeSampleLimit caps how many files are stat'ed for the size
	// term, keeping estimation cheap on huge repositories.
	sizeSampleLimit = 100
)

// extensionWeights biases the complexity score toward languages whose
// stages do deeper per-file work. Unlisted extensions weigh 1.0 and so
// contribute only their count.
var extensionWeights = map[string]float64{
	".py":   2.0,
	".java": 1.8,
}

// Estimator scores repository complexity to choose an execution
// strategy. Scoring is a pure function of the file list plus sampled
// file sizes.
type Estimator struct {
	fs afero.Fs
}

// NewEstimator creates an Estimator stat-ing files through fs.
func NewEstimator(fs afero.Fs) *Estimator {
	return &Estimator{fs: fs}
}

// Score computes the weighted complexity score:
//
//	score = file_count
//	      + sum over extensions of (weight - 1) * count
//	      + 2 * (number of large files among the first 100 sampled)
//
// Files that cannot be stat'ed contribute no size term.
func (e *Estimator) Score(files []string) float64 {
	score := float64(len(files))

	extCounts := make(map[string]int)
	for _, path := range files {
		ext := strings.ToLower(filepath.Ext(path))
		extCounts[ext]++
	}
	for ext, count := range extCounts {
		if weight, ok := extensionWeights[ext]; ok {
			score += (weight - 1) * float64(count)
		}
	}

	sample := files
	if len(sample) > sizeSampleLimit {
		sample = sample[:sizeSampleLimit]
	}
	large := 0
	for _, path := range sample {
		if info, err := e.fs.Stat(path); err == nil && info.Size() > largeFileBytes {
			large++
		}
	}
	score += 2 * float64(large)

	return score
}

// Select returns the strategy for the given file list: optimized when
// the repository is large by count or by weighted score, standard
// otherwise.
func (e *Estimator) Select(files []string) Strategy {
	if len(files) > fileCountThreshold || e.Score(files) > complexityThreshold {
		return StrategyOptimized
	}
	return StrategyStandard
}
