// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/afero"
)

func TestEstimator_Score_PlainFiles(t *testing.T) {
	e := NewEstimator(afero.NewMemMapFs())

	// Ten unweighted files, none on disk: score is just the count.
	var files []string
	for i := 0; i < 10; i++ {
		files = append(files, fmt.Sprintf("/repo/f%d.go", i))
	}
	if got := e.Score(files); got != 10 {
		t.Errorf("Score() = %v, want 10", got)
	}
}

func TestEstimator_Score_WeightedExtensions(t *testing.T) {
	e := NewEstimator(afero.NewMemMapFs())

	// 4 python files at weight 2.0 contribute (2-1)*4 = 4 extra.
	// 5 java files at weight 1.8 contribute (1.8-1)*5 = 4 extra.
	var files []string
	for i := 0; i < 4; i++ {
		files = append(files, fmt.Sprintf("/repo/p%d.py", i))
	}
	for i := 0; i < 5; i++ {
		files = append(files, fmt.Sprintf("/repo/J%d.java", i))
	}
	want := 9.0 + 4.0 + 4.0
	if got := e.Score(files); got != want {
		t.Errorf("Score() = %v, want %v", got, want)
	}
}

func TestEstimator_Score_LargeFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	big := bytes.Repeat([]byte("x"), 101*1024)
	if err := afero.WriteFile(fs, "/repo/big.txt", big, 0644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/repo/small.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEstimator(fs)
	// 2 files + 2 * 1 large file.
	if got := e.Score([]string{"/repo/big.txt", "/repo/small.txt"}); got != 4 {
		t.Errorf("Score() = %v, want 4", got)
	}
}

func TestEstimator_Score_SizeSampleCapped(t *testing.T) {
	fs := afero.NewMemMapFs()
	big := bytes.Repeat([]byte("x"), 101*1024)

	// File 150 is large but beyond the 100-file sample window.
	var files []string
	for i := 0; i < 160; i++ {
		files = append(files, fmt.Sprintf("/repo/f%03d.txt", i))
	}
	if err := afero.WriteFile(fs, files[150], big, 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEstimator(fs)
	if got := e.Score(files); got != 160 {
		t.Errorf("Score() = %v, want 160 (large file outside sample must not count)", got)
	}
}

func TestEstimator_Select(t *testing.T) {
	e := NewEstimator(afero.NewMemMapFs())

	tests := []struct {
		name  string
		files []string
		want  Strategy
	}{
		{
			name:  "small plain repo",
			files: manyFiles("/r/f%d.go", 20),
			want:  StrategyStandard,
		},
		{
			name: "file count over threshold with zero weighted score",
			// 250 files of unweighted extension: count alone triggers.
			files: manyFiles("/r/f%d.txt", 250),
			want:  StrategyOptimized,
		},
		{
			name: "score over threshold with small count",
			// 30 python files: score 30 + 30 = 60 > 50.
			files: manyFiles("/r/f%d.py", 30),
			want:  StrategyOptimized,
		},
		{
			name:  "empty repo",
			files: nil,
			want:  StrategyStandard,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Select(tt.files); got != tt.want {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func manyFiles(pattern string, n int) []string {
	files := make([]string, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, fmt.Sprintf(pattern, i))
	}
	return files
}
