// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

// Config is the YAML configuration for the repoint CLI. Every field
// has a flag counterpart; flags win when both are set.
type Config struct {
	// CacheDir roots the change ledger and result cache. Empty
	// disables persistent caching.
	CacheDir string `yaml:"cache_dir"`

	// CacheMaxAgeHours bounds how long cached scan results stay
	// servable.
	CacheMaxAgeHours int `yaml:"cache_max_age_hours"`

	// StageTimeoutSeconds bounds each pipeline stage when the
	// optimized strategy runs.
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`

	// LogDir enables JSON file logging alongside stderr output.
	LogDir string `yaml:"log_dir"`

	// Format is the default output format: "summary" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no config file is
// present.
func DefaultConfig() Config {
	return Config{
		CacheMaxAgeHours:    24,
		StageTimeoutSeconds: 300,
		Format:              "summary",
	}
}
