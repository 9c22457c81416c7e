// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "repoint",
		Short: "A cli to analyze repository health, risk, and change safety",
		Long: `Repoint scans a repository, runs the full analysis pipeline, and
				produces a deterministic report covering structure, risk,
				recommended actions, and the authority level changes require.`,
	}

	// --- Cache Administration ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent scan caches",
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete cached scan results",
		Run:   runCacheClear, // Defined in cmd_cache.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "repoint.yaml",
		"Path to the YAML configuration file")

	rootCmd.AddCommand(scanCmd)

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
