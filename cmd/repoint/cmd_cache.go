// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner"
)

var cacheClearDir string

func init() {
	cacheClearCmd.Flags().StringVar(&cacheClearDir, "cache-dir", "",
		"Cache directory to clear (overrides config)")
}

func runCacheClear(cmd *cobra.Command, args []string) {
	dir := cacheClearDir
	if dir == "" {
		dir = config.CacheDir
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "Error: no cache directory configured (set cache_dir or pass --cache-dir)")
		os.Exit(CLIExitError)
	}

	logger := logging.New(logging.Config{Service: "cli", Quiet: true})
	defer logger.Close()

	s := scanner.New(scanner.Config{CacheDir: dir, Logger: logger})
	if err := s.ClearCache(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: clearing cache: %v\n", err)
		os.Exit(CLIExitError)
	}
	fmt.Printf("Cleared cached scan results in %s\n", dir)
}
