// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/repoint/pkg/logging"
	"github.com/AleutianAI/repoint/services/scanner"
	"github.com/AleutianAI/repoint/services/scanner/pipeline"
	"github.com/AleutianAI/repoint/services/scanner/telemetry"
	"github.com/AleutianAI/repoint/services/scanner/watch"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	scanOutput   string
	scanFormat   string
	scanCacheDir string
	scanWatch    bool
	scanQuiet    bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Run the full analysis pipeline against a repository",
	Long: `Scan discovers the repository root, lists its files, and runs every
analysis stage: structure, semantics, security, compliance, dependencies,
duplication, API surface, test signals, governance, intent, misleading
signals, safe change surface, risk synthesis, decision artifacts,
authority ceiling, and determinism verification.

Results are cached per repository; an unchanged repository is served
from cache on the next scan.

Examples:
  repoint scan                     # Scan the current directory
  repoint scan /path/to/repo       # Scan a specific repository
  repoint scan --format json       # Full envelope as JSON
  repoint scan -o report.json      # Write the envelope to a file
  repoint scan --watch             # Rescan whenever files change

Exit Codes:
  0 = Scan completed
  2 = Error (discovery or pipeline failure)`,
	Run: runScanCommand,
}

func init() {
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "",
		"Write the result envelope to this file instead of stdout")
	scanCmd.Flags().StringVar(&scanFormat, "format", "",
		"Output format: summary or json (default from config)")
	scanCmd.Flags().StringVar(&scanCacheDir, "cache-dir", "",
		"Cache directory (overrides config; empty disables caching)")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false,
		"Keep running and rescan when repository files change")
	scanCmd.Flags().BoolVar(&scanQuiet, "quiet", false,
		"Suppress log output")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runScanCommand(cmd *cobra.Command, args []string) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	format := scanFormat
	if format == "" {
		format = config.Format
	}
	if format != "summary" && format != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (want summary or json)\n", format)
		os.Exit(CLIExitError)
	}

	logger := logging.New(logging.Config{
		Service: "cli",
		LogDir:  config.LogDir,
		Quiet:   scanQuiet,
	})
	defer logger.Close()

	cacheDir := scanCacheDir
	if cacheDir == "" {
		cacheDir = config.CacheDir
	}

	s := scanner.New(scanner.Config{
		CacheDir:     cacheDir,
		MaxCacheAge:  time.Duration(config.CacheMaxAgeHours) * time.Hour,
		StageTimeout: time.Duration(config.StageTimeoutSeconds) * time.Second,
		Logger:       logger,
		Metrics:      telemetry.NewMetrics(nil),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := s.Scan(ctx, path)
	if err != nil {
		OutputError(format == "json", "Scan failed", err)
		os.Exit(CLIExitError)
	}
	if err := emitScan(result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(CLIExitError)
	}

	if !scanWatch {
		return
	}
	if err := watchAndRescan(ctx, s, result.String("repository_root"), format, logger); err != nil {
		OutputError(format == "json", "Watch failed", err)
		os.Exit(CLIExitError)
	}
}

// watchAndRescan blocks until interrupted, rescanning after each
// debounced batch of file changes.
func watchAndRescan(ctx context.Context, s *scanner.Scanner, root, format string, logger *logging.Logger) error {
	w, err := watch.New(root, 0, func(changed []string) {
		logger.Info("repository changed, rescanning", "changed_files", len(changed))
		result, err := s.Scan(ctx, root)
		if err != nil {
			logger.Error("rescan failed", "error", err)
			return
		}
		if err := emitScan(result, format); err != nil {
			logger.Error("rescan output failed", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// emitScan writes the envelope in the requested format.
func emitScan(result pipeline.Result, format string) error {
	if scanOutput != "" {
		return WriteJSONFile(scanOutput, result)
	}
	if format == "json" {
		return OutputJSON(result)
	}
	printScanSummary(result)
	return nil
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func printScanSummary(result pipeline.Result) {
	fmt.Printf("Repository: %s\n", result.String("repository_root"))
	fmt.Printf("Files analyzed: %d\n", result.Int("file_count"))

	synthesis := result.Map(pipeline.KeyRiskSynthesis)
	overall := synthesis.Map("overall_risk_assessment")
	level := overall.String("overall_risk_level")
	fmt.Printf("Overall risk: %s %s (score %.2f)\n",
		level, riskIndicator(level), overall.Float("average_risk_score"))

	if critical := synthesis.Slice("critical_issues"); len(critical) > 0 {
		fmt.Println("Critical issues:")
		for _, issue := range critical {
			fmt.Printf("  !!! %v\n", issue)
		}
	}

	recommendations := synthesis.Slice("recommendations")
	if len(recommendations) > 0 {
		fmt.Println("Top recommendations:")
		for i, entry := range recommendations {
			if i == 5 {
				fmt.Printf("  ... and %d more\n", len(recommendations)-i)
				break
			}
			m, _ := entry.(map[string]any)
			rec := pipeline.Result(m)
			fmt.Printf("  - [%s] %s: %s\n",
				rec.String("priority"), rec.String("category"), rec.String("action"))
		}
	}

	framework := result.Map(pipeline.KeyDecision).Map("decision_framework")
	fmt.Printf("Decision approach: %s (requires %s)\n",
		framework.String("approach"), framework.String("authority_required"))

	ceiling := result.Map(pipeline.KeyAuthority).Map("final_authority_ceiling")
	fmt.Printf("Authority ceiling: %s (%s)\n",
		ceiling.String("maximum_authority"), ceiling.String("decision_scope"))

	verification := result.Map(pipeline.KeyDeterminism)
	report := verification.Map("determinism_report")
	hash := verification.String("determinism_hash")
	if len(hash) > 12 {
		hash = hash[:12]
	}
	fmt.Printf("Determinism: %s (hash %s)\n",
		report.String("verification_status"), hash)

	perf := result.Map("performance_metrics")
	fmt.Printf("Pipeline: %s, %d stages in %.2fs\n",
		perf.String("pipeline_type"), perf.Int("stages_completed"),
		perf.Float("execution_time_seconds"))
	if degraded := perf.Strings("degraded_stages"); len(degraded) > 0 {
		fmt.Printf("Degraded stages: %v\n", degraded)
	}
}

func riskIndicator(level string) string {
	switch level {
	case "critical":
		return "[!!!]"
	case "high":
		return "[!!]"
	case "medium":
		return "[!]"
	default:
		return "[ok]"
	}
}
