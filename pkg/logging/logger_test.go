// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_Ordering(t *testing.T) {
	if !(LevelDebug < LevelInfo && LevelInfo < LevelWarn && LevelWarn < LevelError) {
		t.Error("levels are not ordered Debug < Info < Warn < Error")
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	logger := New(Config{Quiet: true})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	defer logger.Close()
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
}

func TestNew_AllLevels(t *testing.T) {
	levels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			logger := New(Config{Level: level, Quiet: true})
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			defer logger.Close()
		})
	}
}

func TestNew_WithService(t *testing.T) {
	logger := New(Config{
		Service: "scanner",
		Quiet:   true,
	})
	defer logger.Close()
	if logger.config.Service != "scanner" {
		t.Errorf("Service = %v, want scanner", logger.config.Service)
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir:  tmpDir,
		Service: "test",
		Quiet:   true,
	})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("logger.file is nil when LogDir specified")
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(files) == 0 {
		t.Error("No log file created in LogDir")
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir: tmpDir,
		Quiet:  true,
	})
	defer logger.Close()

	// Default service name is "repoint"
	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	found := false
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "repoint_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected log file with 'repoint_' prefix")
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	logger := New(Config{
		LogDir: "/proc/nonexistent/deep/path/that/should/fail",
		Quiet:  true,
	})
	defer logger.Close()
	// Still works, just without file logging
	if logger.file != nil {
		t.Error("logger.file should be nil for invalid path")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	defer logger.Close()
	if logger.config.Service != "repoint" {
		t.Errorf("Service = %v, want repoint", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Level = %v, want LevelInfo", logger.config.Level)
	}
}

// =============================================================================
// Logging Method Tests
// =============================================================================

func TestLogger_LogsToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  tmpDir,
		Service: "test",
		Quiet:   true,
	})

	logger.Debug("debug message", "key", "value")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil || len(files) == 0 {
		t.Fatal("expected a log file")
	}
	data, err := os.ReadFile(tmpDir + "/" + files[0].Name())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	for _, msg := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(content, msg) {
			t.Errorf("log file missing %q", msg)
		}
	}
	if !strings.Contains(content, `"service":"test"`) {
		t.Error("log file missing service attribute")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  tmpDir,
		Service: "test",
		Quiet:   true,
	})

	logger.Info("should be filtered")
	logger.Warn("should appear")
	logger.Close()

	files, _ := os.ReadDir(tmpDir)
	data, err := os.ReadFile(tmpDir + "/" + files[0].Name())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "should be filtered") {
		t.Error("Info message not filtered at LevelWarn")
	}
	if !strings.Contains(content, "should appear") {
		t.Error("Warn message missing")
	}
}

func TestLogger_With(t *testing.T) {
	tmpDir := t.TempDir()
	parent := New(Config{
		LogDir:  tmpDir,
		Service: "test",
		Quiet:   true,
	})

	child := parent.With("stage", "structural")
	if child == parent {
		t.Error("With() should return a new Logger")
	}
	child.Info("child message")
	parent.Close()

	files, _ := os.ReadDir(tmpDir)
	data, _ := os.ReadFile(tmpDir + "/" + files[0].Name())
	if !strings.Contains(string(data), `"stage":"structural"`) {
		t.Error("child logger attributes missing from output")
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()
	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_Close_Idempotent(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	// No file and no exporter: second close is also a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestBufferedExporter_CollectsEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "test",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("hello", "run_id", "abc")
	logger.Error("boom")

	// Export runs on a goroutine per entry; wait for delivery.
	deadline := time.Now().Add(2 * time.Second)
	for len(exporter.Entries()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	logger.Close()

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	byMsg := make(map[string]LogEntry)
	for _, e := range entries {
		byMsg[e.Message] = e
	}
	info, ok := byMsg["hello"]
	if !ok {
		t.Fatal("missing 'hello' entry")
	}
	if info.Level != LevelInfo {
		t.Errorf("Level = %v, want LevelInfo", info.Level)
	}
	if info.Service != "test" {
		t.Errorf("Service = %v, want test", info.Service)
	}
	if info.Attrs["run_id"] != "abc" {
		t.Errorf("Attrs[run_id] = %v, want abc", info.Attrs["run_id"])
	}
}

func TestBufferedExporter_RespectsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Debug("filtered")
	logger.Info("filtered")
	logger.Warn("exported")

	deadline := time.Now().Add(time.Second)
	for len(exporter.Entries()) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	logger.Close()

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "exported" {
		t.Errorf("Message = %v, want exported", entries[0].Message)
	}
}

func TestBufferedExporter_ConcurrentExport(t *testing.T) {
	exporter := NewBufferedExporter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exporter.Export(context.Background(), LogEntry{Message: "m"})
		}()
	}
	wg.Wait()
	if got := len(exporter.Entries()); got != 50 {
		t.Errorf("got %d entries, want 50", got)
	}
}

func TestNopExporter(t *testing.T) {
	exporter := &NopExporter{}
	ctx := context.Background()
	if err := exporter.Export(ctx, LogEntry{Message: "dropped"}); err != nil {
		t.Errorf("Export() = %v, want nil", err)
	}
	if err := exporter.Flush(ctx); err != nil {
		t.Errorf("Flush() = %v, want nil", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde prefix", "~/.repoint/logs", home + "/.repoint/logs"},
		{"absolute", "/var/log/repoint", "/var/log/repoint"},
		{"relative", "logs", "logs"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"a", 1, "b", "two", "dangling"})
	if len(got) != 2 {
		t.Fatalf("got %d keys, want 2", len(got))
	}
	if got["a"] != 1 || got["b"] != "two" {
		t.Errorf("argsToMap mismatch: %v", got)
	}
}

func TestArgsToMap_NonStringKey(t *testing.T) {
	got := argsToMap([]any{42, "ignored", "ok", true})
	if len(got) != 1 || got["ok"] != true {
		t.Errorf("argsToMap mismatch: %v", got)
	}
}
