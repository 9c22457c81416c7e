// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline orchestration. Stage-level failures are
// absorbed into empty results and never surface through these.
var (
	// ErrMissingStage indicates a StageSet field was left nil.
	ErrMissingStage = errors.New("missing stage")

	// ErrDuplicateResult indicates a second write to an existing
	// context key. The blackboard is append-only.
	ErrDuplicateResult = errors.New("duplicate stage result")

	// ErrStageTimeout marks a stage that exceeded its deadline in the
	// optimized strategy.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrStagePanic marks a stage that panicked.
	ErrStagePanic = errors.New("stage panicked")
)

// StageError wraps a stage failure with the stage name. The executor
// logs these and degrades the stage's result; callers only see them in
// logs and run statistics.
type StageError struct {
	// StageName is the context key of the failed stage.
	StageName string

	// Err is the underlying error.
	Err error
}

// Error returns "stage %q: <err>".
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.StageName, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *StageError) Unwrap() error {
	return e.Err
}
