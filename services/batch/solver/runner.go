// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solver

import (
	"context"
	"fmt"
)

// DefaultTailBytes is how much output a failure report keeps.
const DefaultTailBytes = 3000

// Report is a classified run.
type Report struct {
	Outcome

	// ExitCode is the process exit status.
	ExitCode int

	// Tail is the end of stdout, kept for failure logs.
	Tail string
}

// Runner executes invocations and classifies their stdout.
//
// # Thread Safety
//
// Safe for concurrent use if PM is.
type Runner struct {
	PM         ProcessManager
	Classifier Classifier

	// TailBytes bounds Report.Tail. Zero means DefaultTailBytes.
	TailBytes int
}

// NewRunner returns a runner with the default classifier.
func NewRunner(pm ProcessManager) *Runner {
	return &Runner{PM: pm, Classifier: DefaultClassifier()}
}

// Run executes inv and classifies its output.
//
// # Outputs
//
//   - Report: Verdict, exit code and output tail.
//   - error: Non-nil only when the process could not be run. The report
//     still carries whatever output was captured.
func (r *Runner) Run(ctx context.Context, inv Invocation) (Report, error) {
	tail := r.TailBytes
	if tail <= 0 {
		tail = DefaultTailBytes
	}

	res, err := r.PM.Run(ctx, inv)
	if res == nil {
		res = &Result{ExitCode: -1}
	}
	rep := Report{
		ExitCode: res.ExitCode,
		Tail:     OutputTail(string(res.Stdout), tail),
	}
	if err != nil {
		return rep, fmt.Errorf("run %q: %w", inv.Line, err)
	}

	rep.Outcome = r.Classifier.Classify(string(res.Stdout))
	return rep, nil
}
