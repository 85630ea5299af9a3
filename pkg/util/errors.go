// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError wraps a failed external process run with its exit code and
// stderr.
//
// # Description
//
// Returned when a solver or wrapper process cannot be started or exits
// with a status the caller treats as failure. Supports errors.Is/As
// through Unwrap.
//
// # Thread Safety
//
// Immutable after creation.
//
// # Example
//
//	err := NewCommandError("eprover --auto p.p", 1, "out of memory", runErr)
//	fmt.Println(err) // "eprover --auto p.p (exit 1): out of memory"
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code, or -1 if the process never ran
	// or was killed by a signal.
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

var _ error = (*CommandError)(nil)

// NewCommandError builds a CommandError, trimming stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExitCode extracts the process exit code from err.
//
// Returns 0 for nil, the code carried by a *CommandError or
// *exec.ExitError anywhere in the chain, and -1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ExtractStderr returns the stderr of the first *CommandError in err's
// chain, or "" if there is none.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}
