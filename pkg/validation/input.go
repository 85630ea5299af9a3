// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package validation checks user inputs that end up in file names or in
// the shell lines used to start solver processes.
//
// Solver arguments are inserted verbatim into a /bin/sh command line so
// users can pass quoted heuristics; these validators reject the characters
// that would let an argument string run a second command or redirect
// output instead.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches experiment names: they name checkpoint files, so no
// path separators and no leading dot or hyphen.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]{0,127}$`)

// forbiddenArgs are shell operators that end, chain or redirect a command,
// or substitute another one.
var forbiddenArgs = []string{";", "&", "|", "`", "$", "<", ">", "\n", "\r"}

// ValidateExperimentName validates an experiment name.
//
// Valid names:
//   - 1-128 characters
//   - Letters, digits, underscore, dot and hyphen
//   - Not starting with a dot or hyphen
//
// Example:
//
//	if err := validation.ValidateExperimentName(name); err != nil {
//	    return fmt.Errorf("invalid experiment name: %w", err)
//	}
//	// Safe to use as a file name
func ValidateExperimentName(name string) error {
	if name == "" {
		return fmt.Errorf("experiment name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid experiment name %q (letters, digits, '_', '.', '-'; at most 128 chars; no leading '.' or '-')", name)
	}
	return nil
}

// ValidateSolverArgs validates a free-form solver argument string.
// Quotes, parentheses and '=' are allowed; command separators,
// redirections and substitutions are not.
func ValidateSolverArgs(args string) error {
	for _, op := range forbiddenArgs {
		if strings.Contains(args, op) {
			return fmt.Errorf("solver arguments may not contain %q: %q", op, args)
		}
	}
	return nil
}

// SanitizeSolverArgs collapses runs of whitespace and validates the
// result.
//
//	args, err := validation.SanitizeSolverArgs("  --auto   -l2 ")
//	// args == "--auto -l2"
func SanitizeSolverArgs(args string) (string, error) {
	if err := ValidateSolverArgs(args); err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(args), " "), nil
}
