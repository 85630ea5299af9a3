// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solver builds solver command lines, runs them and classifies
// their output.
package solver

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Prover locates the solver executables.
type Prover struct {
	// Dir holds the executables.
	Dir string

	// FirstOrder and HigherOrder are the executable names for each mode.
	FirstOrder  string
	HigherOrder string

	// StrategyArgs make the solver print its chosen strategy instead of
	// searching for a proof.
	StrategyArgs string

	// ParseStrategyFlag passes a strategy file to the solver. The file
	// path is appended after '='.
	ParseStrategyFlag string
}

// DefaultProver returns the layout of a source build of E.
func DefaultProver() Prover {
	return Prover{
		Dir:               "./eprover/PROVER",
		FirstOrder:        "eprover",
		HigherOrder:       "eprover-ho",
		StrategyArgs:      "--auto --print-strategy",
		ParseStrategyFlag: "--parse-strategy",
	}
}

// Executable returns the path of the solver for the given mode.
func (p Prover) Executable(higherOrder bool) string {
	name := p.FirstOrder
	if higherOrder {
		name = p.HigherOrder
	}
	if p.Dir == "" {
		return name
	}
	// Keep a relative path explicitly relative so the shell never falls
	// back to a PATH lookup.
	path := filepath.Join(p.Dir, name)
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, ".") {
		path = "./" + path
	}
	return path
}

// Command returns the shell line that runs the solver on problem.
//
// # Inputs
//
//   - higherOrder: Selects the higher-order executable.
//   - args: Free-form solver arguments, inserted verbatim.
//   - strategyPath: If non-empty, passed with ParseStrategyFlag after args.
//   - problem: Problem file path.
//
// # Example
//
//	p.Command(false, "--auto", "/d/MASTER.12.strat", "x.p")
//	// ./eprover/PROVER/eprover --auto --parse-strategy=/d/MASTER.12.strat x.p
func (p Prover) Command(higherOrder bool, args, strategyPath, problem string) string {
	parts := []string{ShellQuote(p.Executable(higherOrder))}
	if a := strings.TrimSpace(args); a != "" {
		parts = append(parts, a)
	}
	if strategyPath != "" {
		parts = append(parts, p.ParseStrategyFlag+"="+ShellQuote(strategyPath))
	}
	parts = append(parts, ShellQuote(problem))
	return strings.Join(parts, " ")
}

// StrategyCommand returns the shell line that prints the solver's
// automatically chosen strategy for problem.
func (p Prover) StrategyCommand(higherOrder bool, problem string) string {
	return p.Command(higherOrder, p.StrategyArgs, "", problem)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./=:,+@%-]+$`)

// ShellQuote quotes s for /bin/sh unless it is made only of safe
// characters.
func ShellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
