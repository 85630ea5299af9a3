// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jinterlante1206/proverbatch/pkg/util"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
)

// DefaultArgsSuffix is appended to the solver arguments of every job so the
// solver prints the statistics block the metric is read from.
const DefaultArgsSuffix = "-l2"

// JobFactory turns a problem into the process invocation that attempts it.
type JobFactory interface {
	Invocation(problem string) (solver.Invocation, error)
}

// WrapperJobs runs each problem through the wrap subcommand of this binary
// in a child process, so learning state is shared across real processes.
//
// # Example
//
//	WrapperJobs{Self: "/usr/bin/proverbatch", Args: "--auto", ArgsSuffix: "-l2"}
//	// /usr/bin/proverbatch wrap p.p '--e-args=--auto -l2'
type WrapperJobs struct {
	// Self is the path of the executable providing the wrap subcommand.
	Self string

	HigherOrder bool

	// Args and ArgsSuffix are joined with a space and passed to the solver.
	Args       string
	ArgsSuffix string

	// DataDir, when set, is exported through DataDirEnv to enable the
	// persistent-learning path. When empty, DataDirEnv is removed from the
	// child's environment so an inherited value cannot enable it.
	DataDir    string
	DataDirEnv string

	// Extra holds additional flags placed before the problem, such as a
	// config file.
	Extra []string
}

var _ JobFactory = WrapperJobs{}

// Invocation implements JobFactory.
func (w WrapperJobs) Invocation(problem string) (solver.Invocation, error) {
	if w.Self == "" {
		return solver.Invocation{}, errors.New("wrapper executable is required")
	}
	parts := []string{solver.ShellQuote(w.Self), "wrap"}
	for _, e := range w.Extra {
		parts = append(parts, solver.ShellQuote(e))
	}
	parts = append(parts, solver.ShellQuote(problem))
	if w.HigherOrder {
		parts = append(parts, "--higher-order")
	}
	parts = append(parts, solver.ShellQuote("--e-args="+joinArgs(w.Args, w.ArgsSuffix)))

	inv := solver.Invocation{Line: strings.Join(parts, " ")}
	env := util.NewEnvVars()
	switch {
	case w.DataDir != "":
		if err := env.Set(w.DataDirEnv, w.DataDir); err != nil {
			return solver.Invocation{}, fmt.Errorf("data dir variable: %w", err)
		}
	case w.DataDirEnv != "":
		if err := env.Unset(w.DataDirEnv); err != nil {
			return solver.Invocation{}, fmt.Errorf("data dir variable: %w", err)
		}
	default:
		return inv, nil
	}
	inv.Env = env
	return inv, nil
}

// DirectJobs runs the solver directly, optionally steered by a fixed
// strategy file. The offline merge uses it after building its master.
type DirectJobs struct {
	Prover      solver.Prover
	HigherOrder bool

	// Args and ArgsSuffix are joined with a space and passed to the solver.
	Args       string
	ArgsSuffix string

	StrategyPath string
}

var _ JobFactory = DirectJobs{}

// Invocation implements JobFactory.
func (d DirectJobs) Invocation(problem string) (solver.Invocation, error) {
	return solver.Invocation{
		Line: d.Prover.Command(d.HigherOrder, joinArgs(d.Args, d.ArgsSuffix), d.StrategyPath, problem),
	}, nil
}

func joinArgs(args, suffix string) string {
	return strings.TrimSpace(strings.TrimSpace(args) + " " + strings.TrimSpace(suffix))
}
