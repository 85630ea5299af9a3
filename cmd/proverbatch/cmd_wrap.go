// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/cmd/proverbatch/config"
	"github.com/jinterlante1206/proverbatch/pkg/validation"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/strategy/learning"
)

func runWrap(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	problem := args[0]
	solverArgs, err := validation.SanitizeSolverArgs(eArgs)
	if err != nil {
		return err
	}

	learner, err := newLearner(cfg)
	if err != nil {
		return err
	}

	rep, err := learner.Run(cmd.Context(), learning.Request{
		Problem:     problem,
		HigherOrder: higherOrder,
		Args:        solverArgs,
		DataDir:     learning.DataDirFromEnv(cfg.Learning.DataDirEnv),
		Stdout:      cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("attempt %s: %w", problem, err)
	}
	slog.Debug("attempt finished",
		slog.String("problem", problem),
		slog.Bool("solved", rep.Solved),
		slog.Int("exit_code", rep.ExitCode),
	)
	return nil
}

// newLearner builds a learner from the prover, classify and learning
// sections.
func newLearner(cfg config.Config) (*learning.Learner, error) {
	runner, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}
	l := learning.New(cfg.Prover.SolverProver(), solver.NewDefaultProcessManager())
	l.Runner = runner
	l.Builder = cfg.Learning.Builder()
	l.Lock = cfg.Learning.LockOptions()
	l.KeepArtifacts = cfg.Learning.KeepArtifacts
	l.Logger = slog.Default()
	return l, nil
}
