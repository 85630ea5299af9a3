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
	"strings"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/pkg/ux"
	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/batch/scheduler"
	"github.com/jinterlante1206/proverbatch/services/strategy/learning"
)

// runMerge extracts the strategy of every problem, merges them into one
// master strategy and then attempts every problem with that master and no
// further learning.
func runMerge(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	name, dir := args[0], args[1]
	solverArgs, err := checkInputs(name, eArgs)
	if err != nil {
		return err
	}

	problems, err := experiment.ListProblems(dir)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		return fmt.Errorf("no problem files (*%s) in %s", experiment.ProblemExt, dir)
	}

	learner, err := newLearner(cfg)
	if err != nil {
		return err
	}
	dd := firstNonEmpty(dataDir, learning.OfflineDataDir(dir))
	n := firstPositive(workers, cfg.Scheduler.Workers)

	res, err := learner.MergeOffline(cmd.Context(), dd, problems, higherOrder, n)
	if err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout()).Status(ux.IconSuccess,
		fmt.Sprintf("merged %d strategies into %s", res.Extracted, res.MasterPath))
	slog.Info("master strategy built",
		slog.String("path", res.MasterPath),
		slog.Int("keys", res.History.Len()),
	)

	prover := cfg.Prover.SolverProver()
	expArgs := strings.TrimSpace(prover.ParseStrategyFlag + "=" + res.MasterPath + " " + solverArgs)
	state := experiment.New(experiment.Config{
		Name:        name,
		Path:        dir,
		HigherOrder: higherOrder,
		Args:        expArgs,
	}, problems)

	jobs := scheduler.DirectJobs{
		Prover:       prover,
		HigherOrder:  higherOrder,
		Args:         solverArgs,
		ArgsSuffix:   cfg.Scheduler.ArgsSuffix,
		StrategyPath: res.MasterPath,
	}
	return runBatch(cmd, state, jobs, firstNonEmpty(checkpointDir, cfg.Scheduler.CheckpointDir))
}
