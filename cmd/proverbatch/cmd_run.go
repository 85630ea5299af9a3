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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/pkg/validation"
	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/batch/scheduler"
	"github.com/jinterlante1206/proverbatch/services/batch/status"
	"github.com/jinterlante1206/proverbatch/services/strategy/learning"
)

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	name, dir := args[0], args[1]
	solverArgs, err := checkInputs(name, eArgs)
	if err != nil {
		return err
	}

	expCfg := experiment.Config{
		Name:        name,
		Path:        dir,
		HigherOrder: higherOrder,
		Args:        solverArgs,
		UseDataDir:  useDataDir,
	}
	ckptDir := firstNonEmpty(checkpointDir, cfg.Scheduler.CheckpointDir)

	state, err := openState(ckptDir, expCfg, resume)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	extra, err := childFlags()
	if err != nil {
		return err
	}
	jobs := scheduler.WrapperJobs{
		Self:        self,
		HigherOrder: higherOrder,
		Args:        solverArgs,
		ArgsSuffix:  cfg.Scheduler.ArgsSuffix,
		DataDirEnv:  cfg.Learning.DataDirEnv,
		Extra:       extra,
	}
	if useDataDir {
		dd, err := filepath.Abs(firstNonEmpty(dataDir, cfg.Learning.DataDir, learning.OfflineDataDirName))
		if err != nil {
			return fmt.Errorf("resolve data directory: %w", err)
		}
		if err := os.MkdirAll(dd, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		jobs.DataDir = dd
	}

	return runBatch(cmd, state, jobs, ckptDir)
}

// checkInputs validates the experiment name and returns the normalized
// solver arguments.
func checkInputs(name, args string) (string, error) {
	if err := validation.ValidateExperimentName(name); err != nil {
		return "", err
	}
	return validation.SanitizeSolverArgs(args)
}

// openState starts a new experiment over the problems in cfg.Path or, with
// resume, continues the one checkpointed under ckptDir.
func openState(ckptDir string, cfg experiment.Config, resume bool) (*experiment.State, error) {
	if resume {
		path := experiment.CheckpointPath(ckptDir, cfg.Name)
		snap, err := experiment.Load(path)
		switch {
		case err == nil:
			if snap.Config != cfg {
				return nil, fmt.Errorf("checkpoint %s was written for %+v, not %+v", path, snap.Config, cfg)
			}
			state := experiment.FromSnapshot(snap)
			state.SetRunID(uuid.NewString())
			attempted, _ := state.Counts()
			slog.Info("resuming experiment",
				slog.String("checkpoint", path),
				slog.Int("attempted", attempted),
				slog.Int("problems", len(snap.Problems)),
			)
			return state, nil
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("no checkpoint to resume, starting fresh", slog.String("checkpoint", path))
		default:
			return nil, err
		}
	}

	problems, err := experiment.ListProblems(cfg.Path)
	if err != nil {
		return nil, err
	}
	if len(problems) == 0 {
		return nil, fmt.Errorf("no problem files (*%s) in %s", experiment.ProblemExt, cfg.Path)
	}
	return experiment.New(cfg, problems), nil
}

// runBatch schedules every pending problem of state and prints the final
// report.
func runBatch(cmd *cobra.Command, state *experiment.State, jobs scheduler.JobFactory, ckptDir string) error {
	cfg := current.cfg
	ctx := cmd.Context()

	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Config{
		Workers:         firstPositive(workers, cfg.Scheduler.Workers),
		ProgressEvery:   cfg.Scheduler.ProgressEvery,
		CheckpointEvery: cfg.Scheduler.CheckpointEvery,
		CheckpointDir:   ckptDir,
		SubmitRate:      cfg.Scheduler.SubmitRate,
		SubmitBurst:     cfg.Scheduler.SubmitBurst,
		Progress:        cmd.OutOrStdout(),
	}, state, jobs, runner, scheduler.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	if addr := firstNonEmpty(statusAddr, cfg.Status.Addr); addr != "" {
		statusCtx, stopStatus := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		srv := status.NewServer(addr, state, slog.Default())
		go func() {
			defer close(done)
			if err := srv.Serve(statusCtx); err != nil {
				slog.Error("status server failed", slog.String("addr", addr), slog.String("error", err.Error()))
			}
		}()
		defer func() {
			stopStatus()
			<-done
		}()
		slog.Info("status server listening", slog.String("addr", addr))
	}

	snap, err := sched.Run(ctx)
	printReport(cmd, snap, experiment.CheckpointPath(ckptDir, snap.Name))
	if errors.Is(err, context.Canceled) {
		slog.Warn("batch interrupted; continue with --resume",
			slog.String("experiment", snap.Name),
		)
		return nil
	}
	return err
}
