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
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/pkg/ux"
	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
	"github.com/jinterlante1206/proverbatch/services/strategy/lock"
)

// runInspect prints a checkpoint. The argument is a checkpoint file or an
// experiment name in the configured checkpoint directory.
func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = experiment.CheckpointPath(current.cfg.Scheduler.CheckpointDir, args[0])
	}
	snap, err := experiment.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rawSummary {
		fmt.Fprint(out, snap.Summary())
	} else {
		printReport(cmd, snap, path)
	}
	if listSolved {
		ux.NewPrinter(out).List("Solved problems", snap.SolvedProblems())
	}
	return nil
}

// printReport renders the result table of snap.
func printReport(cmd *cobra.Command, snap experiment.Snapshot, path string) {
	attempted, solved := snap.Counts()
	groups := experiment.Groups(snap.Success)

	solvedIcon := ux.IconSuccess
	if solved == 0 {
		solvedIcon = ux.IconWarning
	}
	finishedIcon := ux.IconSuccess
	if !snap.Finished {
		finishedIcon = ux.IconPending
	}

	ux.NewPrinter(cmd.OutOrStdout()).Report("Experiment "+snap.Name, []ux.Row{
		{Label: "Run", Value: snap.RunID},
		{Label: "Path", Value: snap.Path},
		{Label: "Higher order", Value: fmt.Sprint(snap.HigherOrder)},
		{Label: "Args", Value: fmt.Sprintf("%q", snap.Args)},
		{Label: "Data dir", Value: fmt.Sprint(snap.UseDataDir)},
		{Label: "Attempted", Value: fmt.Sprintf("%d / %d (%s%%)", attempted, len(snap.Problems), experiment.Percent(attempted, len(snap.Problems)))},
		{Label: "Solved", Value: fmt.Sprintf("%d / %d (%s%%)", solved, attempted, experiment.Percent(solved, attempted)), Icon: solvedIcon},
		{Label: "Groups solved", Value: fmt.Sprintf("%d / %d", groups.Solved, groups.Attempted)},
		{Label: "Average metric", Value: fmt.Sprintf("%.2f", snap.AverageMetric())},
		{Label: "Finished", Value: fmt.Sprint(snap.Finished), Icon: finishedIcon},
		{Label: "Checkpoint", Value: path},
	})
}

// runHistory prints the observation counts of every key and the master
// strategy they currently produce.
func runHistory(cmd *cobra.Command, args []string) error {
	dir := args[0]
	h, err := loadHistoryLocked(cmd, dir)
	if err != nil {
		return err
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	rows := make([]ux.Row, 0, h.Len())
	for _, key := range h.Keys() {
		t := h.Table(key)
		rows = append(rows, ux.Row{
			Label: key,
			Value: fmt.Sprintf("%d observations, %d distinct", t.Total(), t.Len()),
		})
	}
	p.Report("History "+dir, rows)

	m, err := current.cfg.Learning.Builder().Build(h)
	if err != nil {
		p.Status(ux.IconWarning, "no master strategy: "+err.Error())
		return nil
	}
	p.List("Master strategy", strings.Split(strings.TrimRight(codec.Serialize(m), "\n"), "\n"))
	return nil
}

func loadHistoryLocked(cmd *cobra.Command, dir string) (*history.History, error) {
	lk := lock.ForDataDir(dir, current.cfg.Learning.LockOptions())
	if err := lk.Wait(cmd.Context()); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", lk.Path(), err)
	}
	defer lk.Release()
	return history.NewStore(dir, nil).Load(cmd.Context())
}

// runReset deletes the history of a data directory under its lock.
func runReset(cmd *cobra.Command, args []string) error {
	dir := args[0]
	p := ux.NewPrinter(cmd.OutOrStdout())

	if !resetAssume {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete the strategy history in %s? [y/N] ", dir)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			p.Status(ux.IconPending, "aborted")
			return nil
		}
	}

	lk := lock.ForDataDir(dir, current.cfg.Learning.LockOptions())
	if err := lk.Wait(cmd.Context()); err != nil {
		return fmt.Errorf("wait for %s: %w", lk.Path(), err)
	}
	defer lk.Release()
	if err := history.NewStore(dir, nil).Reset(); err != nil {
		return err
	}
	p.Status(ux.IconSuccess, "history reset")
	return nil
}
