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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logFormat  string
	logDir     string

	// run and merge
	higherOrder   bool
	eArgs         string
	useDataDir    bool
	dataDir       string
	workers       int
	resume        bool
	checkpointDir string
	statusAddr    string

	// inspect
	listSolved  bool
	rawSummary  bool
	resetAssume bool

	// config init
	forceWrite bool

	rootCmd = &cobra.Command{
		Use:   "proverbatch",
		Short: "Run E prover experiments with persistent strategy learning",
		Long: `proverbatch runs a solver over a directory of problem files with a
bounded number of concurrent processes, checkpoints the results, and can
learn a master strategy from the strategies chosen for earlier problems.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	runCmd = &cobra.Command{
		Use:   "run <name> <problems-dir>",
		Short: "Attempt every problem in a directory and checkpoint the results",
		Args:  cobra.ExactArgs(2),
		RunE:  runExperiment, // Defined in cmd_run.go
	}

	wrapCmd = &cobra.Command{
		Use:   "wrap <problem>",
		Short: "Attempt one problem, learning from the data directory if one is set",
		Long: `wrap attempts a single problem. When the data directory environment
variable is set, the strategy the solver would choose is merged into the
shared history first and the solver runs with the resulting master
strategy. run invokes wrap once per problem.`,
		Args: cobra.ExactArgs(1),
		RunE: runWrap, // Defined in cmd_wrap.go
	}

	mergeCmd = &cobra.Command{
		Use:   "merge <name> <problems-dir>",
		Short: "Build one master strategy from all problems, then run with it",
		Args:  cobra.ExactArgs(2),
		RunE:  runMerge, // Defined in cmd_merge.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Show the results stored in a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect, // Defined in cmd_inspect.go
	}

	historyCmd = &cobra.Command{
		Use:   "history <data-dir>",
		Short: "Show the strategy history and the master it produces",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory, // Defined in cmd_inspect.go
	}

	resetCmd = &cobra.Command{
		Use:   "reset <data-dir>",
		Short: "Delete the strategy history of a data directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runReset, // Defined in cmd_inspect.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the YAML configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (default proverbatch.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_config.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to the YAML configuration (default proverbatch.yaml if present)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&logDir, "log-dir", "", "Also write JSON logs to a daily file in this directory")

	runCmd.Flags().BoolVar(&higherOrder, "higher-order", false, "Use the higher-order solver")
	runCmd.Flags().StringVar(&eArgs, "e-args", "", "Arguments passed to the solver")
	runCmd.Flags().BoolVar(&useDataDir, "use-data-dir", false, "Learn a master strategy across problems")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "Persistent data directory (default from config, else ./data_dir)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent solver processes (default from config)")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Continue from the experiment's checkpoint, skipping attempted problems")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for the checkpoint file (default from config)")
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve /status and /metrics on this address while running")

	wrapCmd.Flags().BoolVar(&higherOrder, "higher-order", false, "Use the higher-order solver")
	wrapCmd.Flags().StringVar(&eArgs, "e-args", "", "Arguments passed to the solver")

	mergeCmd.Flags().BoolVar(&higherOrder, "higher-order", false, "Use the higher-order solver")
	mergeCmd.Flags().StringVar(&eArgs, "e-args", "", "Arguments passed to the solver after the master strategy")
	mergeCmd.Flags().StringVar(&dataDir, "data-dir", "", "Where the master is written (default <problems-dir>/data_dir)")
	mergeCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent solver processes (default from config)")
	mergeCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for the checkpoint file (default from config)")
	mergeCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve /status and /metrics on this address while running")

	inspectCmd.Flags().BoolVar(&listSolved, "solved", false, "List solved problems")
	inspectCmd.Flags().BoolVar(&rawSummary, "raw", false, "Print the plain progress block instead of a report")

	resetCmd.Flags().BoolVarP(&resetAssume, "yes", "y", false, "Do not ask for confirmation")

	configInitCmd.Flags().BoolVar(&forceWrite, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd, wrapCmd, mergeCmd, inspectCmd, historyCmd, resetCmd, configCmd)
}

// resetFlags restores every command variable to its default.
func resetFlags() {
	configPath, logLevel, logFormat, logDir = "", "info", "text", ""
	higherOrder, eArgs, useDataDir, dataDir = false, "", false, ""
	workers, resume, checkpointDir, statusAddr = 0, false, "", ""
	listSolved, rawSummary, resetAssume, forceWrite = false, false, false, false
}
