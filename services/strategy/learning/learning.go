// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package learning runs the solver with a strategy learned from every
// earlier run that shared the same data directory.
//
// One learning cycle extracts the solver's own strategy for a problem,
// folds it into the persistent history under the data directory lock,
// rebuilds the master strategy and finally runs the solver with it.
package learning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/proverbatch/pkg/util"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/batch/telemetry"
	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
	"github.com/jinterlante1206/proverbatch/services/strategy/lock"
	"github.com/jinterlante1206/proverbatch/services/strategy/master"
)

const tracerName = "proverbatch/learning"

// DefaultDataDirEnv names the environment variable that enables the
// persistent-learning path.
const DefaultDataDirEnv = "SLH_PERSISTENT_DATA_DIR"

// TmpDirName is the subdirectory of the data directory that holds
// extracted per-problem strategies.
const TmpDirName = "tmp"

// Learner runs learning cycles.
//
// # Thread Safety
//
// A Learner may be shared by goroutines. Cycles in different goroutines or
// processes serialize on the data directory lock.
type Learner struct {
	Prover solver.Prover
	Runner *solver.Runner

	// Builder derives the master from the history.
	Builder master.Builder

	// Lock configures the data directory lock.
	Lock lock.Options

	// KeepArtifacts leaves extracted strategies and master files on disk.
	KeepArtifacts bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// New returns a learner using pm for all solver invocations.
func New(prover solver.Prover, pm solver.ProcessManager) *Learner {
	l := &Learner{
		Prover:  prover,
		Runner:  solver.NewRunner(pm),
		Builder: master.Builder{MaxWeight: master.DefaultMaxWeight},
	}
	if m, err := telemetry.NewMetrics(otel.Meter(tracerName)); err == nil {
		l.Metrics = m
	}
	return l
}

func (l *Learner) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// ExtractStrategy asks the solver for the strategy it would choose for
// problem and parses it.
//
// # Description
//
// The solver's output is written to `<dataDir>/tmp/<problem base name>`
// and parsed from there. The solver's exit status is ignored; what
// matters is whether the output parses.
//
// # Outputs
//
//   - *codec.Configuration: The parsed strategy.
//   - string: Path of the strategy file, for later cleanup.
//   - error: Process or parse failure. A *codec.DuplicateKeyError or
//     *codec.MalformedHeuristicError can be matched with errors.As.
func (l *Learner) ExtractStrategy(ctx context.Context, dataDir, problem string, higherOrder bool) (*codec.Configuration, string, error) {
	tmpDir := filepath.Join(dataDir, TmpDirName)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create strategy directory: %w", err)
	}
	path := filepath.Join(tmpDir, filepath.Base(problem))

	line := l.Prover.StrategyCommand(higherOrder, problem)
	res, err := l.Runner.PM.Run(ctx, solver.Invocation{Line: line})
	if err != nil {
		return nil, "", fmt.Errorf("print strategy for %s: %w", problem, err)
	}
	if res.ExitCode != 0 {
		cmdErr := util.NewCommandError(line, res.ExitCode, string(res.Stderr), nil)
		return nil, "", fmt.Errorf("print strategy for %s: %w", problem, cmdErr)
	}
	if err := os.WriteFile(path, res.Stdout, 0o640); err != nil {
		return nil, "", fmt.Errorf("save strategy: %w", err)
	}

	cfg, err := codec.ParseFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("strategy for %s: %w", problem, err)
	}
	return cfg, path, nil
}

// UpdateMaster folds cfg into the history under dataDir and writes a fresh
// master strategy for this process.
//
// # Description
//
// Waits for the data directory lock, then loads the history, merges cfg,
// saves the history, builds the master and writes it to
// `<dataDir>/MASTER.<pid>.strat`, and releases the lock.
//
// # Outputs
//
//   - string: Path of the master strategy file.
//   - error: Lock wait cancelled, storage failure or build failure.
func (l *Learner) UpdateMaster(ctx context.Context, dataDir string, cfg *codec.Configuration) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Learner.UpdateMaster")
	defer span.End()

	path, err := l.updateMaster(ctx, dataDir, cfg)
	l.countBuild(ctx, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanOK(span)
	return path, nil
}

func (l *Learner) updateMaster(ctx context.Context, dataDir string, cfg *codec.Configuration) (string, error) {
	opts := l.Lock
	if opts.Logger == nil {
		opts.Logger = l.logger()
	}
	lk := lock.ForDataDir(dataDir, opts)
	if err := lk.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for %s: %w", lk.Path(), err)
	}
	defer lk.Release()

	store := history.NewStore(dataDir, l.logger())
	h, err := store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	h.Merge(cfg)
	if err := store.Save(ctx, h); err != nil {
		return "", fmt.Errorf("save history: %w", err)
	}

	m, err := l.Builder.Build(h)
	if err != nil {
		return "", fmt.Errorf("build master: %w", err)
	}
	path := master.FilePath(dataDir, os.Getpid())
	if err := master.WriteFile(path, m); err != nil {
		return "", err
	}
	l.logger().Debug("master strategy updated",
		slog.String("path", path),
		slog.Int("keys", h.Len()),
	)
	return path, nil
}

func (l *Learner) countBuild(ctx context.Context, err error) {
	if l.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.Metrics.MasterBuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Request describes one solver run.
type Request struct {
	Problem     string
	HigherOrder bool

	// Args is the free-form solver argument string.
	Args string

	// DataDir enables the persistent-learning path when non-empty.
	DataDir string

	// Stdout receives the solver's output as it is produced.
	Stdout io.Writer
}

// Run attempts req.Problem.
//
// # Description
//
// Without a data directory the solver runs once with req.Args. With one,
// a full learning cycle runs first and the solver is given the resulting
// master strategy. Artifacts of the cycle are removed afterwards unless
// KeepArtifacts is set.
//
// A status line announcing the mode is written to req.Stdout before
// anything else.
func (l *Learner) Run(ctx context.Context, req Request) (solver.Report, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Learner.Run",
		trace.WithAttributes(
			attribute.String("problem", req.Problem),
			attribute.Bool("persistent", req.DataDir != ""),
		),
	)
	defer span.End()

	out := req.Stdout
	if out == nil {
		out = io.Discard
	}

	strategyPath := ""
	if req.DataDir == "" {
		fmt.Fprintln(out, "Running E without persistent data")
	} else {
		fmt.Fprintln(out, "Running E with persistent data")

		cfg, tmpPath, err := l.ExtractStrategy(ctx, req.DataDir, req.Problem, req.HigherOrder)
		if tmpPath != "" {
			defer l.cleanup(tmpPath)
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return solver.Report{}, err
		}
		strategyPath, err = l.UpdateMaster(ctx, req.DataDir, cfg)
		if err != nil {
			telemetry.RecordError(span, err)
			return solver.Report{}, err
		}
		defer l.cleanup(strategyPath)
	}

	line := l.Prover.Command(req.HigherOrder, req.Args, strategyPath, req.Problem)
	rep, err := l.Runner.Run(ctx, solver.Invocation{Line: line, Stdout: out})
	if err != nil {
		telemetry.RecordError(span, err)
		return rep, err
	}
	span.SetAttributes(attribute.Bool("solved", rep.Solved))
	telemetry.SetSpanOK(span)
	return rep, nil
}

func (l *Learner) cleanup(path string) {
	if l.KeepArtifacts {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger().Warn("failed to remove artifact",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// DataDirFromEnv returns the data directory named by the environment
// variable env, or "" when learning is disabled.
func DataDirFromEnv(env string) string {
	if env == "" {
		env = DefaultDataDirEnv
	}
	return os.Getenv(env)
}
