// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs one solver job per problem with bounded
// concurrency, records each outcome in the experiment state and
// checkpoints progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jinterlante1206/proverbatch/pkg/util"
	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/batch/telemetry"
)

const tracerName = "proverbatch/scheduler"

// Defaults for Config.
const (
	DefaultProgressEvery = 20
)

// Config controls dispatch.
type Config struct {
	// Workers is the maximum number of concurrently running jobs.
	Workers int

	// ProgressEvery reports progress after this many submissions.
	// Zero means DefaultProgressEvery.
	ProgressEvery int

	// CheckpointEvery writes a checkpoint after this many submissions.
	// Zero means ProgressEvery.
	CheckpointEvery int

	// CheckpointDir holds the checkpoint file. Empty means the working
	// directory.
	CheckpointDir string

	// SubmitRate limits submissions per second. Zero means unlimited.
	SubmitRate float64

	// SubmitBurst is the limiter burst. Zero means 1.
	SubmitBurst int

	// Progress receives the human-readable progress block. Nil disables
	// it; structured progress is always logged.
	Progress io.Writer
}

// Scheduler dispatches the pending problems of an experiment.
//
// # Description
//
// Problems are submitted in list order. A weighted semaphore caps running
// jobs at Workers; submission blocks while all slots are taken. Each job
// runs the invocation built by its JobFactory, classifies stdout and
// records the result in the shared experiment.State. Every ProgressEvery
// submissions a progress report is emitted and every CheckpointEvery
// submissions the checkpoint is rewritten.
//
// Cancelling the Run context stops further submissions. Jobs already
// launched run to completion. The final checkpoint is then written with
// Finished set only if every problem was submitted.
//
// # Thread Safety
//
// Run must not be called concurrently on the same Scheduler.
type Scheduler struct {
	cfg     Config
	state   *experiment.State
	jobs    JobFactory
	runner  *solver.Runner
	logger  *slog.Logger
	metrics *telemetry.Metrics
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metric set. Without it metrics are registered on
// the global meter provider.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler for state.
func New(cfg Config, state *experiment.State, jobs JobFactory, runner *solver.Runner, opts ...Option) (*Scheduler, error) {
	if state == nil {
		return nil, errors.New("experiment state is required")
	}
	if jobs == nil {
		return nil, errors.New("job factory is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = cfg.ProgressEvery
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = "."
	}

	s := &Scheduler{
		cfg:    cfg,
		state:  state,
		jobs:   jobs,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		m, err := telemetry.NewMetrics(otel.Meter(tracerName))
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		s.metrics = m
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	s.logger = s.logger.With(
		slog.String("experiment", state.Config().Name),
		slog.String("run_id", state.Snapshot().RunID),
	)
	return s, nil
}

// State returns the experiment state the scheduler writes to.
func (s *Scheduler) State() *experiment.State {
	return s.state
}

// Run submits every pending problem and waits for all launched jobs.
//
// # Outputs
//
//   - experiment.Snapshot: The state as written to the final checkpoint.
//   - error: ctx.Err() if submission was interrupted, or the final
//     checkpoint write error. The snapshot is valid in both cases.
func (s *Scheduler) Run(ctx context.Context) (experiment.Snapshot, error) {
	var pending []string
	for _, p := range s.state.Problems() {
		if !s.state.Attempted(p) {
			pending = append(pending, p)
		}
	}
	total := len(pending)
	s.logger.Info("starting batch",
		slog.Int("problems", len(s.state.Problems())),
		slog.Int("pending", total),
		slog.Int("workers", s.cfg.Workers),
	)

	sem := semaphore.NewWeighted(int64(s.cfg.Workers))
	var wg sync.WaitGroup
	// Launched processes are never cancelled.
	jobCtx := context.WithoutCancel(ctx)

	start := s.now()
	submitted := 0
	var interrupted error

	for _, problem := range pending {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				interrupted = ctxErr(ctx, err)
				break
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			interrupted = ctxErr(ctx, err)
			break
		}
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			interrupted = err
			break
		}

		wg.Add(1)
		s.metrics.JobsSubmitted.Add(ctx, 1)
		go func(problem string) {
			defer wg.Done()
			defer sem.Release(1)
			s.runJob(jobCtx, problem)
		}(problem)
		submitted++

		if submitted%s.cfg.ProgressEvery == 0 {
			s.reportProgress(start, submitted, total)
		}
		if submitted%s.cfg.CheckpointEvery == 0 {
			if _, err := s.checkpoint(ctx); err != nil {
				s.logger.Error("periodic checkpoint failed", slog.String("error", err.Error()))
			}
		}
	}

	if interrupted != nil {
		s.logger.Warn("submission interrupted, waiting for running jobs",
			slog.Int("submitted", submitted),
			slog.Int("pending", total-submitted),
		)
	}
	wg.Wait()

	s.state.SetFinished(interrupted == nil)
	snap := s.state.Snapshot()
	path, err := s.checkpoint(jobCtx)
	if err != nil {
		return snap, fmt.Errorf("final checkpoint: %w", err)
	}

	attempted, solved := snap.Counts()
	s.logger.Info("batch complete",
		slog.Bool("finished", snap.Finished),
		slog.Int("attempted", attempted),
		slog.Int("solved", solved),
		slog.String("checkpoint", path),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	s.writeProgress(snap.Summary())
	return snap, interrupted
}

// runJob attempts one problem. It never returns an error: every outcome,
// including a panic, ends up in the experiment state.
func (s *Scheduler) runJob(ctx context.Context, problem string) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Scheduler.job",
		trace.WithAttributes(attribute.String("problem", problem)),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, s.logger).With(slog.String("problem", problem))

	s.metrics.JobsRunning.Add(ctx, 1)
	defer s.metrics.JobsRunning.Add(ctx, -1)
	started := s.now()
	result := telemetry.ResultError

	defer func() {
		s.metrics.JobDuration.Record(ctx, s.now().Sub(started).Seconds())
		s.metrics.JobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}()
	defer util.RecoverPanic(func(info util.PanicInfo) {
		s.state.RecordFailure(problem)
		result = telemetry.ResultError
		telemetry.RecordError(span, info.Err())
		logger.Error("job panicked",
			slog.String("panic", fmt.Sprint(info.Value)),
			slog.String("stack", info.Stack),
		)
	})()

	inv, err := s.jobs.Invocation(problem)
	if err != nil {
		s.state.RecordFailure(problem)
		telemetry.RecordError(span, err)
		logger.Error("cannot build job", slog.String("error", err.Error()))
		return
	}

	rep, err := s.runner.Run(ctx, inv)
	if err != nil {
		s.state.RecordFailure(problem)
		telemetry.RecordError(span, err)
		logger.Warn("job could not run",
			slog.String("error", err.Error()),
			slog.String("stderr", util.ExtractStderr(err)),
		)
		return
	}

	span.SetAttributes(
		attribute.Bool("solved", rep.Solved),
		attribute.Int("exit_code", rep.ExitCode),
	)
	if !rep.Solved {
		s.state.RecordFailure(problem)
		result = telemetry.ResultUnsolved
		telemetry.SetSpanOK(span)
		logger.Debug("problem not solved",
			slog.Int("exit_code", rep.ExitCode),
			slog.String("output_tail", rep.Tail),
		)
		return
	}

	s.state.RecordSuccess(problem, rep.Metric, rep.HasMetric())
	result = telemetry.ResultSolved
	telemetry.SetSpanOK(span)
	if rep.MetricErr != nil {
		s.metrics.MetricMissing.Add(ctx, 1)
		logger.Warn("solved without metric", slog.String("error", rep.MetricErr.Error()))
		return
	}
	span.SetAttributes(attribute.Int64("metric", rep.Metric))
	logger.Debug("problem solved", slog.Int64("metric", rep.Metric))
}

func (s *Scheduler) checkpoint(ctx context.Context) (string, error) {
	path, err := experiment.Save(s.cfg.CheckpointDir, s.state.Snapshot())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.CheckpointsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		return "", err
	}
	s.logger.Debug("checkpoint written", slog.String("path", path))
	return path, nil
}

// Progress is a point-in-time throughput estimate.
type Progress struct {
	Submitted      int
	Total          int
	Attempted      int
	Solved         int
	PerMinute      float64
	HoursRemaining float64
	Groups         experiment.GroupStats
}

// progressAt computes throughput from submissions since start.
func progressAt(elapsed time.Duration, submitted, total int) (perMinute, hoursLeft float64) {
	minutes := elapsed.Minutes()
	if minutes <= 0 || submitted == 0 {
		return 0, 0
	}
	perMinute = float64(submitted) / minutes
	hoursLeft = float64(total-submitted) / perMinute / 60
	return perMinute, hoursLeft
}

func (s *Scheduler) reportProgress(start time.Time, submitted, total int) {
	attempted, solved := s.state.Counts()
	p := Progress{
		Submitted: submitted,
		Total:     total,
		Attempted: attempted,
		Solved:    solved,
		Groups:    s.state.GroupStats(),
	}
	p.PerMinute, p.HoursRemaining = progressAt(s.now().Sub(start), submitted, total)

	s.logger.Info("progress",
		slog.Int("submitted", p.Submitted),
		slog.Int("total", p.Total),
		slog.Int("attempted", p.Attempted),
		slog.Int("solved", p.Solved),
		slog.Float64("per_minute", p.PerMinute),
		slog.Float64("hours_remaining", p.HoursRemaining),
		slog.Int("groups_attempted", p.Groups.Attempted),
		slog.Int("groups_solved", p.Groups.Solved),
	)
	s.writeProgress(fmt.Sprintf(
		"%.2f attempts per minute, %.2f hours remaining\n"+
			"%d / %d attempted (%d solved)\n"+
			"%d / %d groups have successful attempts (%s%%)\n",
		p.PerMinute, p.HoursRemaining,
		p.Attempted, len(s.state.Problems()), p.Solved,
		p.Groups.Solved, p.Groups.Attempted, experiment.Percent(p.Groups.Solved, p.Groups.Attempted),
	))
	s.writeProgress(s.state.Summary())
}

func (s *Scheduler) writeProgress(text string) {
	if s.cfg.Progress == nil {
		return
	}
	if _, err := io.WriteString(s.cfg.Progress, text); err != nil {
		s.logger.Debug("progress output failed", slog.String("error", err.Error()))
	}
}

// ctxErr prefers the context's own error over the wrapper error returned
// by helpers that observed the cancellation.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
