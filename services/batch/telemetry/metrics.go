// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Job results used as the "result" attribute.
const (
	ResultSolved   = "solved"
	ResultUnsolved = "unsolved"
	ResultError    = "error"
)

// Metrics is the batch metric set. All names carry the "proverbatch_"
// prefix.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type Metrics struct {
	// JobsSubmitted counts launched jobs.
	JobsSubmitted metric.Int64Counter

	// JobsCompleted counts finished jobs by result.
	JobsCompleted metric.Int64Counter

	// JobDuration records job wall time in seconds.
	JobDuration metric.Float64Histogram

	// JobsRunning tracks jobs currently holding a slot.
	JobsRunning metric.Int64UpDownCounter

	// CheckpointsWritten counts checkpoint writes by outcome.
	CheckpointsWritten metric.Int64Counter

	// MetricMissing counts solved runs whose metric could not be read.
	MetricMissing metric.Int64Counter

	// MasterBuilds counts learning cycles that produced a master strategy.
	MasterBuilds metric.Int64Counter
}

// NewMetrics registers the batch metrics with meter.
//
// # Example
//
//	m, err := telemetry.NewMetrics(otel.Meter("proverbatch/scheduler"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	m.JobsSubmitted.Add(ctx, 1)
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.JobsSubmitted, err = meter.Int64Counter(
		"proverbatch_jobs_submitted_total",
		metric.WithDescription("Jobs launched"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create jobs_submitted_total: %w", err)
	}

	m.JobsCompleted, err = meter.Int64Counter(
		"proverbatch_jobs_completed_total",
		metric.WithDescription("Jobs finished, by result"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create jobs_completed_total: %w", err)
	}

	m.JobDuration, err = meter.Float64Histogram(
		"proverbatch_job_duration_seconds",
		metric.WithDescription("Job wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("create job_duration: %w", err)
	}

	m.JobsRunning, err = meter.Int64UpDownCounter(
		"proverbatch_jobs_running",
		metric.WithDescription("Jobs currently running"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create jobs_running: %w", err)
	}

	m.CheckpointsWritten, err = meter.Int64Counter(
		"proverbatch_checkpoints_total",
		metric.WithDescription("Checkpoint writes, by outcome"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoints_total: %w", err)
	}

	m.MetricMissing, err = meter.Int64Counter(
		"proverbatch_metric_missing_total",
		metric.WithDescription("Solved runs without a readable metric"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric_missing_total: %w", err)
	}

	m.MasterBuilds, err = meter.Int64Counter(
		"proverbatch_master_builds_total",
		metric.WithDescription("Master strategies built, by outcome"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create master_builds_total: %w", err)
	}

	return m, nil
}
