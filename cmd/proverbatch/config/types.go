// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the proverbatch YAML configuration.
package config

import (
	"time"

	"github.com/jinterlante1206/proverbatch/services/batch/scheduler"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/batch/telemetry"
	"github.com/jinterlante1206/proverbatch/services/strategy/learning"
	"github.com/jinterlante1206/proverbatch/services/strategy/lock"
	"github.com/jinterlante1206/proverbatch/services/strategy/master"
)

// Config is the whole configuration file.
type Config struct {
	Prover    ProverConfig     `yaml:"prover"`
	Classify  ClassifyConfig   `yaml:"classify"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Learning  LearningConfig   `yaml:"learning"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Status    StatusConfig     `yaml:"status"`
}

// ProverConfig locates the solver.
type ProverConfig struct {
	Dir               string `yaml:"dir"`
	FirstOrder        string `yaml:"first_order" validate:"required"`
	HigherOrder       string `yaml:"higher_order" validate:"required"`
	StrategyArgs      string `yaml:"strategy_args" validate:"required"`
	ParseStrategyFlag string `yaml:"parse_strategy_flag" validate:"required"`
}

// ClassifyConfig decides what counts as solved.
type ClassifyConfig struct {
	SuccessMarkers []string `yaml:"success_markers" validate:"required,min=1,dive,required"`
	MetricPattern  string   `yaml:"metric_pattern" validate:"required,capturegroup"`
	TailBytes      int      `yaml:"tail_bytes" validate:"gte=0"`
}

// SchedulerConfig controls batch dispatch.
type SchedulerConfig struct {
	Workers         int     `yaml:"workers" validate:"gte=1"`
	ProgressEvery   int     `yaml:"progress_every" validate:"gte=1"`
	CheckpointEvery int     `yaml:"checkpoint_every" validate:"gte=0"`
	CheckpointDir   string  `yaml:"checkpoint_dir"`
	SubmitRate      float64 `yaml:"submit_rate" validate:"gte=0"`
	SubmitBurst     int     `yaml:"submit_burst" validate:"gte=0"`
	ArgsSuffix      string  `yaml:"args_suffix"`
}

// LearningConfig controls the persistent-learning path.
type LearningConfig struct {
	DataDirEnv        string        `yaml:"data_dir_env" validate:"required"`
	DataDir           string        `yaml:"data_dir"`
	MaxWeight         int           `yaml:"max_weight" validate:"gte=1"`
	UniformWeights    bool          `yaml:"uniform_weights"`
	LockStaleAfter    time.Duration `yaml:"lock_stale_after" validate:"gte=0"`
	LockRetryInterval time.Duration `yaml:"lock_retry_interval" validate:"gte=0"`
	KeepArtifacts     bool          `yaml:"keep_artifacts"`
}

// StatusConfig controls the HTTP status endpoint. An empty address
// disables it.
type StatusConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig matches a source build of E in ./eprover with no
// telemetry export.
func DefaultConfig() Config {
	p := solver.DefaultProver()
	return Config{
		Prover: ProverConfig{
			Dir:               p.Dir,
			FirstOrder:        p.FirstOrder,
			HigherOrder:       p.HigherOrder,
			StrategyArgs:      p.StrategyArgs,
			ParseStrategyFlag: p.ParseStrategyFlag,
		},
		Classify: ClassifyConfig{
			SuccessMarkers: append([]string(nil), solver.DefaultSuccessMarkers...),
			MetricPattern:  solver.DefaultMetricPattern,
			TailBytes:      solver.DefaultTailBytes,
		},
		Scheduler: SchedulerConfig{
			Workers:       4,
			ProgressEvery: scheduler.DefaultProgressEvery,
			CheckpointDir: ".",
			ArgsSuffix:    scheduler.DefaultArgsSuffix,
		},
		Learning: LearningConfig{
			DataDirEnv:        learning.DefaultDataDirEnv,
			MaxWeight:         master.DefaultMaxWeight,
			LockRetryInterval: lock.DefaultRetryInterval,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// SolverProver converts the prover section.
func (c ProverConfig) SolverProver() solver.Prover {
	return solver.Prover{
		Dir:               c.Dir,
		FirstOrder:        c.FirstOrder,
		HigherOrder:       c.HigherOrder,
		StrategyArgs:      c.StrategyArgs,
		ParseStrategyFlag: c.ParseStrategyFlag,
	}
}

// Classifier compiles the classify section.
func (c ClassifyConfig) Classifier() (solver.Classifier, error) {
	return solver.NewClassifier(c.SuccessMarkers, c.MetricPattern)
}

// Builder returns the master builder.
func (c LearningConfig) Builder() master.Builder {
	return master.Builder{MaxWeight: c.MaxWeight, UniformWeights: c.UniformWeights}
}

// LockOptions returns the data directory lock options.
func (c LearningConfig) LockOptions() lock.Options {
	return lock.Options{StaleAfter: c.LockStaleAfter, RetryInterval: c.LockRetryInterval}
}
