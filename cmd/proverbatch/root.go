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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/cmd/proverbatch/config"
	"github.com/jinterlante1206/proverbatch/pkg/logging"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/batch/telemetry"
)

const (
	serviceName       = "proverbatch"
	telemetryShutdown = 5 * time.Second
)

// session holds what PersistentPreRunE set up for the running command.
type session struct {
	cfg         config.Config
	configFound bool
	logger      *logging.Logger
	shutdown    func(context.Context) error
}

var current session

// setup loads the configuration and starts logging and telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, found, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	var asJSON bool
	switch logFormat {
	case "text":
	case "json":
		asJSON = true
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", logFormat)
	}

	logger, err := logging.New(logging.Config{
		Level:   level,
		JSON:    asJSON,
		Writer:  cmd.ErrOrStderr(),
		LogDir:  logDir,
		Service: serviceName,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Slog())

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = serviceName
	}
	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		_ = logger.Close()
		return err
	}

	current = session{cfg: cfg, configFound: found, logger: logger, shutdown: shutdown}
	slog.Debug("configuration loaded",
		slog.String("command", cmd.Name()),
		slog.Bool("config_file", found),
	)
	return nil
}

// teardown flushes telemetry and closes the log file.
func teardown(_ *cobra.Command, _ []string) error {
	var err error
	if current.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		err = current.shutdown(ctx)
		cancel()
		if err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if current.logger != nil {
		if cerr := current.logger.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	current = session{}
	return err
}

// newRunner returns a runner using the configured classifier.
func newRunner(cfg config.Config) (*solver.Runner, error) {
	classifier, err := cfg.Classify.Classifier()
	if err != nil {
		return nil, err
	}
	r := solver.NewRunner(solver.NewDefaultProcessManager())
	r.Classifier = classifier
	r.TailBytes = cfg.Classify.TailBytes
	return r, nil
}

// childFlags are the global flags a wrap child process needs to behave
// like its parent.
func childFlags() ([]string, error) {
	var out []string
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		out = append(out, "--config", abs)
	}
	out = append(out, "--log-level", logLevel, "--log-format", logFormat)
	if logDir != "" {
		out = append(out, "--log-dir", logDir)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
