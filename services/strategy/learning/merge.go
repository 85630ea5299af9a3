// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package learning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
	"github.com/jinterlante1206/proverbatch/services/strategy/master"
)

// OfflineDataDirName is the data directory the offline merge creates under
// the problem directory by default.
const OfflineDataDirName = "data_dir"

// MergeResult is the outcome of an offline merge.
type MergeResult struct {
	// MasterPath is the written master strategy.
	MasterPath string

	// History holds every merged strategy. It is never persisted.
	History *history.History

	// Extracted is the number of problems whose strategy was merged.
	Extracted int
}

// MergeOffline builds one master strategy from the strategies of all
// problems.
//
// # Description
//
// Strategies are extracted in parallel with at most workers solver
// processes at once. Once all are available they are merged in problem
// order into a fresh in-memory history, so the master does not depend on
// completion order. No lock is taken: the history is private to this call.
//
// # Outputs
//
//   - MergeResult: Master path and the merged history.
//   - error: The first extraction error, which also cancels the remaining
//     extractions, or a build or write failure.
func (l *Learner) MergeOffline(ctx context.Context, dataDir string, problems []string, higherOrder bool, workers int) (MergeResult, error) {
	if workers < 1 {
		workers = 1
	}
	configs := make([]*codec.Configuration, len(problems))
	tmpPaths := make([]string, len(problems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range problems {
		g.Go(func() error {
			cfg, path, err := l.ExtractStrategy(gctx, dataDir, p, higherOrder)
			tmpPaths[i] = path
			if err != nil {
				return err
			}
			configs[i] = cfg
			return nil
		})
	}
	err := g.Wait()
	for _, p := range tmpPaths {
		if p != "" {
			l.cleanup(p)
		}
	}
	if err != nil {
		return MergeResult{}, fmt.Errorf("extract strategies: %w", err)
	}

	h := history.New()
	for _, cfg := range configs {
		h.Merge(cfg)
	}
	l.logger().Info("merged strategies",
		slog.Int("problems", len(problems)),
		slog.Int("keys", h.Len()),
	)

	m, err := l.Builder.Build(h)
	l.countBuild(ctx, err)
	if err != nil {
		return MergeResult{}, fmt.Errorf("build master: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return MergeResult{}, fmt.Errorf("create data directory: %w", err)
	}
	path := master.FilePath(dataDir, os.Getpid())
	if err := master.WriteFile(path, m); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{MasterPath: path, History: h, Extracted: len(problems)}, nil
}

// OfflineDataDir returns the default offline merge data directory for a
// problem directory.
func OfflineDataDir(problemDir string) string {
	return filepath.Join(problemDir, OfflineDataDirName)
}
