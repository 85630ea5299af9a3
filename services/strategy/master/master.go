// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package master derives a single master strategy from a strategy history.
package master

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
)

// DefaultMaxWeight is the heuristic weight the most important function is
// scaled to.
const DefaultMaxWeight = 20

// KeepPart selects which part of the master strategy is learned when the
// builder also has a fixed configuration.
type KeepPart int

const (
	// KeepHeuristic learns the heuristic list and takes scalars from Fixed.
	KeepHeuristic KeepPart = iota

	// KeepScalars learns the scalar keys and takes the heuristic from Fixed.
	KeepScalars
)

// Builder turns a history into a master configuration.
//
// # Description
//
// The zero value is ready to use: every scalar key gets its majority
// value, and the heuristic list is summed and rescaled to DefaultMaxWeight.
//
// Fixed and Keep replace one half of the result with the values of a fixed
// configuration. This is used to measure how much each half contributes.
//
// # Thread Safety
//
// A Builder is immutable during Build and can be shared.
type Builder struct {
	// MaxWeight is the scaled weight of the heaviest function. Zero means
	// DefaultMaxWeight.
	MaxWeight int

	// UniformWeights sets every function's weight to 1 after ordering.
	UniformWeights bool

	// Fixed, when set, supplies the part not selected by Keep.
	Fixed *codec.Configuration

	// Keep selects which part is learned when Fixed is set.
	Keep KeepPart
}

// Build derives the master configuration from h.
//
// # Description
//
// Keys appear in the history's first-observed order. For each scalar key
// the value with the highest count wins; among equal counts the value
// observed first wins. The heuristic key is built by BuildHeuristic.
//
// # Outputs
//
//   - *codec.Configuration: The master configuration.
//   - error: *NoObservationError, *EmptyHeuristicHistoryError or
//     *MissingFixedKeyError.
func (b Builder) Build(h *history.History) (*codec.Configuration, error) {
	out := codec.NewConfiguration()

	for _, key := range h.Keys() {
		learned := b.Fixed == nil ||
			(key == codec.HeuristicKey) == (b.Keep == KeepHeuristic)

		if !learned {
			v, ok := b.Fixed.Get(key)
			if !ok {
				return nil, &MissingFixedKeyError{Key: key}
			}
			out.Set(key, v)
			continue
		}

		table := h.Table(key)
		if key == codec.HeuristicKey {
			terms, err := b.BuildHeuristic(table)
			if err != nil {
				return nil, err
			}
			out.Set(key, codec.HeuristicValue(terms))
			continue
		}

		v, err := Majority(key, table)
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	return out, nil
}

// Majority returns the most observed value of table. Ties go to the value
// observed first.
func Majority(key string, table *history.FrequencyTable) (codec.Value, error) {
	var (
		best  codec.Value
		count int
	)
	for _, e := range table.Entries() {
		if e.Count > count {
			best, count = e.Value, e.Count
		}
	}
	if count == 0 {
		return codec.Value{}, &NoObservationError{Key: key}
	}
	return best, nil
}

// BuildHeuristic merges every observed heuristic list in table.
//
// # Description
//
// For each function, sums weight times observation count across all
// observed lists. Each sum s becomes ceil(s * MaxWeight / max), so every
// result lies in [1, MaxWeight] and the heaviest function gets exactly
// MaxWeight. The result is ordered by descending weight; equal weights keep
// the order in which functions were first observed.
//
// # Example
//
//	lists {(3,f1),(1,f2)} x2 and {(3,f1)} x1 sum to f1=9, f2=2
//	and scale to [(20,f1),(5,f2)].
func (b Builder) BuildHeuristic(table *history.FrequencyTable) (codec.Heuristic, error) {
	maxWeight := b.MaxWeight
	if maxWeight <= 0 {
		maxWeight = DefaultMaxWeight
	}

	var order []string
	sums := make(map[string]int64)
	for _, e := range table.Entries() {
		for _, term := range e.Value.Heuristic {
			if _, ok := sums[term.Function]; !ok {
				order = append(order, term.Function)
			}
			sums[term.Function] += int64(term.Weight) * int64(e.Count)
		}
	}

	var peak int64
	for _, s := range sums {
		if s > peak {
			peak = s
		}
	}
	if peak <= 0 {
		return nil, &EmptyHeuristicHistoryError{Key: codec.HeuristicKey}
	}

	out := make(codec.Heuristic, 0, len(order))
	for _, fn := range order {
		scaled := (sums[fn]*int64(maxWeight) + peak - 1) / peak
		out = append(out, codec.Term{Weight: int(scaled), Function: fn})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })

	if b.UniformWeights {
		for i := range out {
			out[i].Weight = 1
		}
	}
	return out, nil
}

// FilePath returns the master strategy path for process pid in dataDir.
// Each process writes its own file so concurrent workers never clobber
// each other's master while the solver is reading it.
func FilePath(dataDir string, pid int) string {
	return filepath.Join(dataDir, fmt.Sprintf("MASTER.%d.strat", pid))
}

// WriteFile serializes cfg to path.
func WriteFile(path string, cfg *codec.Configuration) error {
	if err := os.WriteFile(path, []byte(codec.Serialize(cfg)), 0o644); err != nil {
		return fmt.Errorf("write master strategy %s: %w", path, err)
	}
	return nil
}
