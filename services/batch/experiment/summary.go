// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

const groupToken = "_prob_"

// GroupID returns the problem group of a problem path.
//
// Problem files are named like
// `20240720T040828_808bb49e_prob_E6AE79D3445F7F0A_133872092_1.p`; several
// files share the token after `_prob_`. Paths without the token are their
// own group, identified by base name.
func GroupID(problem string) string {
	if _, rest, ok := strings.Cut(problem, groupToken); ok {
		id, _, _ := strings.Cut(rest, "_")
		return id
	}
	return filepath.Base(problem)
}

// GroupStats counts distinct groups among attempted problems and among
// solved problems.
type GroupStats struct {
	Attempted int
	Solved    int
}

// Groups computes group statistics from a success map.
func Groups(success map[string]bool) GroupStats {
	attempted := make(map[string]struct{})
	solved := make(map[string]struct{})
	for p, ok := range success {
		g := GroupID(p)
		attempted[g] = struct{}{}
		if ok {
			solved[g] = struct{}{}
		}
	}
	return GroupStats{Attempted: len(attempted), Solved: len(solved)}
}

// GroupStats returns the group statistics of the current state.
func (s *State) GroupStats() GroupStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Groups(s.snap.Success)
}

// Percent formats 100*a/b rounded to two decimals, or "undefined" when b
// is zero.
func Percent(a, b int) string {
	if b == 0 {
		return "undefined"
	}
	v := math.Round(10000*float64(a)/float64(b)) / 100
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Summary renders the multi-line progress block of an experiment.
func (s Snapshot) Summary() string {
	attempted, solved := s.Counts()

	var b strings.Builder
	b.WriteString("\n" + strings.Repeat("#", 57) + "\n")
	fmt.Fprintf(&b, "Experiment: %s\n", s.Name)
	fmt.Fprintf(&b, "Path: %s\n", s.Path)
	fmt.Fprintf(&b, "Higher Order: %t\n", s.HigherOrder)
	fmt.Fprintf(&b, "Attempted: %d / %d (%s%%)\n", attempted, len(s.Problems), Percent(attempted, len(s.Problems)))
	fmt.Fprintf(&b, "Solved: %d / %d (%s%%)\n", solved, attempted, Percent(solved, attempted))
	fmt.Fprintf(&b, "Args: %q\n", s.Args)
	fmt.Fprintf(&b, "Finished: %t\n", s.Finished)
	fmt.Fprintf(&b, "Data dir: %t\n", s.UseDataDir)
	fmt.Fprintf(&b, "Average metric: %.2f\n", s.AverageMetric())
	return b.String()
}

// Summary renders the progress block of the current state.
func (s *State) Summary() string {
	return s.Snapshot().Summary()
}
