// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment holds the progress of one batch: which problems were
// attempted, which were solved, and the metric of each solved run.
//
// Snapshot is plain data and is what gets checkpointed. State wraps a
// Snapshot with a mutex for use while jobs are running; convert with
// State.Snapshot and FromSnapshot.
package experiment

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config identifies an experiment and how its jobs run.
type Config struct {
	// Name names the checkpoint file.
	Name string `json:"name"`

	// Path is the problem set directory.
	Path string `json:"path"`

	// HigherOrder selects the higher-order solver.
	HigherOrder bool `json:"higher_order"`

	// Args is the free-form solver argument string.
	Args string `json:"args"`

	// UseDataDir enables the persistent-learning path for every job.
	UseDataDir bool `json:"use_data_dir"`
}

// Snapshot is the serializable state of an experiment.
type Snapshot struct {
	Config

	// RunID identifies the scheduler run that last wrote the snapshot.
	RunID string `json:"run_id"`

	// Problems is the full problem list in submission order.
	Problems []string `json:"problems"`

	// Success has an entry for every attempted problem.
	Success map[string]bool `json:"success"`

	// Metric has an entry for every solved problem whose metric was read.
	Metric map[string]int64 `json:"metric"`

	// Finished is set once every job has completed.
	Finished bool `json:"finished"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`
}

// State is the live, concurrency-safe form of a Snapshot.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Each job writes only its own
// problem's entries.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New starts an experiment over problems with a fresh run id.
func New(cfg Config, problems []string) *State {
	p := make([]string, len(problems))
	copy(p, problems)
	return &State{snap: Snapshot{
		Config:   cfg,
		RunID:    uuid.NewString(),
		Problems: p,
		Success:  make(map[string]bool),
		Metric:   make(map[string]int64),
	}}
}

// FromSnapshot wraps a copy of s for further use.
func FromSnapshot(s Snapshot) *State {
	st := &State{snap: s.clone()}
	if st.snap.Success == nil {
		st.snap.Success = make(map[string]bool)
	}
	if st.snap.Metric == nil {
		st.snap.Metric = make(map[string]int64)
	}
	return st
}

// RecordSuccess marks problem solved. The metric is stored only when
// hasMetric is true.
func (s *State) RecordSuccess(problem string, metric int64, hasMetric bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Success[problem] = true
	if hasMetric {
		s.snap.Metric[problem] = metric
	} else {
		delete(s.snap.Metric, problem)
	}
}

// RecordFailure marks problem attempted and not solved.
func (s *State) RecordFailure(problem string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Success[problem] = false
	delete(s.snap.Metric, problem)
}

// SetRunID replaces the run id, used when a resumed run takes over.
func (s *State) SetRunID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RunID = id
}

// SetFinished sets the completion flag.
func (s *State) SetFinished(done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Finished = done
}

// Attempted reports whether problem has any result.
func (s *State) Attempted(problem string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snap.Success[problem]
	return ok
}

// Problems returns the problem list.
func (s *State) Problems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.snap.Problems))
	copy(out, s.snap.Problems)
	return out
}

// Config returns the experiment configuration.
func (s *State) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Config
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Counts returns the numbers of attempted and solved problems.
func (s *State) Counts() (attempted, solved int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Counts()
}

// Counts returns the numbers of attempted and solved problems.
func (s Snapshot) Counts() (attempted, solved int) {
	for _, ok := range s.Success {
		if ok {
			solved++
		}
	}
	return len(s.Success), solved
}

// AverageMetric is the mean metric over solved problems with a metric, or
// 0 if there are none.
func (s Snapshot) AverageMetric() float64 {
	if len(s.Metric) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.Metric {
		sum += v
	}
	return float64(sum) / float64(len(s.Metric))
}

// SolvedProblems returns the solved problems in sorted order.
func (s Snapshot) SolvedProblems() []string {
	var out []string
	for p, ok := range s.Success {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Problems != nil {
		out.Problems = make([]string, len(s.Problems))
		copy(out.Problems, s.Problems)
	}
	if s.Success != nil {
		out.Success = make(map[string]bool, len(s.Success))
		for k, v := range s.Success {
			out.Success[k] = v
		}
	}
	if s.Metric != nil {
		out.Metric = make(map[string]int64, len(s.Metric))
		for k, v := range s.Metric {
			out.Metric[k] = v
		}
	}
	return out
}
