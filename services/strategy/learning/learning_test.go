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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/proverbatch/pkg/util"
	"github.com/jinterlante1206/proverbatch/services/batch/solver"
	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
	"github.com/jinterlante1206/proverbatch/services/strategy/lock"
	"github.com/jinterlante1206/proverbatch/services/strategy/master"
)

const theorem = "# SZS status Theorem\n# Processed clauses : 77\n"

// strategies maps a problem base name to what the solver prints for it.
var strategies = map[string]string{
	"a.p": "# strategy\n{\n ordertype: KBO6\n heuristic_def: \"(2.f1(x),1.f2(y))\"\n}\n",
	"b.p": "{\n ordertype: LPO4\n heuristic_def: \"(1.f1(x))\"\n}\n",
	"c.p": "{\n ordertype: KBO6\n heuristic_def: \"(3.f2(y))\"\n}\n",
	"dup.p": "ordertype: KBO6\nordertype: LPO4\n",
}

// fakeSolver answers strategy requests from the strategies table and
// reports a proof for every other run. masters collects the content of
// the master strategy file seen by each solving run.
type fakeSolver struct {
	mu      sync.Mutex
	masters []string
}

func (f *fakeSolver) run(ctx context.Context, inv solver.Invocation) (*solver.Result, error) {
	fields := strings.Fields(inv.Line)
	problem := filepath.Base(fields[len(fields)-1])

	if strings.Contains(inv.Line, "--print-strategy") {
		text, ok := strategies[problem]
		if !ok {
			return nil, errors.New("no such problem")
		}
		return &solver.Result{Stdout: []byte(text)}, nil
	}

	for _, field := range fields {
		if path, ok := strings.CutPrefix(field, "--parse-strategy="); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			f.mu.Lock()
			f.masters = append(f.masters, string(data))
			f.mu.Unlock()
		}
	}
	if inv.Stdout != nil {
		_, _ = inv.Stdout.Write([]byte(theorem))
	}
	return &solver.Result{Stdout: []byte(theorem)}, nil
}

func newTestLearner(t *testing.T) (*Learner, *fakeSolver, *solver.MockProcessManager) {
	t.Helper()
	fs := &fakeSolver{}
	mock := &solver.MockProcessManager{RunFunc: fs.run}
	l := New(solver.DefaultProver(), mock)
	return l, fs, mock
}

func TestRun_Stateless(t *testing.T) {
	l, fs, mock := newTestLearner(t)
	var out bytes.Buffer

	rep, err := l.Run(context.Background(), Request{Problem: "probs/a.p", Args: "--auto", Stdout: &out})
	require.NoError(t, err)
	assert.True(t, rep.Solved)
	assert.Equal(t, int64(77), rep.Metric)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "./eprover/PROVER/eprover --auto probs/a.p", calls[0].Line)
	assert.Empty(t, fs.masters)
	assert.True(t, strings.HasPrefix(out.String(), "Running E without persistent data\n"))
	assert.Contains(t, out.String(), "SZS status Theorem")
}

func TestRun_Persistent(t *testing.T) {
	l, fs, mock := newTestLearner(t)
	dataDir := t.TempDir()
	var out bytes.Buffer

	rep, err := l.Run(context.Background(), Request{
		Problem:     "probs/a.p",
		HigherOrder: true,
		Args:        "--auto",
		DataDir:     dataDir,
		Stdout:      &out,
	})
	require.NoError(t, err)
	assert.True(t, rep.Solved)
	assert.True(t, strings.HasPrefix(out.String(), "Running E with persistent data\n"))

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "./eprover/PROVER/eprover-ho --auto --print-strategy probs/a.p", calls[0].Line)
	masterPath := master.FilePath(dataDir, os.Getpid())
	assert.Equal(t, "./eprover/PROVER/eprover-ho --auto --parse-strategy="+masterPath+" probs/a.p", calls[1].Line)

	require.Len(t, fs.masters, 1)
	m, err := codec.Parse(fs.masters[0])
	require.NoError(t, err)
	v, _ := m.Get("ordertype")
	assert.Equal(t, codec.StringValue("KBO6"), v)
	v, _ = m.Get(codec.HeuristicKey)
	assert.Equal(t, codec.HeuristicValue(codec.Heuristic{{Weight: 10, Function: "f2(y)"}, {Weight: 20, Function: "f1(x)"}}), v)

	// Artifacts are gone, the lock is free and the history persisted.
	assert.NoFileExists(t, masterPath)
	assert.NoFileExists(t, filepath.Join(dataDir, TmpDirName, "a.p"))
	assert.NoFileExists(t, filepath.Join(dataDir, lock.FileName))

	h, err := history.NewStore(dataDir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Table("ordertype").Total())
}

func TestRun_HistoryAccumulates(t *testing.T) {
	l, fs, _ := newTestLearner(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	for _, p := range []string{"a.p", "b.p", "b.p"} {
		_, err := l.Run(ctx, Request{Problem: p, DataDir: dataDir})
		require.NoError(t, err)
	}

	require.Len(t, fs.masters, 3)
	last, err := codec.Parse(fs.masters[2])
	require.NoError(t, err)
	v, _ := last.Get("ordertype")
	assert.Equal(t, codec.StringValue("LPO4"), v)

	h, err := history.NewStore(dataDir, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Table("ordertype").Count(codec.StringValue("KBO6")))
	assert.Equal(t, 2, h.Table("ordertype").Count(codec.StringValue("LPO4")))
}

func TestRun_KeepArtifacts(t *testing.T) {
	l, _, _ := newTestLearner(t)
	l.KeepArtifacts = true
	dataDir := t.TempDir()

	_, err := l.Run(context.Background(), Request{Problem: "a.p", DataDir: dataDir})
	require.NoError(t, err)
	assert.FileExists(t, master.FilePath(dataDir, os.Getpid()))
	assert.FileExists(t, filepath.Join(dataDir, TmpDirName, "a.p"))
}

func TestRun_BadStrategy(t *testing.T) {
	l, _, mock := newTestLearner(t)
	dataDir := t.TempDir()

	_, err := l.Run(context.Background(), Request{Problem: "dup.p", DataDir: dataDir})
	require.Error(t, err)
	var dupErr *codec.DuplicateKeyError
	assert.True(t, errors.As(err, &dupErr))
	// The solver itself never ran and no lock is left behind.
	assert.Len(t, mock.Calls(), 1)
	assert.NoFileExists(t, filepath.Join(dataDir, lock.FileName))
	assert.NoFileExists(t, filepath.Join(dataDir, TmpDirName, "dup.p"))
}

// TestRun_StrategyCommandFails checks a failing strategy request surfaces
// the solver's exit code and stderr instead of an empty-strategy parse.
func TestRun_StrategyCommandFails(t *testing.T) {
	mock := &solver.MockProcessManager{
		RunFunc: func(ctx context.Context, inv solver.Invocation) (*solver.Result, error) {
			return &solver.Result{ExitCode: 3, Stderr: []byte("unknown option\n")}, nil
		},
	}
	l := New(solver.DefaultProver(), mock)

	_, err := l.Run(context.Background(), Request{Problem: "a.p", DataDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, 3, util.ExitCode(err))
	assert.Equal(t, "unknown option", util.ExtractStderr(err))
	assert.Len(t, mock.Calls(), 1)
}

func TestUpdateMaster_ConcurrentCyclesLoseNothing(t *testing.T) {
	l, _, _ := newTestLearner(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	cfg, err := codec.Parse(strategies["a.p"])
	require.NoError(t, err)

	const cycles = 8
	var wg sync.WaitGroup
	for i := 0; i < cycles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.UpdateMaster(ctx, dataDir, cfg)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h, err := history.NewStore(dataDir, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cycles, h.Table("ordertype").Total())
	assert.Equal(t, cycles, h.Table(codec.HeuristicKey).Total())
}

func TestUpdateMaster_LockHeldElsewhere(t *testing.T) {
	l, _, _ := newTestLearner(t)
	dataDir := t.TempDir()

	held := lock.ForDataDir(dataDir, lock.Options{})
	ok, err := held.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.UpdateMaster(ctx, dataDir, codec.NewConfiguration())
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}

func TestMergeOffline(t *testing.T) {
	l, _, mock := newTestLearner(t)
	dataDir := filepath.Join(t.TempDir(), OfflineDataDirName)

	res, err := l.MergeOffline(context.Background(), dataDir, []string{"probs/a.p", "probs/b.p", "probs/c.p"}, false, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Extracted)
	assert.Len(t, mock.Calls(), 3)
	assert.Equal(t, master.FilePath(dataDir, os.Getpid()), res.MasterPath)

	m, err := codec.ParseFile(res.MasterPath)
	require.NoError(t, err)
	v, _ := m.Get("ordertype")
	assert.Equal(t, codec.StringValue("KBO6"), v)
	// f1: 2+1 = 3, f2: 1+3 = 4. f2 scales to 20, f1 to ceil(3*20/4) = 15.
	// Parsing lists terms by ascending weight.
	v, _ = m.Get(codec.HeuristicKey)
	assert.Equal(t, codec.HeuristicValue(codec.Heuristic{{Weight: 15, Function: "f1(x)"}, {Weight: 20, Function: "f2(y)"}}), v)

	assert.Equal(t, []string{"ordertype", codec.HeuristicKey}, res.History.Keys())
	// Nothing is persisted and extracted strategies are removed.
	assert.NoDirExists(t, filepath.Join(dataDir, history.DirName))
	entries, err := os.ReadDir(filepath.Join(dataDir, TmpDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMergeOffline_ExtractionError(t *testing.T) {
	l, _, _ := newTestLearner(t)
	_, err := l.MergeOffline(context.Background(), t.TempDir(), []string{"a.p", "missing.p"}, false, 1)
	assert.Error(t, err)
}

func TestDataDirFromEnv(t *testing.T) {
	t.Setenv(DefaultDataDirEnv, "/data/x")
	assert.Equal(t, "/data/x", DataDirFromEnv(""))
	t.Setenv("PB_OTHER_DIR", "")
	assert.Equal(t, "", DataDirFromEnv("PB_OTHER_DIR"))
}
