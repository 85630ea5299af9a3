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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/proverbatch/cmd/proverbatch/config"
	"github.com/jinterlante1206/proverbatch/pkg/util"
	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/strategy/history"
	"github.com/jinterlante1206/proverbatch/services/strategy/learning"
)

// childEnv makes the test binary act as proverbatch itself, so run can
// start real wrap child processes.
const childEnv = "PROVERBATCH_TEST_AS_CLI"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// fakeProver prints a fixed strategy when asked for one, and otherwise
// proves every problem whose file contains THEOREM.
const fakeProver = `#!/bin/sh
for last; do :; done
case "$*" in
*--print-strategy*)
  printf '{\n ordertype: KBO6\n heuristic_def: "(2.f1(x),1.f2(y))"\n}\n'
  exit 0 ;;
esac
echo "args: $*"
if grep -q THEOREM "$last"; then
  printf '# SZS status Theorem\n# Processed clauses : 42\n'
else
  printf '# SZS status GaveUp\n'
fi
`

type fixture struct {
	root     string
	config   string
	problems string
	ckpt     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake prover is a shell script")
	}
	root := t.TempDir()
	f := fixture{
		root:     root,
		config:   filepath.Join(root, "proverbatch.yaml"),
		problems: filepath.Join(root, "probs"),
		ckpt:     filepath.Join(root, "ckpt"),
	}

	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "eprover"), []byte(fakeProver), 0o755))

	require.NoError(t, os.MkdirAll(f.problems, 0o750))
	for name, body := range map[string]string{"a.p": "THEOREM", "b.p": "open", "c.p": "THEOREM"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.problems, name), []byte(body), 0o600))
	}

	cfg := fmt.Sprintf("prover:\n  dir: %s\nscheduler:\n  checkpoint_dir: %s\n", bin, f.ckpt)
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))
	return f
}

func (f fixture) problem(name string) string {
	return filepath.Join(f.problems, name)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("stderr:\n%s", errOut.String())
		}
	})
	return out.String(), err
}

func TestWrap_Stateless(t *testing.T) {
	f := newFixture(t)
	t.Setenv(learning.DefaultDataDirEnv, "")

	out, err := execute(t, "", "--config", f.config, "wrap", f.problem("a.p"), "--e-args=--auto")
	require.NoError(t, err)
	assert.Contains(t, out, "Running E without persistent data")
	assert.Contains(t, out, "args: --auto "+f.problem("a.p"))
	assert.Contains(t, out, "SZS status Theorem")
}

func TestWrap_Persistent(t *testing.T) {
	f := newFixture(t)
	dataDir := filepath.Join(f.root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o750))
	t.Setenv(learning.DefaultDataDirEnv, dataDir)

	out, err := execute(t, "", "--config", f.config, "wrap", f.problem("b.p"), "--e-args=--auto")
	require.NoError(t, err)
	assert.Contains(t, out, "Running E with persistent data")
	assert.Contains(t, out, "--parse-strategy="+filepath.Join(dataDir, "MASTER."))
	assert.Contains(t, out, "SZS status GaveUp")

	h, err := history.NewStore(dataDir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Table("ordertype").Total())

	masters, err := filepath.Glob(filepath.Join(dataDir, "MASTER.*"))
	require.NoError(t, err)
	assert.Empty(t, masters, "master strategy is removed after the run")
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	t.Setenv(childEnv, "1")
	t.Setenv(learning.DefaultDataDirEnv, "")
	dataDir := filepath.Join(f.root, "data")

	out, err := execute(t, "", "--config", f.config,
		"run", "exp", f.problems,
		"--e-args=--auto", "--use-data-dir", "--data-dir", dataDir, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Experiment exp")

	snap, err := experiment.Load(experiment.CheckpointPath(f.ckpt, "exp"))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		f.problem("a.p"): true,
		f.problem("b.p"): false,
		f.problem("c.p"): true,
	}, snap.Success)
	assert.Equal(t, int64(42), snap.Metric[f.problem("a.p")])
	assert.True(t, snap.Finished)
	assert.True(t, snap.UseDataDir)

	h, err := history.NewStore(dataDir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.Table("ordertype").Total(), "every child merged its strategy")
}

// TestRun_IgnoresInheritedDataDir checks that without --use-data-dir the
// children do not learn from a data dir variable set in the parent.
func TestRun_IgnoresInheritedDataDir(t *testing.T) {
	f := newFixture(t)
	t.Setenv(childEnv, "1")
	inherited := filepath.Join(f.root, "inherited")
	require.NoError(t, os.MkdirAll(inherited, 0o750))
	t.Setenv(learning.DefaultDataDirEnv, inherited)

	_, err := execute(t, "", "--config", f.config, "run", "exp", f.problems, "--e-args=--auto")
	require.NoError(t, err)

	snap, err := experiment.Load(experiment.CheckpointPath(f.ckpt, "exp"))
	require.NoError(t, err)
	_, solved := snap.Counts()
	assert.Equal(t, 2, solved)
	assert.NoDirExists(t, filepath.Join(inherited, history.DirName))
	assert.NoDirExists(t, filepath.Join(inherited, learning.TmpDirName))
}

func TestRun_Resume(t *testing.T) {
	f := newFixture(t)
	cfg := experiment.Config{Name: "exp", Path: f.problems, Args: "--auto"}
	problems, err := experiment.ListProblems(f.problems)
	require.NoError(t, err)

	prev := experiment.New(cfg, problems)
	for _, p := range problems {
		prev.RecordFailure(p)
	}
	_, err = experiment.Save(f.ckpt, prev.Snapshot())
	require.NoError(t, err)

	_, err = execute(t, "", "--config", f.config, "run", "exp", f.problems, "--e-args=--auto", "--resume")
	require.NoError(t, err)

	snap, err := experiment.Load(experiment.CheckpointPath(f.ckpt, "exp"))
	require.NoError(t, err)
	assert.True(t, snap.Finished)
	assert.NotEqual(t, prev.Snapshot().RunID, snap.RunID)
	assert.Len(t, snap.Success, 3)

	_, err = execute(t, "", "--config", f.config, "run", "exp", f.problems, "--e-args=--other", "--resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was written for")
}

func TestRun_NoProblems(t *testing.T) {
	f := newFixture(t)
	empty := filepath.Join(f.root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o750))

	_, err := execute(t, "", "--config", f.config, "run", "exp", empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no problem files")
}

func TestMerge(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "", "--config", f.config, "merge", "merged", f.problems, "--e-args=--auto", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "merged 3 strategies into")

	masters, err := filepath.Glob(filepath.Join(learning.OfflineDataDir(f.problems), "MASTER.*.strat"))
	require.NoError(t, err)
	require.Len(t, masters, 1)

	snap, err := experiment.Load(experiment.CheckpointPath(f.ckpt, "merged"))
	require.NoError(t, err)
	assert.Equal(t, "--parse-strategy="+masters[0]+" --auto", snap.Args)
	assert.False(t, snap.UseDataDir)
	attempted, solved := snap.Counts()
	assert.Equal(t, 3, attempted)
	assert.Equal(t, 2, solved)
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	s := experiment.New(experiment.Config{Name: "exp", Path: f.problems}, []string{"a.p", "b.p", "c.p"})
	s.RecordSuccess("a.p", 10, true)
	s.RecordSuccess("c.p", 20, true)
	s.RecordFailure("b.p")
	path, err := experiment.Save(f.ckpt, s.Snapshot())
	require.NoError(t, err)

	out, err := execute(t, "", "--config", f.config, "inspect", path, "--solved")
	require.NoError(t, err)
	assert.Contains(t, out, "Experiment exp")
	assert.Contains(t, out, "2 / 3 (66.67%)")
	assert.Contains(t, out, "Average metric: 15.00")
	assert.Contains(t, out, "Solved problems\n  a.p\n  c.p\n")

	// A bare name is looked up in the configured checkpoint directory.
	out, err = execute(t, "", "--config", f.config, "inspect", "exp", "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, "Solved: 2 / 3 (66.67%)")

	_, err = execute(t, "", "--config", f.config, "inspect", "missing")
	assert.Error(t, err)
}

func TestHistoryAndReset(t *testing.T) {
	f := newFixture(t)
	dataDir := filepath.Join(f.root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o750))
	t.Setenv(learning.DefaultDataDirEnv, dataDir)

	_, err := execute(t, "", "--config", f.config, "wrap", f.problem("a.p"))
	require.NoError(t, err)

	out, err := execute(t, "", "--config", f.config, "history", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "ordertype")
	assert.Contains(t, out, "1 observations, 1 distinct")
	assert.Contains(t, out, "Master strategy")

	out, err = execute(t, "n\n", "--config", f.config, "reset", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "aborted")
	assert.DirExists(t, filepath.Join(dataDir, history.DirName))

	out, err = execute(t, "", "--config", f.config, "reset", dataDir, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "history reset")
	assert.NoDirExists(t, filepath.Join(dataDir, history.DirName))
}

func TestSetup_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "", "--config", f.config, "--log-format", "xml", "inspect", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")

	_, err = execute(t, "", "--config", f.config, "--log-level", "loud", "inspect", "x")
	require.Error(t, err)

	bad := filepath.Join(f.root, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scheduler:\n  workers: 0\n"), 0o600))
	_, err = execute(t, "", "--config", bad, "inspect", "x")
	require.Error(t, err)
}

func TestChildFlags(t *testing.T) {
	resetFlags()
	got, err := childFlags()
	require.NoError(t, err)
	assert.Equal(t, []string{"--log-level", "info", "--log-format", "text"}, got)

	configPath = "proverbatch.yaml"
	logDir = "/var/log/pb"
	got, err = childFlags()
	require.NoError(t, err)
	abs, err := filepath.Abs("proverbatch.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"--config", abs, "--log-level", "info", "--log-format", "text", "--log-dir", "/var/log/pb"}, got)
	resetFlags()
}

func TestRun_RejectsUnsafeInputs(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "", "--config", f.config, "run", "../escape", f.problems)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid experiment name")

	_, err = execute(t, "", "--config", f.config, "run", "exp", f.problems, "--e-args=--auto; id")
	require.Error(t, err)

	_, err = execute(t, "", "--config", f.config, "wrap", f.problem("a.p"), "--e-args=--auto > /tmp/x")
	require.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "proverbatch.yaml")

	out, err := execute(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, found, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = execute(t, "", "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "", "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestSetup_MissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "inspect", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, 1, exitStatus(errors.New("boom")))
	assert.Equal(t, 1, exitStatus(util.NewCommandError("eprover p.p", -1, "", nil)))
	assert.Equal(t, 3, exitStatus(fmt.Errorf("attempt p.p: %w", util.NewCommandError("eprover p.p", 3, "", nil))))
}
