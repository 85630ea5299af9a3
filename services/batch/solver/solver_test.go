// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/proverbatch/pkg/util"
)

const solvedOutput = `# Initializing proof state
# Proof found!
# SZS status Theorem
# Processed clauses                    : 1234
# Generated clauses                    : 99999
`

func TestProverCommand(t *testing.T) {
	p := DefaultProver()

	tests := []struct {
		name     string
		higher   bool
		args     string
		strategy string
		problem  string
		want     string
	}{
		{"stateless", false, "--auto -l2", "", "probs/a.p",
			"./eprover/PROVER/eprover --auto -l2 probs/a.p"},
		{"higher order with master", true, "--auto", "/data/MASTER.7.strat", "b.p",
			"./eprover/PROVER/eprover-ho --auto --parse-strategy=/data/MASTER.7.strat b.p"},
		{"no args", false, "  ", "", "c.p",
			"./eprover/PROVER/eprover c.p"},
		{"quoted problem", false, "", "", "my dir/it's.p",
			`./eprover/PROVER/eprover 'my dir/it'\''s.p'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Command(tt.higher, tt.args, tt.strategy, tt.problem))
		})
	}

	assert.Equal(t, "./eprover/PROVER/eprover --auto --print-strategy x.p", p.StrategyCommand(false, "x.p"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "a/b.p", ShellQuote("a/b.p"))
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "'--auto -l2'", ShellQuote("--auto -l2"))
	assert.Equal(t, `'a'\''b'`, ShellQuote("a'b"))
}

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name      string
		stdout    string
		solved    bool
		metric    int64
		metricErr bool
	}{
		{"theorem with metric", solvedOutput, true, 1234, false},
		{"unsatisfiable", "# SZS status Unsatisfiable\n# Processed clauses : 7\n", true, 7, false},
		{"solved without metric", "# SZS status Theorem\n", true, 0, true},
		{"gave up", "# SZS status GaveUp\n# Processed clauses : 7\n", false, 0, false},
		{"empty", "", false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.Classify(tt.stdout)
			assert.Equal(t, tt.solved, out.Solved)
			assert.Equal(t, tt.metric, out.Metric)
			assert.Equal(t, tt.metricErr, out.MetricErr != nil)
			assert.Equal(t, tt.solved && !tt.metricErr, out.HasMetric())
		})
	}
}

func TestNewClassifier(t *testing.T) {
	_, err := NewClassifier(DefaultSuccessMarkers, "no groups")
	assert.Error(t, err)
	_, err = NewClassifier(DefaultSuccessMarkers, "(")
	assert.Error(t, err)

	c, err := NewClassifier([]string{"DONE"}, `steps=(\d+)`)
	require.NoError(t, err)
	out := c.Classify("DONE steps=42")
	assert.True(t, out.HasMetric())
	assert.Equal(t, int64(42), out.Metric)
}

func TestOutputTail(t *testing.T) {
	assert.Equal(t, "abc", OutputTail("abc", 10))
	assert.Equal(t, "bc", OutputTail("abc", 2))
	assert.Equal(t, "", OutputTail("abc", 0))
	// "é" is two bytes; a cut in its middle moves forward to the next rune.
	assert.Equal(t, "z", OutputTail("éz", 2))
	assert.Equal(t, 3000, len(OutputTail(strings.Repeat("x", 5000), DefaultTailBytes)))
}

func TestRunner_WithMock(t *testing.T) {
	mock := &MockProcessManager{
		RunFunc: func(ctx context.Context, inv Invocation) (*Result, error) {
			if strings.Contains(inv.Line, "broken") {
				return nil, util.NewCommandError(inv.Line, -1, "", errors.New("exec format error"))
			}
			return &Result{Stdout: []byte(solvedOutput), ExitCode: 0}, nil
		},
	}
	r := NewRunner(mock)
	r.TailBytes = 10

	rep, err := r.Run(context.Background(), Invocation{Line: "ok.p"})
	require.NoError(t, err)
	assert.True(t, rep.Solved)
	assert.Equal(t, int64(1234), rep.Metric)
	assert.Len(t, rep.Tail, 10)

	rep, err = r.Run(context.Background(), Invocation{Line: "broken.p"})
	require.Error(t, err)
	var cmdErr *util.CommandError
	assert.True(t, errors.As(err, &cmdErr))
	assert.False(t, rep.Solved)
	assert.Equal(t, -1, rep.ExitCode)

	assert.Len(t, mock.Calls(), 2)
}

// TestDefaultProcessManager runs real shell commands.
func TestDefaultProcessManager(t *testing.T) {
	pm := NewDefaultProcessManager()
	ctx := context.Background()

	t.Run("stdout, stderr and tee", func(t *testing.T) {
		var tee bytes.Buffer
		res, err := pm.Run(ctx, Invocation{Line: "echo out; echo err >&2", Stdout: &tee})
		require.NoError(t, err)
		assert.Equal(t, "out\n", string(res.Stdout))
		assert.Equal(t, "err\n", string(res.Stderr))
		assert.Equal(t, "out\n", tee.String())
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		res, err := pm.Run(ctx, Invocation{Line: "echo partial; exit 3"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "partial\n", string(res.Stdout))
	})

	t.Run("environment override", func(t *testing.T) {
		env := util.NewEnvVars()
		require.NoError(t, env.Set("PROVERBATCH_TEST_VAR", "hello"))
		res, err := pm.Run(ctx, Invocation{Line: `printf %s "$PROVERBATCH_TEST_VAR"`, Env: env})
		require.NoError(t, err)
		assert.Equal(t, "hello", string(res.Stdout))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := pm.Run(cctx, Invocation{Line: "sleep 5"})
		var cmdErr *util.CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, -1, cmdErr.ExitCode)
	})
}
