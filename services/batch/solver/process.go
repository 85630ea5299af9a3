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
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/jinterlante1206/proverbatch/pkg/util"
)

// Shell runs every invocation line. The solver's free-form argument
// string is passed through verbatim, so it keeps shell semantics.
const Shell = "/bin/sh"

// Invocation is one external process run.
type Invocation struct {
	// Line is the shell command line.
	Line string

	// Env overrides variables of the parent environment. May be nil.
	Env *util.EnvVars

	// Stdout, when set, also receives stdout as it is produced.
	Stdout io.Writer
}

// Result is what a finished process produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ProcessManager runs external processes.
//
// # Description
//
// All solver and wrapper executions go through this interface so batch
// logic can be tested without real processes.
//
// A process that ran and exited, with any status, is not an error: the
// solver reports its verdict on stdout and exits non-zero for ordinary
// failures. Run returns an error only when the process could not be
// started, was killed by a signal, or ctx ended.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProcessManager interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// DefaultProcessManager runs invocations through Shell with os/exec.
type DefaultProcessManager struct{}

// NewDefaultProcessManager returns the os/exec implementation.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes inv.Line with `/bin/sh -c` and waits for it.
func (pm *DefaultProcessManager) Run(ctx context.Context, inv Invocation) (*Result, error) {
	cmd := exec.CommandContext(ctx, Shell, "-c", inv.Line)
	if inv.Env != nil {
		cmd.Env = inv.Env.Apply(os.Environ())
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if inv.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, inv.Stdout)
	}
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, util.NewCommandError(inv.Line, -1, stderr.String(), err)
}

// MockProcessManager is a test double for ProcessManager.
//
// RunFunc must be set before Run is called. Calls are recorded; the mutex
// is not held while RunFunc executes, so concurrent runs really overlap.
//
// # Example
//
//	mock := &solver.MockProcessManager{
//	    RunFunc: func(ctx context.Context, inv solver.Invocation) (*solver.Result, error) {
//	        return &solver.Result{Stdout: []byte("# SZS status Theorem")}, nil
//	    },
//	}
type MockProcessManager struct {
	RunFunc func(ctx context.Context, inv Invocation) (*Result, error)

	mu    sync.Mutex
	calls []Invocation
}

// Run records inv and delegates to RunFunc.
func (m *MockProcessManager) Run(ctx context.Context, inv Invocation) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return fn(ctx, inv)
}

// Calls returns a copy of the recorded invocations.
func (m *MockProcessManager) Calls() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invocation, len(m.calls))
	copy(out, m.calls)
	return out
}

var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
