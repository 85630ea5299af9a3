// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "PROVERBATCH_LOCK_HELPER_PATH"

// TestMain lets the test binary double as a second process that tries the
// lock once and prints the result.
func TestMain(m *testing.M) {
	if path := os.Getenv(helperEnv); path != "" {
		ok, err := New(path, Options{}).Acquire()
		if err != nil {
			fmt.Println("error:", err)
			os.Exit(2)
		}
		fmt.Println(strconv.FormatBool(ok))
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	return ForDataDir(t.TempDir(), Options{RetryInterval: 20 * time.Millisecond})
}

func TestAcquireRelease(t *testing.T) {
	l := newTestLock(t)

	ok, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), l.HolderPID())

	ok, err = l.Acquire()
	require.NoError(t, err)
	assert.False(t, ok, "lock must not be reentrant")

	l.Release()
	assert.Equal(t, 0, l.HolderPID())

	ok, err = l.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
	l.Release()
}

func TestRelease_MissingFileIsSwallowed(t *testing.T) {
	l := newTestLock(t)
	assert.NotPanics(t, l.Release)
}

func TestAcquire_MissingDirectory(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nope", FileName), Options{})
	ok, err := l.Acquire()
	assert.False(t, ok)
	assert.Error(t, err)
}

// TestAcquire_MutualExclusion races many goroutines on one path.
func TestAcquire_MutualExclusion(t *testing.T) {
	dir := t.TempDir()
	const n = 32

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := ForDataDir(dir, Options{}).Acquire()
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// TestWait_SerializesCriticalSections checks no two holders overlap.
func TestWait_SerializesCriticalSections(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := ForDataDir(dir, Options{RetryInterval: 5 * time.Millisecond})
			if !assert.NoError(t, l.Wait(ctx)) {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
}

func TestWait_WakesOnRelease(t *testing.T) {
	dir := t.TempDir()
	holder := ForDataDir(dir, Options{})
	ok, err := holder.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	waiter := ForDataDir(dir, Options{RetryInterval: time.Minute})
	done := make(chan error, 1)
	go func() { done <- waiter.Wait(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	holder.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by release")
	}
	waiter.Release()
}

func TestWait_ContextCancelled(t *testing.T) {
	l := newTestLock(t)
	ok, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = New(l.Path(), Options{RetryInterval: 10 * time.Millisecond}).Wait(ctx)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAcquire_StaleLock(t *testing.T) {
	deadPID := func(t *testing.T) int {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		require.NoError(t, cmd.Run())
		return cmd.Process.Pid
	}
	age := func(t *testing.T, path string) {
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))
	}

	t.Run("dead holder is broken", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644))
		age(t, path)

		l := ForDataDir(dir, Options{StaleAfter: time.Minute})
		ok, err := l.Acquire()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), l.HolderPID())
	})

	t.Run("live holder is kept", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))
		age(t, path)

		ok, err := ForDataDir(dir, Options{StaleAfter: time.Minute}).Acquire()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("young lock is kept", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644))

		ok, err := ForDataDir(dir, Options{StaleAfter: time.Hour}).Acquire()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("disabled by default", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644))
		age(t, path)

		ok, err := ForDataDir(dir, Options{}).Acquire()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty file waits for age", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		l := ForDataDir(dir, Options{StaleAfter: time.Minute})
		ok, err := l.Acquire()
		require.NoError(t, err)
		assert.False(t, ok, "a fresh lock without a PID belongs to a holder still writing it")

		age(t, path)
		ok, err = l.Acquire()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), l.HolderPID())
	})
}

// TestAcquire_ConcurrentStaleBreakers races many breakers against one stale
// lock. Only one may hold the lock at any moment and no tombstones remain.
func TestAcquire_ConcurrentStaleBreakers(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	dead := cmd.Process.Pid

	for round := 0; round < 5; round++ {
		dir := t.TempDir()
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(dead)), 0o644))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))

		const n = 16
		var (
			wg      sync.WaitGroup
			holders atomic.Int32
			peak    atomic.Int32
			wins    atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l := ForDataDir(dir, Options{StaleAfter: time.Minute})
				<-start
				ok, err := l.Acquire()
				assert.NoError(t, err)
				if !ok {
					return
				}
				wins.Add(1)
				cur := holders.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				// Hold without releasing so a late breaker sees a young,
				// live lock rather than a free path.
				time.Sleep(5 * time.Millisecond)
				holders.Add(-1)
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), peak.Load(), "round %d", round)
		assert.Equal(t, int32(1), wins.Load(), "round %d", round)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".stale.", "round %d", round)
		}
	}
}

// TestAcquire_CrossProcess checks exclusion against a real second process.
func TestAcquire_CrossProcess(t *testing.T) {
	l := newTestLock(t)

	tryFromChild := func() string {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(), helperEnv+"="+l.Path())
		out, err := cmd.Output()
		require.NoError(t, err)
		return strings.TrimSpace(string(out))
	}

	ok, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "false", tryFromChild())

	l.Release()
	assert.Equal(t, "true", tryFromChild())

	// The child exited while holding the lock; its PID stays in the file.
	assert.NotEqual(t, os.Getpid(), l.HolderPID())
	assert.NotZero(t, l.HolderPID())
}
