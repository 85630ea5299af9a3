// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes strategy history updates across OS processes.
//
// The lock is a file created with O_CREATE|O_EXCL inside the data
// directory. Its existence means "held"; its content is the holder's PID
// and is only used for diagnostics and the optional staleness check.
//
// A holder that crashes leaves the file behind. Unless StaleAfter is set,
// such a lock has to be removed by hand.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FileName is the lock file name inside a data directory.
const FileName = "lockfile"

// guardSuffix names the file that serializes stale lock checks. It is
// never removed.
const guardSuffix = ".guard"

// DefaultRetryInterval is the Wait fallback poll interval.
const DefaultRetryInterval = 100 * time.Millisecond

// ErrNotAcquired is returned by Wait when the context ends first.
var ErrNotAcquired = errors.New("strategy lock not acquired")

var (
	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proverbatch_strategy_lock_acquire_total",
		Help: "Strategy lock acquire attempts by result",
	}, []string{"result"})

	waitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proverbatch_strategy_lock_wait_seconds",
		Help:    "Time spent waiting for the strategy lock",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	staleBreaks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proverbatch_strategy_lock_stale_breaks_total",
		Help: "Stale strategy locks removed",
	})

	releaseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proverbatch_strategy_lock_release_failures_total",
		Help: "Strategy lock releases that failed to remove the lock file",
	})
)

// Options configures a Lock.
type Options struct {
	// StaleAfter, when positive, lets Acquire remove a lock file older than
	// this whose recorded holder is no longer running. Zero disables it.
	StaleAfter time.Duration

	// RetryInterval bounds how long Wait sleeps between attempts when no
	// file system event arrives. Zero means DefaultRetryInterval.
	RetryInterval time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Lock is a named cross-process mutex backed by a file path.
//
// # Description
//
// Acquire never blocks. Wait retries Acquire until it succeeds or its
// context ends, waking early when the lock file is removed. The lock is not
// reentrant: a second Acquire by the holder reports "not acquired".
//
// # Thread Safety
//
// Safe for concurrent use. Goroutines of one process contend exactly like
// separate processes do.
//
// # Example
//
//	l := lock.New(filepath.Join(dataDir, lock.FileName), lock.Options{})
//	if err := l.Wait(ctx); err != nil {
//	    return err
//	}
//	defer l.Release()
type Lock struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// New returns a lock for path. The lock is not acquired.
func New(path string, opts Options) *Lock {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{path: path, opts: opts, logger: logger.With(slog.String("lock", path))}
}

// ForDataDir returns the lock guarding dataDir's strategy history.
func ForDataDir(dataDir string, opts Options) *Lock {
	return New(filepath.Join(dataDir, FileName), opts)
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire tries once to create the lock file.
//
// # Outputs
//
//   - bool: True if this call now holds the lock.
//   - error: Non-nil only for failures other than "already held", such as
//     a missing directory or a permission error.
func (l *Lock) Acquire() (bool, error) {
	ok, err := l.tryCreate()
	if err != nil || ok {
		return ok, err
	}

	if l.opts.StaleAfter > 0 && l.breakIfStale() {
		ok, err = l.tryCreate()
		if err != nil || ok {
			return ok, err
		}
	}

	acquireTotal.WithLabelValues("contended").Inc()
	return false, nil
}

func (l *Lock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		acquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("create lock file %s: %w", l.path, err)
	}

	// The file's existence is the lock; a failed PID write only hurts
	// diagnostics.
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		l.logger.Warn("writing lock holder pid", slog.String("error", err.Error()))
	}
	if err := f.Close(); err != nil {
		l.logger.Warn("closing lock file", slog.String("error", err.Error()))
	}

	acquireTotal.WithLabelValues("acquired").Inc()
	return true, nil
}

// breakIfStale removes the lock file if it is older than StaleAfter and
// its recorded holder is not running. A file without a readable PID may
// belong to a holder that has not written it yet, so only age counts then.
// It reports whether it removed the lock.
//
// Breakers are serialized by a guard file next to the lock. The lock is
// renamed to a unique tombstone first and only deleted if the tombstone is
// the same file that was judged stale; otherwise it is put back.
func (l *Lock) breakIfStale() bool {
	unlock, err := guardBreak(l.path + guardSuffix)
	if err != nil {
		l.logger.Warn("checking for stale lock", slog.String("error", err.Error()))
		return false
	}
	defer unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	age := time.Since(info.ModTime())
	if age < l.opts.StaleAfter {
		return false
	}

	pid := l.HolderPID()
	if pid > 0 && processAlive(pid) {
		return false
	}

	tomb := fmt.Sprintf("%s.stale.%d.%s", l.path, os.Getpid(), uuid.NewString())
	if err := os.Rename(l.path, tomb); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("removing stale lock", slog.String("error", err.Error()))
		}
		return false
	}

	moved, err := os.Lstat(tomb)
	if err != nil || !os.SameFile(info, moved) {
		l.restore(tomb)
		return false
	}
	if err := os.Remove(tomb); err != nil {
		l.logger.Warn("removing stale lock tombstone", slog.String("error", err.Error()))
	}

	staleBreaks.Inc()
	l.logger.Warn("removed stale lock",
		slog.Int("holder_pid", pid),
		slog.Duration("age", age))
	return true
}

// restore puts back a lock file that was replaced between the staleness
// check and the rename. Link fails rather than overwrite a newer holder.
func (l *Lock) restore(tomb string) {
	if err := os.Link(tomb, l.path); err != nil {
		l.logger.Warn("restoring replaced lock", slog.String("error", err.Error()))
	}
	if err := os.Remove(tomb); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("removing lock tombstone", slog.String("error", err.Error()))
	}
}

// Release removes the lock file.
//
// Release is best-effort: a failure (for example the file is already gone)
// is logged and swallowed.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil {
		releaseFailures.Inc()
		l.logger.Warn("releasing strategy lock", slog.String("error", err.Error()))
	}
}

// HolderPID returns the PID recorded in the lock file, or 0 if the lock is
// not held or the content is unreadable.
func (l *Lock) HolderPID() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Wait blocks until the lock is acquired or ctx ends.
//
// # Description
//
// Watches the lock's directory with fsnotify and retries Acquire whenever
// the lock file is removed or renamed, with a RetryInterval ticker as a
// fallback for file systems that do not deliver events.
//
// # Outputs
//
//   - error: nil once held. ErrNotAcquired (wrapping ctx.Err()) if ctx ends
//     first, or the Acquire error for non-contention failures.
func (l *Lock) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() { waitDuration.Observe(time.Since(start).Seconds()) }()

	ok, err := l.Acquire()
	if err != nil || ok {
		return err
	}

	w := newWatcher(filepath.Dir(l.path), filepath.Base(l.path), l.logger)
	defer w.close()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		case <-w.released():
		case <-ticker.C:
		}

		ok, err := l.Acquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}
