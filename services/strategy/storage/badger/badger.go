// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded BadgerDB stores that back strategy
// history.
//
// History stores are short-lived: a learning cycle opens the store while it
// holds the data directory lock, reads or rewrites it, and closes it again.
// BadgerDB keeps its own directory lock, so two processes can never have the
// same store open at once; the cross-process strategy lock is what makes the
// open/update/close cycle wait instead of fail.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a history store.
type Config struct {
	// Path is the store directory. Required.
	Path string

	// SyncWrites fsyncs every commit. A history update must survive the
	// process exiting right after the lock is released.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger

	// CompactOnClose runs one value log GC pass before closing. Stores are
	// rewritten in full on every save, so garbage accumulates quickly.
	CompactOnClose bool

	// GCDiscardRatio is the minimum garbage ratio for the close-time pass.
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration used for on-disk history.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		CompactOnClose: true,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB instance with the close-time compaction policy.
type DB struct {
	*badger.DB
	cfg Config
}

// Open opens (creating if needed) the store described by cfg.
//
// # Description
//
// Creates the directory for persistent stores. Only one process may have a
// given directory open; a second Open fails with BadgerDB's directory lock
// error until the first closes.
//
// # Outputs
//
//   - *DB: The opened store. Caller must call Close.
//   - error: Non-nil if the path is missing or the store cannot be opened.
//
// # Thread Safety
//
// The returned *DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("path is required for persistent history store")
	}

	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
	}

	opts := badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &DB{DB: db, cfg: cfg}, nil
}

// Close compacts the value log if configured and closes the store.
func (d *DB) Close() error {
	if d.cfg.CompactOnClose {
		d.compact()
	}
	return d.DB.Close()
}

func (d *DB) compact() {
	err := d.DB.RunValueLogGC(d.cfg.GCDiscardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return
	}
	if d.cfg.Logger != nil {
		d.cfg.Logger.Warn("history value log GC failed", slog.String("error", err.Error()))
	}
}

// WithTxn runs fn in a read-write transaction and commits if fn returns nil.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// Exists reports whether path holds a history store.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat history store %s: %w", path, err)
}

// Remove deletes the store directory. A missing directory is not an error.
func Remove(path string) error {
	if path == "" {
		return errors.New("path is required")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove history store %s: %w", path, err)
	}
	return nil
}
