// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by the proverbatch CLI.
//
// Every process (the batch runner and each wrapper child) logs to stderr,
// as text by default or JSON on request. A log directory can be added, in
// which case records are also appended as JSON to
// `{service}_{YYYY-MM-DD}.log`. This is how wrapper children, whose stderr
// is captured by the scheduler, leave a readable trail.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Config{Level: logging.LevelDebug})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Config configures a Logger. The zero value logs Info and above as text
// to stderr.
type Config struct {
	// Level is the minimum level written.
	Level Level

	// JSON selects JSON output for the primary writer.
	JSON bool

	// Writer is the primary destination. Defaults to os.Stderr.
	Writer io.Writer

	// LogDir, when set, also appends JSON records to a daily file there.
	// A leading ~ is expanded to the home directory.
	LogDir string

	// Service is added to every record and names the log file.
	Service string
}

// Logger owns a *slog.Logger and the optional log file behind it.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from config.
//
// # Outputs
//
//   - *Logger: Call Close to release the log file.
//   - error: Non-nil if LogDir is set but the file cannot be opened.
func New(config Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	w := config.Writer
	if w == nil {
		w = os.Stderr
	}

	var primary slog.Handler
	if config.JSON {
		primary = slog.NewJSONHandler(w, opts)
	} else {
		primary = slog.NewTextHandler(w, opts)
	}

	l := &Logger{}
	handler := primary

	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		service := config.Service
		if service == "" {
			service = "proverbatch"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		l.file = f
		handler = &multiHandler{handlers: []slog.Handler{primary, slog.NewJSONHandler(f, opts)}}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	l.slog = slog.New(handler)
	return l, nil
}

// Slog returns the underlying logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
