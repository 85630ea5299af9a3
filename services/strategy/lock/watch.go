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
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// releaseWatcher signals when a named file in a directory goes away.
//
// If the watcher cannot be created, released returns a nil channel and
// callers fall back to their ticker.
type releaseWatcher struct {
	watcher *fsnotify.Watcher
	name    string
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

func newWatcher(dir, name string, logger *slog.Logger) *releaseWatcher {
	rw := &releaseWatcher{
		name:   name,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("lock watcher unavailable, polling only", slog.String("error", err.Error()))
		close(rw.done)
		return rw
	}
	if err := w.Add(dir); err != nil {
		logger.Debug("lock watcher unavailable, polling only", slog.String("error", err.Error()))
		w.Close()
		close(rw.done)
		return rw
	}

	rw.watcher = w
	go rw.loop()
	return rw
}

func (rw *releaseWatcher) loop() {
	defer close(rw.done)
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != rw.name {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case rw.wake <- struct{}{}:
			default:
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Debug("lock watcher error", slog.String("error", err.Error()))
		}
	}
}

// released fires after the watched file is removed or renamed.
func (rw *releaseWatcher) released() <-chan struct{} {
	if rw.watcher == nil {
		return nil
	}
	return rw.wake
}

func (rw *releaseWatcher) close() {
	rw.once.Do(func() {
		if rw.watcher != nil {
			rw.watcher.Close()
		}
		<-rw.done
	})
}
