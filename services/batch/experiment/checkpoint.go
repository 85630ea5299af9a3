// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSuffix is appended to the experiment name to form the checkpoint
// file name.
const FileSuffix = ".results.json"

// CheckpointPath returns the checkpoint path for name inside dir.
func CheckpointPath(dir, name string) string {
	return filepath.Join(dir, name+FileSuffix)
}

// Save writes snap to its checkpoint file in dir and returns the path.
//
// # Description
//
// The file is written to a temporary name in the same directory and then
// renamed over the previous checkpoint, so readers only ever see a complete
// file and exactly one checkpoint exists per experiment. SavedAt is set on
// the written copy.
func Save(dir string, snap Snapshot) (string, error) {
	if snap.Name == "" {
		return "", errors.New("experiment name is required")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}

	snap.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	path := CheckpointPath(dir, snap.Name)
	tmp, err := os.CreateTemp(dir, "."+snap.Name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("replace checkpoint %s: %w", path, err)
	}
	return path, nil
}

// Load reads a checkpoint file.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if snap.Success == nil {
		snap.Success = make(map[string]bool)
	}
	if snap.Metric == nil {
		snap.Metric = make(map[string]int64)
	}
	return snap, nil
}
