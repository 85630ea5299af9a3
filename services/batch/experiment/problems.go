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
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ProblemExt is the extension of problem files.
const ProblemExt = ".p"

// ListProblems returns the problem files directly inside dir, sorted.
func ListProblems(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("problem directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("problem directory %s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ProblemExt))
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
