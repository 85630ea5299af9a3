// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"fmt"
	"strings"
)

// DuplicateKeyError is returned when a strategy text defines a key twice.
type DuplicateKeyError struct {
	// Keys lists every key that appeared more than once, in first-seen order.
	Keys []string

	// Lines is the number of key/value lines read.
	Lines int

	// Distinct is the number of distinct keys among those lines.
	Distinct int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("strategy has duplicate keys (%d lines, %d distinct): %s",
		e.Lines, e.Distinct, strings.Join(e.Keys, ", "))
}

// MalformedHeuristicError is returned when the heuristic field cannot be
// turned into (weight, function) pairs.
type MalformedHeuristicError struct {
	Raw    string
	Reason string
}

func (e *MalformedHeuristicError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", HeuristicKey, e.Raw, e.Reason)
}

var (
	_ error = (*DuplicateKeyError)(nil)
	_ error = (*MalformedHeuristicError)(nil)
)
