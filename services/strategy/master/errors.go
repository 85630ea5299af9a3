// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package master

import "fmt"

// EmptyHeuristicHistoryError is returned when the heuristic table has no
// observations with a positive summed weight, so there is nothing to scale.
type EmptyHeuristicHistoryError struct {
	Key string
}

func (e *EmptyHeuristicHistoryError) Error() string {
	return fmt.Sprintf("no heuristic observations recorded for %s", e.Key)
}

// NoObservationError is returned when a scalar key has an empty frequency
// table.
type NoObservationError struct {
	Key string
}

func (e *NoObservationError) Error() string {
	return fmt.Sprintf("no observations recorded for %s", e.Key)
}

// MissingFixedKeyError is returned when a builder with a fixed configuration
// needs a key the fixed configuration does not define.
type MissingFixedKeyError struct {
	Key string
}

func (e *MissingFixedKeyError) Error() string {
	return fmt.Sprintf("fixed configuration has no value for %s", e.Key)
}

var (
	_ error = (*EmptyHeuristicHistoryError)(nil)
	_ error = (*NoObservationError)(nil)
	_ error = (*MissingFixedKeyError)(nil)
)
