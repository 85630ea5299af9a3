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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMetricPattern captures the processed clause count.
const DefaultMetricPattern = `#\s*Processed clauses\s*:\s*(\d+)`

// DefaultSuccessMarkers are the SZS statuses that count as solved.
var DefaultSuccessMarkers = []string{"SZS status Theorem", "SZS status Unsatisfiable"}

// MetricExtractionError reports a solved run whose output lacks a usable
// metric line.
type MetricExtractionError struct {
	Pattern string
	Reason  string
}

func (e *MetricExtractionError) Error() string {
	return fmt.Sprintf("metric not extracted with %q: %s", e.Pattern, e.Reason)
}

var _ error = (*MetricExtractionError)(nil)

// Outcome is the verdict on one solver output.
type Outcome struct {
	// Solved is true if any success marker appeared.
	Solved bool

	// Metric is the extracted count. Meaningful only when Solved and
	// MetricErr is nil.
	Metric int64

	// MetricErr is set when Solved but the metric could not be read. The
	// run still counts as solved.
	MetricErr *MetricExtractionError
}

// HasMetric reports whether Metric holds an extracted value.
func (o Outcome) HasMetric() bool {
	return o.Solved && o.MetricErr == nil
}

// Classifier decides solved/unsolved and extracts the metric.
type Classifier struct {
	SuccessMarkers []string
	Metric         *regexp.Regexp
}

// DefaultClassifier uses DefaultSuccessMarkers and DefaultMetricPattern.
func DefaultClassifier() Classifier {
	return Classifier{
		SuccessMarkers: DefaultSuccessMarkers,
		Metric:         regexp.MustCompile(DefaultMetricPattern),
	}
}

// NewClassifier compiles pattern, which must have one capture group.
func NewClassifier(markers []string, pattern string) (Classifier, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Classifier{}, fmt.Errorf("compile metric pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return Classifier{}, fmt.Errorf("metric pattern %q has no capture group", pattern)
	}
	return Classifier{SuccessMarkers: markers, Metric: re}, nil
}

// Classify checks stdout for a success marker first and only then looks
// for the metric.
func (c Classifier) Classify(stdout string) Outcome {
	var out Outcome
	for _, m := range c.SuccessMarkers {
		if strings.Contains(stdout, m) {
			out.Solved = true
			break
		}
	}
	if !out.Solved {
		return out
	}

	match := c.Metric.FindStringSubmatch(stdout)
	if match == nil {
		out.MetricErr = &MetricExtractionError{Pattern: c.Metric.String(), Reason: "no matching line"}
		return out
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		out.MetricErr = &MetricExtractionError{Pattern: c.Metric.String(), Reason: err.Error()}
		return out
	}
	out.Metric = n
	return out
}

// OutputTail returns at most the last n bytes of s, starting on a rune
// boundary.
func OutputTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
