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
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const indentUnit = "   "

// heuristicTerm matches one `weight.function(args)` entry. The separator
// may also be `*`, which some solver versions print.
var heuristicTerm = regexp.MustCompile(`([0-9]+)[.*](\w+\([^)]*\))`)

// Parse reads the solver's `key: value` strategy text.
//
// # Description
//
// Lines starting with '#', lines shorter than two visible characters and
// lines without a colon are skipped; brace lines fall out naturally. Each
// remaining line is split once on its first colon. Values are typed as
// bool, quoted string, int, float or bare string, in that order. The
// heuristic field is then re-read into weight/function pairs sorted by
// ascending weight (ties by function name).
//
// # Inputs
//
//   - text: Full strategy text as printed by the solver.
//
// # Outputs
//
//   - *Configuration: Keys in line order.
//   - error: *DuplicateKeyError or *MalformedHeuristicError.
func Parse(text string) (*Configuration, error) {
	cfg := NewConfiguration()

	var dups []string
	seenDup := make(map[string]bool)
	lines := 0

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") || len(strings.TrimSpace(line)) <= 1 || !strings.Contains(line, ":") {
			continue
		}
		lines++

		k, v, _ := strings.Cut(line, ":")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		if _, exists := cfg.Get(k); exists {
			if !seenDup[k] {
				seenDup[k] = true
				dups = append(dups, k)
			}
			continue
		}
		cfg.Set(k, parseScalar(v))
	}

	if len(dups) > 0 {
		return nil, &DuplicateKeyError{Keys: dups, Lines: lines, Distinct: cfg.Len()}
	}

	if raw, ok := cfg.Get(HeuristicKey); ok && raw.Kind != KindHeuristic {
		h, err := ParseHeuristic(raw.Literal())
		if err != nil {
			return nil, err
		}
		cfg.Set(HeuristicKey, HeuristicValue(h))
	}

	return cfg, nil
}

// ParseFile reads and parses a strategy file.
func ParseFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse strategy %s: %w", path, err)
	}
	return cfg, nil
}

// ParseHeuristic extracts every weight/function term from raw.
//
// An empty list, written `()` or left blank, is valid. Anything else that
// yields no terms, or a term whose weight is zero or overflows, is
// malformed.
func ParseHeuristic(raw string) (Heuristic, error) {
	matches := heuristicTerm.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		if body := strings.Trim(raw, "() \t\""); body != "" {
			return nil, &MalformedHeuristicError{Raw: raw, Reason: "no weight.function terms found"}
		}
		return Heuristic{}, nil
	}

	h := make(Heuristic, 0, len(matches))
	for _, m := range matches {
		w, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &MalformedHeuristicError{Raw: raw, Reason: fmt.Sprintf("weight %q: %v", m[1], err)}
		}
		if w <= 0 {
			return nil, &MalformedHeuristicError{Raw: raw, Reason: fmt.Sprintf("weight of %s must be positive", m[2])}
		}
		h = append(h, Term{Weight: w, Function: m[2]})
	}

	sort.SliceStable(h, func(i, j int) bool {
		if h[i].Weight != h[j].Weight {
			return h[i].Weight < h[j].Weight
		}
		return h[i].Function < h[j].Function
	})
	return h, nil
}

func parseScalar(v string) Value {
	switch {
	case v == "true":
		return BoolValue(true)
	case v == "false":
		return BoolValue(false)
	case len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`):
		return StringValue(v[1 : len(v)-1])
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err == nil {
		return IntValue(i)
	}
	// Digits beyond int64 stay text; as a float they would not write back
	// the same way.
	if errors.Is(err, strconv.ErrRange) {
		return StringValue(v)
	}
	if isHexNumber(v) {
		return StringValue(v)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return FloatValue(f)
	}
	return StringValue(v)
}

// isHexNumber reports whether v has a 0x prefix after an optional sign.
// ParseFloat accepts hex floats, but the solver format only has decimals.
func isHexNumber(v string) bool {
	v = strings.TrimLeft(v, "+-")
	return len(v) >= 2 && v[0] == '0' && (v[1] == 'x' || v[1] == 'X')
}

// Serialize writes cfg in the two-block layout the solver reads back.
//
// # Description
//
// The output opens two braces. Keys before SectionMarkerKey are indented
// two levels; the inner brace closes right before the marker and the
// remaining keys are indented one level. If the marker is absent the inner
// block is closed after the last key. Each line is `key:  value`.
//
// Quoting rules:
//
//   - heuristic lists are written as `"(w.f,w.f)"`
//   - QuotedKey and empty strings are always quoted
//   - strings that would otherwise read back as another type (or lose
//     surrounding whitespace) are quoted
func Serialize(cfg *Configuration) string {
	var b strings.Builder
	b.WriteString("{\n" + indentUnit + "{\n")

	depth := 2
	for _, k := range cfg.Keys() {
		if k == SectionMarkerKey && depth == 2 {
			depth = 1
			b.WriteString(indentUnit + "}\n")
		}
		v, _ := cfg.Get(k)
		b.WriteString(strings.Repeat(indentUnit, depth))
		b.WriteString(k)
		b.WriteString(":  ")
		b.WriteString(encodeValue(k, v))
		b.WriteString("\n")
	}
	if depth == 2 {
		b.WriteString(indentUnit + "}\n")
	}
	b.WriteString("}")
	return b.String()
}

func encodeValue(key string, v Value) string {
	switch v.Kind {
	case KindHeuristic:
		return `"` + v.Heuristic.String() + `"`
	case KindBool:
		return v.Literal()
	case KindString:
		if v.Str == "" || key == QuotedKey || needsQuotes(v.Str) {
			return `"` + v.Str + `"`
		}
		return v.Str
	default:
		if key == QuotedKey {
			return `"` + v.Literal() + `"`
		}
		return v.Literal()
	}
}

func needsQuotes(s string) bool {
	back := parseScalar(strings.TrimSpace(s))
	return back.Kind != KindString || back.Str != s
}
