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
	"math"
	"strconv"
	"strings"
)

// Kind identifies which member of the Value union is populated.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindHeuristic
)

// String returns the lowercase kind name used in persisted history entries.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindHeuristic:
		return "heuristic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "heuristic":
		return KindHeuristic, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Term is one (weight, function) pair of a heuristic list.
type Term struct {
	Weight   int    `json:"weight"`
	Function string `json:"function"`
}

// Heuristic is the ordered multi-valued heuristic field.
type Heuristic []Term

// String renders the list in the solver's `weight.function` form without quotes.
func (h Heuristic) String() string {
	parts := make([]string, len(h))
	for i, t := range h {
		parts[i] = strconv.Itoa(t.Weight) + "." + t.Function
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Value is a tagged union over the configuration value types.
//
// # Description
//
// Only the field selected by Kind is meaningful. Use the constructor
// functions rather than building Values by hand so that unused fields stay
// zero and Equal/Key behave.
//
// # Thread Safety
//
// Values are immutable once built; the Heuristic slice must not be mutated
// after construction.
type Value struct {
	Kind      Kind
	Bool      bool
	Int       int64
	Float     float64
	Str       string
	Heuristic Heuristic
}

func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// HeuristicValue copies terms into a new heuristic Value.
func HeuristicValue(terms Heuristic) Value {
	cp := make(Heuristic, len(terms))
	copy(cp, terms)
	return Value{Kind: KindHeuristic, Heuristic: cp}
}

// Literal returns the unquoted textual form of the value.
//
// Floats always carry a decimal point or exponent so they never read back
// as integers.
func (v Value) Literal() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindString:
		return v.Str
	case KindHeuristic:
		return v.Heuristic.String()
	default:
		return ""
	}
}

// Key is a canonical identity used to count equal values in frequency tables.
func (v Value) Key() string {
	return v.Kind.String() + ":" + v.Literal()
}

// Equal reports whether two values have the same kind and literal.
func (v Value) Equal(o Value) bool {
	return v.Key() == o.Key()
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.Literal()
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
