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

const (
	// HeuristicKey is the one multi-valued key of a strategy.
	HeuristicKey = "heuristic_def"

	// SectionMarkerKey starts the outer section of a serialized strategy.
	// Every key before it belongs to the inner (deeper indented) block.
	SectionMarkerKey = "no_preproc"

	// QuotedKey is always written quoted regardless of its value.
	QuotedKey = "sine"
)

// Configuration is an insertion-ordered mapping from key to Value.
//
// # Description
//
// Key order matters: Serialize emits keys in insertion order and the
// solver's two-section layout depends on where SectionMarkerKey falls.
// Set on an existing key replaces the value in place without moving it.
//
// # Thread Safety
//
// Not safe for concurrent mutation.
type Configuration struct {
	keys   []string
	values map[string]Value
}

// NewConfiguration returns an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{values: make(map[string]Value)}
}

// Set stores v under key, appending key if it is new.
func (c *Configuration) Set(key string, v Value) {
	if c.values == nil {
		c.values = make(map[string]Value)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = v
}

// Get returns the value stored under key.
func (c *Configuration) Get(key string) (Value, bool) {
	if c == nil {
		return Value{}, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The slice is a copy.
func (c *Configuration) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of keys.
func (c *Configuration) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Equal reports whether both configurations hold the same keys in the same
// order with equal values.
func (c *Configuration) Equal(o *Configuration) bool {
	if c.Len() != o.Len() {
		return false
	}
	for i, k := range c.keys {
		if o.keys[i] != k {
			return false
		}
		if !c.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}
