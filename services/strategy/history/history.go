// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history accumulates observed strategy values into per-key
// frequency tables and persists them in a data directory.
//
// Counts only grow. The only way to forget observations is Reset, which
// deletes the persisted store. Read-modify-write cycles against a shared
// data directory must run under the strategy lock.
package history

import (
	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
)

// Entry is one observed value and how many times it was seen.
type Entry struct {
	Value codec.Value
	Count int
}

// FrequencyTable counts observations of values for one key.
//
// Entries keep first-observed order. Majority selection relies on this
// order to break ties, so it is also what gets persisted.
type FrequencyTable struct {
	entries []Entry
	index   map[string]int
}

// NewFrequencyTable returns an empty table.
func NewFrequencyTable() *FrequencyTable {
	return &FrequencyTable{index: make(map[string]int)}
}

// Add increments the count of v by n, appending v if unseen.
// Non-positive n is ignored.
func (t *FrequencyTable) Add(v codec.Value, n int) {
	if n <= 0 {
		return
	}
	if t.index == nil {
		t.index = make(map[string]int)
	}
	k := v.Key()
	if i, ok := t.index[k]; ok {
		t.entries[i].Count += n
		return
	}
	t.index[k] = len(t.entries)
	t.entries = append(t.entries, Entry{Value: v, Count: n})
}

// Count returns the observation count of v.
func (t *FrequencyTable) Count(v codec.Value) int {
	if t == nil {
		return 0
	}
	if i, ok := t.index[v.Key()]; ok {
		return t.entries[i].Count
	}
	return 0
}

// Entries returns a copy of the entries in first-observed order.
func (t *FrequencyTable) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Total returns the sum of all counts.
func (t *FrequencyTable) Total() int {
	if t == nil {
		return 0
	}
	total := 0
	for _, e := range t.entries {
		total += e.Count
	}
	return total
}

// Len returns the number of distinct values.
func (t *FrequencyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// History maps each configuration key to its frequency table.
//
// # Description
//
// Keys keep first-observed order so a master configuration built from the
// history lists keys in the order the solver printed them, which keeps
// SectionMarkerKey in the right place when serialized.
//
// # Thread Safety
//
// Not safe for concurrent use. Cross-process access is serialized by the
// strategy lock; in-process callers own their History value.
type History struct {
	keys   []string
	tables map[string]*FrequencyTable
}

// New returns an empty history.
func New() *History {
	return &History{tables: make(map[string]*FrequencyTable)}
}

// Merge increments, for every key of cfg, the count of that key's value.
//
// Merging the same configuration N times raises every touched count by N.
// Merge returns h so calls can be chained.
func (h *History) Merge(cfg *codec.Configuration) *History {
	for _, k := range cfg.Keys() {
		v, _ := cfg.Get(k)
		h.table(k).Add(v, 1)
	}
	return h
}

// Table returns the frequency table for key, or nil if key was never seen.
func (h *History) Table(key string) *FrequencyTable {
	if h == nil {
		return nil
	}
	return h.tables[key]
}

// Keys returns the keys in first-observed order.
func (h *History) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Len returns the number of keys.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// table returns the table for key, creating it if needed.
func (h *History) table(key string) *FrequencyTable {
	if h.tables == nil {
		h.tables = make(map[string]*FrequencyTable)
	}
	t, ok := h.tables[key]
	if !ok {
		t = NewFrequencyTable()
		h.tables[key] = t
		h.keys = append(h.keys, key)
	}
	return t
}

// SetTable installs t under key, replacing any existing table. A new key is
// appended to the key order. Used when rebuilding a history from storage.
func (h *History) SetTable(key string, t *FrequencyTable) {
	if h.tables == nil {
		h.tables = make(map[string]*FrequencyTable)
	}
	if _, ok := h.tables[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.tables[key] = t
}
