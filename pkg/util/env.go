// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"regexp"
	"strings"
)

var envKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EnvVars is an ordered set of environment overrides for a child process.
//
// # Description
//
// Keys are validated against POSIX naming rules. Setting an existing key
// replaces its value in place. An unset key is removed from the base
// environment by Apply.
//
// # Thread Safety
//
// Not safe for concurrent mutation.
//
// # Example
//
//	env := util.NewEnvVars()
//	_ = env.Set("SLH_PERSISTENT_DATA_DIR", "/data/run1")
//	cmd.Env = env.Apply(os.Environ())
type EnvVars struct {
	keys   []string
	values map[string]string
	unset  map[string]struct{}
}

// NewEnvVars returns an empty set.
func NewEnvVars() *EnvVars {
	return &EnvVars{values: make(map[string]string)}
}

// Set adds or replaces key.
func (e *EnvVars) Set(key, value string) error {
	if !envKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid environment variable name %q", key)
	}
	if e.values == nil {
		e.values = make(map[string]string)
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
	delete(e.unset, key)
	return nil
}

// Unset removes key from the set and makes Apply drop it from the base.
func (e *EnvVars) Unset(key string) error {
	if !envKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid environment variable name %q", key)
	}
	if _, ok := e.values[key]; ok {
		delete(e.values, key)
		for i, k := range e.keys {
			if k == key {
				e.keys = append(e.keys[:i], e.keys[i+1:]...)
				break
			}
		}
	}
	if e.unset == nil {
		e.unset = make(map[string]struct{})
	}
	e.unset[key] = struct{}{}
	return nil
}

// IsUnset reports whether Apply removes key.
func (e *EnvVars) IsUnset(key string) bool {
	if e == nil {
		return false
	}
	_, ok := e.unset[key]
	return ok
}

// Get returns the value of key, or "" if unset.
func (e *EnvVars) Get(key string) string {
	if e == nil {
		return ""
	}
	return e.values[key]
}

// Len returns the number of variables.
func (e *EnvVars) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// ToSlice returns KEY=VALUE pairs in insertion order.
func (e *EnvVars) ToSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, k+"="+e.values[k])
	}
	return out
}

// Apply returns base with every variable in e overriding any existing
// entry of the same name and every unset variable removed. base is not
// modified.
func (e *EnvVars) Apply(base []string) []string {
	out := make([]string, 0, len(base)+e.Len())
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if e != nil {
			if _, override := e.values[k]; override {
				continue
			}
			if _, drop := e.unset[k]; drop {
				continue
			}
		}
		out = append(out, kv)
	}
	return append(out, e.ToSlice()...)
}
