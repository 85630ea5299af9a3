// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "proverbatch.yaml"

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("capturegroup", validateCaptureGroup)
}

// validateCaptureGroup accepts a regular expression with at least one
// capture group.
func validateCaptureGroup(fl validator.FieldLevel) bool {
	re, err := regexp.Compile(fl.Field().String())
	return err == nil && re.NumSubexp() >= 1
}

// Load reads path over the defaults and validates the result.
//
// # Description
//
// An empty path means DefaultPath, and a missing DefaultPath is not an
// error: the defaults are returned. A path given explicitly must exist.
// Keys absent from the file keep their default values.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - bool: Whether the file existed.
//   - error: Missing explicit file, read, parse or validation failure.
func Load(path string) (Config, bool, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, false, cfg.Validate()
	case err != nil:
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, true, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Write saves c as YAML, creating parent directories.
func Write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
