// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/proverbatch/cmd/proverbatch/config"
	"github.com/jinterlante1206/proverbatch/pkg/ux"
)

// runConfigInit writes the default configuration so it can be edited.
func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath
	if len(args) == 1 {
		path = args[0]
	}

	if !forceWrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	if err := config.Write(path, config.DefaultConfig()); err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout()).Status(ux.IconSuccess, "wrote "+path)
	return nil
}
