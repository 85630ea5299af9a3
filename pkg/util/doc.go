// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides leaf helpers shared by the batch and strategy
// services.
//
//   - Command errors: [CommandError] carries exit code and stderr of a
//     failed external process.
//   - Panic recovery: [RecoverPanic] turns a panic at a job boundary into
//     a value the caller can record.
//   - Environment: [EnvVars] builds child process environments.
//
// The package depends only on the standard library.
package util
