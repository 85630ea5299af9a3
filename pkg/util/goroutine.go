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
	"runtime/debug"
)

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	// Value is the value passed to panic().
	Value interface{}

	// Stack is the goroutine stack at recovery time.
	Stack string
}

// Err converts the panic into an error. A panic with an error value wraps
// it.
func (p PanicInfo) Err() error {
	if err, ok := p.Value.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p.Value)
}

// RecoverPanic returns a function for defer that recovers a panic and
// hands it to onPanic.
//
// # Description
//
// Used at job boundaries so that one misbehaving job is recorded as a
// failure instead of taking down the whole batch. After recovery the
// deferring function returns normally.
//
// # Example
//
//	func runJob() (err error) {
//	    defer util.RecoverPanic(func(p util.PanicInfo) {
//	        err = p.Err()
//	    })()
//	    ...
//	}
//
// # Limitations
//
//   - Must be called with () after defer.
//   - If onPanic itself panics, the process crashes.
func RecoverPanic(onPanic func(PanicInfo)) func() {
	return func() {
		if r := recover(); r != nil {
			info := PanicInfo{Value: r, Stack: string(debug.Stack())}
			if onPanic != nil {
				onPanic(info)
			}
		}
	}
}
