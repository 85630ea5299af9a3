// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.False(t, p.Color())
	assert.False(t, IsTerminal(&buf))
}

func TestReport_PlainAlignment(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)
	p.Report("Experiment exp", []Row{
		{Label: "Solved", Value: "2 / 3", Icon: IconSuccess},
		{Label: "Finished", Value: "false", Icon: IconPending},
	})
	assert.Equal(t, "Experiment exp\nSolved:   2 / 3 ✓\nFinished: false ○\n", buf.String())
}

func TestList(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)
	p.List("Solved problems", nil)
	p.List("Unsolved problems", []string{"a.p", "b.p"})
	assert.Equal(t, "Solved problems\n  (none)\nUnsolved problems\n  a.p\n  b.p\n", buf.String())
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	NewPlainPrinter(&buf).Status(IconError, "lock held by pid 12")
	assert.Equal(t, "✗ lock held by pid 12\n", buf.String())
}
