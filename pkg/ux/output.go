// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI reports, styled on terminals and plain elsewhere.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Row is one label/value line of a report.
type Row struct {
	Label string
	Value string
	Icon  Icon
}

// Printer writes reports to w.
//
// # Description
//
// Styling is applied only when w is a terminal and NO_COLOR is unset, so
// redirected output stays plain text that scripts can grep.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter detects whether w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

// NewPlainPrinter never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Color reports whether output is styled.
func (p *Printer) Color() bool {
	return p.color
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.render(Styles.Success, string(i))
	case IconWarning:
		return p.render(Styles.Warning, string(i))
	case IconError:
		return p.render(Styles.Error, string(i))
	case "":
		return ""
	default:
		return p.render(Styles.Muted, string(i))
	}
}

// Report prints title followed by aligned rows, boxed on terminals.
func (p *Printer) Report(title string, rows []Row) {
	width := 0
	for _, r := range rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
	}

	var b strings.Builder
	b.WriteString(p.render(Styles.Title, title))
	for _, r := range rows {
		b.WriteString("\n")
		label := fmt.Sprintf("%-*s", width+1, r.Label+":")
		b.WriteString(p.render(Styles.Label, label))
		b.WriteString(" ")
		b.WriteString(r.Value)
		if r.Icon != "" {
			b.WriteString(" ")
			b.WriteString(p.icon(r.Icon))
		}
	}

	out := b.String()
	if p.color {
		out = Styles.Box.Render(out)
	}
	fmt.Fprintln(p.w, out)
}

// List prints a titled list of items, one per line.
func (p *Printer) List(title string, items []string) {
	fmt.Fprintln(p.w, p.render(Styles.Title, title))
	if len(items) == 0 {
		fmt.Fprintln(p.w, "  "+p.render(Styles.Muted, "(none)"))
		return
	}
	for _, it := range items {
		fmt.Fprintln(p.w, "  "+it)
	}
}

// Status prints a single line with an icon.
func (p *Printer) Status(i Icon, text string) {
	fmt.Fprintln(p.w, p.icon(i)+" "+text)
}
