// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders gatesched command output.
//
// A Printer writes styled output when its destination is a terminal and
// plain, grep-friendly lines otherwise.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/xyproto/env/v2"
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

// Styles are the lipgloss styles used by a styled Printer.
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconCached  Icon = "↺"
)

// plain returns the marker used in unstyled output.
func (i Icon) plain() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "FAIL"
	case IconCached:
		return "CACHED"
	default:
		return "-"
	}
}

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess, IconCached:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	default:
		return Styles.Muted
	}
}

// IsTerminal reports whether f is an interactive terminal and NO_COLOR is
// not set.
func IsTerminal(f *os.File) bool {
	if f == nil || env.Has("NO_COLOR") {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes command output.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a printer for w. Output is styled only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	f, ok := w.(*os.File)
	return &Printer{w: w, styled: ok && IsTerminal(f)}
}

// NewPlainPrinter returns a printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Styled reports whether the printer emits ANSI styling.
func (p *Printer) Styled() bool {
	return p.styled
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if !p.styled {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Status prints one line with a status marker, a subject and an optional
// detail.
func (p *Printer) Status(icon Icon, subject, detail string) {
	if !p.styled {
		if detail == "" {
			fmt.Fprintf(p.w, "%s\t%s\n", icon.plain(), subject)
		} else {
			fmt.Fprintf(p.w, "%s\t%s\t%s\n", icon.plain(), subject, detail)
		}
		return
	}
	line := icon.style().Render(string(icon)) + " " + subject
	if detail != "" {
		line += " " + Styles.Muted.Render("("+detail+")")
	}
	fmt.Fprintln(p.w, line)
}

// Indented prints text under the previous status line.
func (p *Printer) Indented(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if p.styled {
			fmt.Fprintf(p.w, "  %s %s\n", Styles.Muted.Render("│"), line)
		} else {
			fmt.Fprintf(p.w, "\t%s\n", line)
		}
	}
}

// Box prints content in a rounded box, or as "title:" plus content when
// plain.
func (p *Printer) Box(title, content string, failed bool) {
	content = strings.TrimRight(content, "\n")
	if !p.styled {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	box, head := Styles.Box, Styles.Title
	if failed {
		box, head = Styles.ErrorBox, Styles.Error.Bold(true)
	}
	fmt.Fprintln(p.w, box.Render(head.Render(title)+"\n"+content))
}

// Summary prints the final tally of a batch.
func (p *Printer) Summary(passed, failed, cached int) {
	total := passed + failed
	if !p.styled {
		fmt.Fprintf(p.w, "SUMMARY: passed=%d failed=%d cached=%d total=%d\n", passed, failed, cached, total)
		return
	}
	fmt.Fprintf(p.w, "\n%s %s  %s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprint(passed)), Styles.Muted.Render("passed"),
		Styles.Error.Render(fmt.Sprint(failed)), Styles.Muted.Render("failed"),
		Styles.Success.Render(fmt.Sprint(cached)), Styles.Muted.Render("cached"),
		Styles.Bold.Render(fmt.Sprint(total)), Styles.Muted.Render("total"),
	)
}
