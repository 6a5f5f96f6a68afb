// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build ignore

// generate_opcode_docs prints a markdown reference of every circuit opcode,
// grouped by scheduling class.
//
// Usage:
//
//	go run scripts/generate_opcode_docs.go > docs/opcodes.md
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
)

// probe bit fields used to tell variadic input groups from fixed ones.
const probeA, probeB = 1000, 1001

var kindOrder = []circuit.Kind{
	circuit.KindRoot,
	circuit.KindProlog,
	circuit.KindState,
	circuit.KindFixed,
	circuit.KindSchedulable,
	circuit.KindNop,
}

var kindBlurb = map[circuit.Kind]string{
	circuit.KindRoot:        "Created once per circuit. Never placed in a block.",
	circuit.KindProlog:      "Function arguments. Placed in the entry block right after its head.",
	circuit.KindState:       "Control flow. Each opens a basic block, except LOOP_BACK edges feeding a loop head.",
	circuit.KindFixed:       "Pinned to the block of their first state input. Terminators close that block.",
	circuit.KindSchedulable: "Float between their upper and lower bound; placed at the lower bound.",
	circuit.KindNop:         "Dead gates.",
}

func main() {
	byKind := make(map[circuit.Kind][]circuit.OpCode)
	for op := circuit.OpCode(0); op.Valid(); op++ {
		byKind[op.Kind()] = append(byKind[op.Kind()], op)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Opcode Reference\n\n")
	fmt.Fprintf(&sb, "_Generated by scripts/generate_opcode_docs.go on %s._\n\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&sb, "Inputs are laid out as `[states..., depends..., values..., root]`. ")
	fmt.Fprintf(&sb, "`n` marks a group sized by the gate's bit field.\n\n")

	total := 0
	for _, kind := range kindOrder {
		ops := byKind[kind]
		if len(ops) == 0 {
			continue
		}
		total += len(ops)
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", strings.ToUpper(kind.String()[:1])+kind.String()[1:], kindBlurb[kind])
		fmt.Fprintf(&sb, "| Opcode | States | Depends | Values | Root | Produces |\n")
		fmt.Fprintf(&sb, "|---|---|---|---|---|---|\n")
		for _, op := range ops {
			a, b := circuit.Schema(op, probeA), circuit.Schema(op, probeB)
			root := "-"
			if a.Root != circuit.OpNop {
				root = a.Root.String()
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s | %s |\n",
				op, count(a.States, b.States), count(a.Depends, b.Depends), count(a.Values, b.Values),
				root, produces(op))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "---\n\n%d opcodes.\n", total)

	if _, err := os.Stdout.WriteString(sb.String()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
}

func count(a, b int) string {
	if a != b {
		return "n"
	}
	return fmt.Sprint(a)
}

func produces(op circuit.OpCode) string {
	var out []string
	if op.HasValue() {
		out = append(out, "value")
	}
	if op.HasDepend() {
		out = append(out, "depend")
	}
	if op.IsTerminal() {
		out = append(out, "terminator")
	}
	if op.IsSelector() {
		out = append(out, "selector")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}
