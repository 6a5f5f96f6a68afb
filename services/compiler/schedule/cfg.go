// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schedule

import (
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
)

// Block is one basic block of a scheduled circuit.
type Block struct {
	// Index is the block's position in ControlFlowGraph.Blocks.
	Index int `json:"index"`

	// Head is the state gate that opens the block.
	Head circuit.GateRef `json:"head"`

	// Gates lists the block's gates in execution order, Head first.
	Gates []circuit.GateRef `json:"gates"`
}

// ControlFlowGraph is the result of scheduling: every live gate reachable
// from STATE_ENTRY assigned to exactly one basic block, in order.
//
// Block 0 is the entry block. Blocks are numbered in reverse postorder of
// the state graph, so a block's dominators always have smaller indices.
type ControlFlowGraph struct {
	Blocks []Block `json:"blocks"`

	// ImmDom holds the immediate dominator of each block. ImmDom[0] is 0.
	ImmDom []int `json:"imm_dom"`
}

// BlockOf returns the index of the block g was placed in.
func (cfg *ControlFlowGraph) BlockOf(g circuit.GateRef) (int, bool) {
	for _, b := range cfg.Blocks {
		if slices.Contains(b.Gates, g) {
			return b.Index, true
		}
	}
	return 0, false
}

// NumGates returns the total number of placed gates.
func (cfg *ControlFlowGraph) NumGates() int {
	n := 0
	for _, b := range cfg.Blocks {
		n += len(b.Gates)
	}
	return n
}

// String renders gate ids per block, e.g. "B1 (idom B0): [4 9 10]".
func (cfg *ControlFlowGraph) String() string {
	var sb strings.Builder
	for _, b := range cfg.Blocks {
		fmt.Fprintf(&sb, "B%d (idom B%d): %v\n", b.Index, cfg.ImmDom[b.Index], b.Gates)
	}
	return sb.String()
}

// Dump renders the schedule with opcodes, one gate per line.
func (cfg *ControlFlowGraph) Dump(c *circuit.Circuit) string {
	var sb strings.Builder
	for _, b := range cfg.Blocks {
		fmt.Fprintf(&sb, "B%d:", b.Index)
		if b.Index != 0 {
			fmt.Fprintf(&sb, " ; idom B%d", cfg.ImmDom[b.Index])
		}
		sb.WriteByte('\n')
		for _, g := range b.Gates {
			sb.WriteString("  ")
			sb.WriteString(c.Describe(g))
			if ins := c.Ins(g); len(ins) > 0 {
				fmt.Fprintf(&sb, " %v", ins)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
