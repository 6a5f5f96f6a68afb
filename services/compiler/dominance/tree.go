// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dominance builds the dominator tree over a circuit's state gates
// and answers ancestor and lowest-common-ancestor queries on it.
//
// Blocks are the state gates reachable from STATE_ENTRY along state edges.
// They are numbered in reverse postorder of the discovery walk, so block 0
// is always the entry and every block's dominators have smaller indices.
//
// # Thread Safety
//
// Tree and AncestorIndex are immutable after construction and safe for
// concurrent reads.
package dominance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
)

// =============================================================================
// Algorithm selection
// =============================================================================

// ErrUnknownAlgorithm is returned by ParseAlgorithm for unrecognized names.
var ErrUnknownAlgorithm = errors.New("unknown dominator algorithm")

// Algorithm selects how immediate dominators are computed.
type Algorithm int

const (
	// AlgorithmDataflow intersects full dominator sets until a fixpoint and
	// picks the latest-discovered proper dominator as the immediate one.
	AlgorithmDataflow Algorithm = iota

	// AlgorithmCooperHarveyKennedy walks immediate-dominator fingers in
	// reverse postorder ("A Simple, Fast Dominance Algorithm", 2001).
	AlgorithmCooperHarveyKennedy
)

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmDataflow:
		return "dataflow"
	case AlgorithmCooperHarveyKennedy:
		return "cooper-harvey-kennedy"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm resolves a configuration name. "chk" is accepted as a
// short form of "cooper-harvey-kennedy"; the empty string means dataflow.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dataflow":
		return AlgorithmDataflow, nil
	case "chk", "cooper-harvey-kennedy":
		return AlgorithmCooperHarveyKennedy, nil
	default:
		return AlgorithmDataflow, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// =============================================================================
// Tree
// =============================================================================

// Tree is the dominator tree over the discovered blocks of a circuit.
type Tree struct {
	// Blocks maps a block index to its head gate. Blocks[0] is STATE_ENTRY.
	Blocks []circuit.GateRef

	// BlockOf maps a discovered head gate back to its block index.
	BlockOf map[circuit.GateRef]int

	// ImmDom maps a block to its immediate dominator. ImmDom[0] == 0.
	ImmDom []int

	// Discovery is the preorder timestamp of each block in the discovery walk.
	Discovery []int

	// Preds lists, per block, the blocks of its discovered state inputs in
	// input order. Loop back edges are included.
	Preds [][]int

	// Algorithm records which engine produced ImmDom.
	Algorithm Algorithm

	// Iterations is the number of fixpoint rounds until convergence.
	Iterations int
}

// Len returns the number of blocks.
func (t *Tree) Len() int { return len(t.Blocks) }

// Block returns the block headed by g.
func (t *Tree) Block(g circuit.GateRef) (int, bool) {
	b, ok := t.BlockOf[g]
	return b, ok
}

// Build computes the dominator tree of c with the dataflow engine.
func Build(c *circuit.Circuit) *Tree {
	return BuildWith(c, AlgorithmDataflow)
}

// BuildWith computes the dominator tree of c.
//
// Description:
//
//	Discovers block heads by an explicit-stack walk from STATE_ENTRY over
//	state edges, numbers them in reverse postorder, and computes immediate
//	dominators with the selected engine. Successors of LOOP_BACK gates are
//	not expanded, so back edges never discover blocks.
//
// Inputs:
//
//   - c: The circuit. Must not be nil.
//   - algo: The immediate-dominator engine. Both engines produce the same
//     ImmDom for the same circuit.
//
// Outputs:
//
//   - *Tree: Never nil. Has zero blocks when c has no STATE_ENTRY.
//
// Limitations:
//
//   - State predecessors that were not discovered are ignored here. The
//     verifier reports them.
//
// Thread Safety: Safe for concurrent use (read-only on c).
//
// Complexity: O(B * E / 64) for dataflow, O(E) typical for CHK.
func BuildWith(c *circuit.Circuit, algo Algorithm) *Tree {
	t := &Tree{
		BlockOf:   make(map[circuit.GateRef]int),
		Algorithm: algo,
	}
	entry := c.Root(circuit.OpStateEntry)
	if !c.Valid(entry) {
		return t
	}

	t.discover(c, entry)
	t.collectPreds(c)

	switch algo {
	case AlgorithmCooperHarveyKennedy:
		t.immDomCHK()
	default:
		t.immDomDataflow()
	}
	return t
}

// successorsOf returns the state successors expanded by discovery.
func successorsOf(c *circuit.Circuit, g circuit.GateRef) []circuit.GateRef {
	if c.Op(g).IsLoopBack() {
		return nil
	}
	return c.StateSuccessors(g)
}

// discover walks state edges from entry and numbers blocks in reverse postorder.
//
// Successors are taken last-first so that, for a branch created as
// (IF_TRUE, IF_FALSE), the true side receives the lower block index.
func (t *Tree) discover(c *circuit.Circuit, entry circuit.GateRef) {
	type frame struct {
		gate  circuit.GateRef
		succs []circuit.GateRef
		next  int
	}

	preorder := make(map[circuit.GateRef]int)
	var postorder []circuit.GateRef
	var stack []frame

	push := func(g circuit.GateRef) {
		preorder[g] = len(preorder)
		succs := successorsOf(c, g)
		stack = append(stack, frame{gate: g, succs: succs, next: len(succs) - 1})
	}

	push(entry)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < 0 {
			postorder = append(postorder, top.gate)
			stack = stack[:len(stack)-1]
			continue
		}
		s := top.succs[top.next]
		top.next--
		if _, seen := preorder[s]; !seen {
			push(s)
		}
	}

	n := len(postorder)
	t.Blocks = make([]circuit.GateRef, n)
	t.Discovery = make([]int, n)
	for i, g := range postorder {
		b := n - 1 - i
		t.Blocks[b] = g
		t.BlockOf[g] = b
		t.Discovery[b] = preorder[g]
	}
}

func (t *Tree) collectPreds(c *circuit.Circuit) {
	t.Preds = make([][]int, len(t.Blocks))
	for b, head := range t.Blocks {
		for _, p := range c.StateIns(head) {
			if pb, ok := t.BlockOf[p]; ok {
				t.Preds[b] = append(t.Preds[b], pb)
			}
		}
	}
}

// =============================================================================
// Dataflow engine
// =============================================================================

// blockSet is a dense bitset over block indices.
type blockSet []uint64

func newBlockSet(n int, full bool) blockSet {
	s := make(blockSet, (n+63)/64)
	if full {
		for i := range s {
			s[i] = ^uint64(0)
		}
		if rem := n % 64; rem != 0 {
			s[len(s)-1] = (uint64(1) << rem) - 1
		}
	}
	return s
}

func (s blockSet) add(b int)      { s[b/64] |= 1 << (b % 64) }
func (s blockSet) has(b int) bool { return s[b/64]&(1<<(b%64)) != 0 }

func (s blockSet) intersect(o blockSet) {
	for i := range s {
		s[i] &= o[i]
	}
}

func (s blockSet) equal(o blockSet) bool {
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// immDomDataflow solves dom(b) = {b} ∪ ⋂ dom(p) to a fixpoint.
func (t *Tree) immDomDataflow() {
	n := len(t.Blocks)
	t.ImmDom = make([]int, n)
	if n == 0 {
		return
	}

	dom := make([]blockSet, n)
	dom[0] = newBlockSet(n, false)
	dom[0].add(0)
	for b := 1; b < n; b++ {
		dom[b] = newBlockSet(n, true)
	}

	for changed := true; changed; {
		changed = false
		t.Iterations++
		for b := 1; b < n; b++ {
			next := newBlockSet(n, true)
			for _, p := range t.Preds[b] {
				next.intersect(dom[p])
			}
			next.add(b)
			if !next.equal(dom[b]) {
				dom[b] = next
				changed = true
			}
		}
	}

	// The proper dominators of b form a chain from the entry; the one
	// discovered last is the closest.
	for b := 1; b < n; b++ {
		best := 0
		for d := 0; d < n; d++ {
			if d != b && dom[b].has(d) && t.Discovery[d] > t.Discovery[best] {
				best = d
			}
		}
		t.ImmDom[b] = best
	}
}

// =============================================================================
// Cooper-Harvey-Kennedy engine
// =============================================================================

// immDomCHK computes immediate dominators by finger intersection.
//
// Block indices are reverse postorder numbers, so walking a finger up the
// tree always decreases it.
func (t *Tree) immDomCHK() {
	n := len(t.Blocks)
	t.ImmDom = make([]int, n)
	if n == 0 {
		return
	}
	for b := range t.ImmDom {
		t.ImmDom[b] = -1
	}
	t.ImmDom[0] = 0

	intersect := func(b1, b2 int) int {
		for b1 != b2 {
			for b1 > b2 {
				b1 = t.ImmDom[b1]
			}
			for b2 > b1 {
				b2 = t.ImmDom[b2]
			}
		}
		return b1
	}

	for changed := true; changed; {
		changed = false
		t.Iterations++
		for b := 1; b < n; b++ {
			newIdom := -1
			for _, p := range t.Preds[b] {
				if t.ImmDom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && t.ImmDom[b] != newIdom {
				t.ImmDom[b] = newIdom
				changed = true
			}
		}
	}
}
