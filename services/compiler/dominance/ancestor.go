// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dominance

import "math/bits"

// =============================================================================
// Ancestor Index - Euler Tour + Binary Lifting
// =============================================================================

// AncestorIndex answers dominance queries on a dominator tree.
//
// Each block gets an entry and exit time from one depth-first walk of the
// tree; a dominates b exactly when a's interval encloses b's. The jump table
// holds the 2^k-th ancestor of every block for lowest common ancestor
// queries.
//
// Thread Safety: Safe for concurrent use after construction.
type AncestorIndex struct {
	// TimeIn is the preorder entry time of each block.
	TimeIn []int

	// TimeOut is the postorder exit time of each block.
	TimeOut []int

	depth  []int
	jumpUp [][]int
	levels int
}

// NewAncestorIndex builds the index from an immediate-dominator mapping.
//
// Description:
//
//	Inverts immDom into child lists and walks the tree from block 0 with an
//	explicit stack. Entry and exit times share a single clock. Row k of the
//	jump table for a block is filled on entry, when its ancestors' rows are
//	already complete.
//
// Inputs:
//
//   - immDom: Immediate dominator per block. immDom[0] must be 0.
//     Out-of-range or self-referencing parents make a block its own root.
//
// Outputs:
//
//   - *AncestorIndex: Never nil.
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(N log N) time and space.
func NewAncestorIndex(immDom []int) *AncestorIndex {
	n := len(immDom)
	levels := 1
	if n > 1 {
		levels = bits.Len(uint(n-1)) + 1
	}
	idx := &AncestorIndex{
		TimeIn:  make([]int, n),
		TimeOut: make([]int, n),
		depth:   make([]int, n),
		jumpUp:  make([][]int, n),
		levels:  levels,
	}
	if n == 0 {
		return idx
	}

	children := make([][]int, n)
	for b := 1; b < n; b++ {
		if p := immDom[b]; p >= 0 && p < n && p != b {
			children[p] = append(children[p], b)
		}
	}

	visited := make([]bool, n)
	clock := 0

	type frame struct {
		block int
		next  int
	}
	walk := func(root int) {
		stack := []frame{{block: root}}
		idx.enter(root, root, 0, &clock)
		visited[root] = true
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(children[top.block]) {
				idx.TimeOut[top.block] = clock
				clock++
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.block][top.next]
			top.next++
			if visited[child] {
				continue
			}
			visited[child] = true
			idx.enter(child, top.block, idx.depth[top.block]+1, &clock)
			stack = append(stack, frame{block: child})
		}
	}

	walk(0)
	for b := 1; b < n; b++ {
		if !visited[b] {
			walk(b)
		}
	}
	return idx
}

func (idx *AncestorIndex) enter(b, parent, depth int, clock *int) {
	idx.TimeIn[b] = *clock
	*clock++
	idx.depth[b] = depth
	row := make([]int, idx.levels)
	row[0] = parent
	for k := 1; k < idx.levels; k++ {
		if parent == b {
			row[k] = b
			continue
		}
		row[k] = idx.jumpUp[row[k-1]][k-1]
	}
	idx.jumpUp[b] = row
}

// Len returns the number of blocks indexed.
func (idx *AncestorIndex) Len() int { return len(idx.TimeIn) }

// Depth returns the depth of b in the dominator tree. The entry has depth 0.
func (idx *AncestorIndex) Depth(b int) int { return idx.depth[b] }

// Parent returns the immediate dominator of b. The entry is its own parent.
func (idx *AncestorIndex) Parent(b int) int { return idx.jumpUp[b][0] }

// IsAncestor reports whether a dominates b. Every block dominates itself.
//
// Complexity: O(1).
func (idx *AncestorIndex) IsAncestor(a, b int) bool {
	return idx.TimeIn[a] <= idx.TimeIn[b] && idx.TimeOut[a] >= idx.TimeOut[b]
}

// LowestCommonAncestor returns the deepest block dominating both a and b.
//
// Description:
//
//	Returns a or b directly when one dominates the other. Otherwise a climbs
//	by decreasing powers of two while the candidate still does not dominate
//	b; the parent of the final position is the answer.
//
// Complexity: O(log N).
func (idx *AncestorIndex) LowestCommonAncestor(a, b int) int {
	if idx.IsAncestor(a, b) {
		return a
	}
	if idx.IsAncestor(b, a) {
		return b
	}
	for k := idx.levels - 1; k >= 0; k-- {
		if up := idx.jumpUp[a][k]; !idx.IsAncestor(up, b) {
			a = up
		}
	}
	return idx.jumpUp[a][0]
}
