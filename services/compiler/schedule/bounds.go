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
	"slices"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
)

// =============================================================================
// Block helpers
// =============================================================================

// AnchorBlock returns the block a fixed gate is pinned to: the block headed
// by its first state input.
func AnchorBlock(c *circuit.Circuit, tree *dominance.Tree, g circuit.GateRef) (int, bool) {
	if c.NumIns(g) == 0 {
		return 0, false
	}
	return tree.Block(c.In(g, 0))
}

// ConsumerBlock returns the block at which input idx of a state or fixed
// user is consumed.
//
// Description:
//
//	A state user consumes its inputs in its own block, except that a
//	non-state input of a branch head (the condition of IF_TRUE) is consumed
//	at the end of the head's predecessor. A fixed user consumes its inputs
//	in its anchor block, except that data input k of a selector is consumed
//	at the end of the merge's k-th predecessor.
//
// Outputs:
//
//   - int: The consuming block.
//   - bool: False when user is not a discovered state gate or anchored
//     fixed gate.
func ConsumerBlock(c *circuit.Circuit, tree *dominance.Tree, user circuit.GateRef, idx int) (int, bool) {
	op := c.Op(user)
	switch {
	case op.IsState():
		own, ok := tree.Block(user)
		if !ok {
			return 0, false
		}
		if states := c.Schema(user).States; states > 0 && idx >= states {
			if pred, ok := tree.Block(c.In(user, 0)); ok {
				return pred, true
			}
		}
		return own, true

	case op.IsFixed():
		anchor, ok := AnchorBlock(c, tree, user)
		if !ok {
			return 0, false
		}
		if states := c.Schema(user).States; op.IsSelector() && idx >= states {
			preds := c.StateIns(c.In(user, 0))
			if k := idx - states; k < len(preds) {
				if pred, ok := tree.Block(preds[k]); ok {
					return pred, true
				}
			}
		}
		return anchor, true
	}
	return 0, false
}

// anchoredUsers returns the gates whose placement is known before any
// bound is computed: every block head and every fixed gate anchored to one.
func anchoredUsers(c *circuit.Circuit, tree *dominance.Tree) []circuit.GateRef {
	users := slices.Clone(tree.Blocks)
	for _, g := range c.Collect(circuit.OpCode.IsFixed) {
		if _, ok := AnchorBlock(c, tree, g); ok {
			users = append(users, g)
		}
	}
	return users
}

func isSchedulable(c *circuit.Circuit, g circuit.GateRef) bool {
	return c.Valid(g) && c.Op(g).IsSchedulable()
}

// =============================================================================
// Upper bound
// =============================================================================

// CalculateUpperBound computes the shallowest legal block of every gate in
// gates.
//
// Description:
//
//	An input contributes block 0 when it is a root or prolog gate, its own
//	block when it is a state gate, its anchor block when it is fixed, and its
//	own upper bound when it is schedulable. A gate's upper bound is the
//	deepest contribution. Schedulable inputs are resolved first with an
//	explicit stack and memoized.
//
// Inputs:
//
//   - c: The circuit.
//   - tree: Dominator tree of c.
//   - idx: Ancestor index over tree.ImmDom.
//   - gates: The schedulable gates to bound.
//
// Outputs:
//
//   - map[circuit.GateRef]int: Upper bound per gate in gates, plus every
//     schedulable gate they transitively depend on.
//   - error: *BoundError when any contribution pair is incomparable, an
//     input is unset or undiscovered, or the inputs form a cycle. No
//     partial result is returned.
//
// Thread Safety: Safe for concurrent use (read-only on all inputs).
//
// Complexity: O(V + E) plus O(1) per dominance test.
func CalculateUpperBound(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex, gates []circuit.GateRef) (map[circuit.GateRef]int, error) {
	upper := make(map[circuit.GateRef]int, len(gates))
	onStack := make(map[circuit.GateRef]bool)

	type frame struct {
		gate circuit.GateRef
		next int
	}

	for _, g := range gates {
		if _, done := upper[g]; done {
			continue
		}
		stack := []frame{{gate: g}}
		onStack[g] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			ins := c.Ins(top.gate)

			descended := false
			for ; top.next < len(ins); top.next++ {
				in := ins[top.next]
				if !isSchedulable(c, in) {
					continue
				}
				if _, done := upper[in]; done {
					continue
				}
				if onStack[in] {
					return nil, &BoundError{
						Bound:  "upper",
						Gate:   top.gate,
						Op:     c.Op(top.gate),
						Reason: ReasonDataCycle,
						Inputs: []circuit.GateRef{in},
					}
				}
				onStack[in] = true
				stack = append(stack, frame{gate: in})
				descended = true
				break
			}
			if descended {
				continue
			}

			b, err := foldUpper(c, tree, idx, upper, top.gate)
			if err != nil {
				return nil, err
			}
			upper[top.gate] = b
			delete(onStack, top.gate)
			stack = stack[:len(stack)-1]
		}
	}
	return upper, nil
}

// foldUpper folds the input contributions of g into its upper bound.
// Schedulable inputs must already be in upper.
func foldUpper(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex, upper map[circuit.GateRef]int, g circuit.GateRef) (int, error) {
	fail := func(reason Reason, in circuit.GateRef) error {
		return &BoundError{
			Bound:  "upper",
			Gate:   g,
			Op:     c.Op(g),
			Reason: reason,
			Inputs: []circuit.GateRef{in},
		}
	}

	best, bestIn := 0, circuit.InvalidGate
	for _, in := range c.Ins(g) {
		if !c.Valid(in) {
			return 0, fail(ReasonInvalidInput, in)
		}

		var b int
		op := c.Op(in)
		switch {
		case op.IsRoot(), op.IsProlog():
			b = 0
		case op.IsState():
			blk, ok := tree.Block(in)
			if !ok {
				return 0, fail(ReasonUndiscoveredBlock, in)
			}
			b = blk
		case op.IsFixed():
			blk, ok := AnchorBlock(c, tree, in)
			if !ok {
				return 0, fail(ReasonUndiscoveredBlock, in)
			}
			b = blk
		case op.IsSchedulable():
			b = upper[in]
		default:
			return 0, fail(ReasonInvalidInput, in)
		}

		switch {
		case idx.IsAncestor(best, b):
			best, bestIn = b, in
		case idx.IsAncestor(b, best):
		default:
			return 0, &BoundError{
				Bound:  "upper",
				Gate:   g,
				Op:     c.Op(g),
				Reason: ReasonIncomparableInputs,
				Blocks: []int{best, b},
				Inputs: []circuit.GateRef{bestIn, in},
			}
		}
	}
	return best, nil
}

// =============================================================================
// Lower bound
// =============================================================================

// CalculateLowerBound computes the deepest legal block of every gate in
// gates: the lowest common ancestor of the blocks where its uses consume it.
//
// Description:
//
//	Phase one walks inputs from every block head and every anchored fixed
//	gate, counting for each reachable schedulable gate how many of its uses
//	come from reachable users. Phase two seeds a worklist with the
//	contributions of the anchored users; a gate joins the worklist when its
//	last use has contributed, and then contributes its own lower bound to
//	its schedulable inputs.
//
// Inputs:
//
//   - c: The circuit.
//   - tree: Dominator tree of c.
//   - idx: Ancestor index over tree.ImmDom.
//   - gates: The schedulable gates whose bounds are wanted. The walk always
//     covers every reachable schedulable gate, because a gate's bound
//     depends on its users' bounds.
//   - order: Optional. Receives every resolved gate in retirement order,
//     users before the gates they use.
//
// Outputs:
//
//   - map[circuit.GateRef]int: Lower bound per reachable gate in gates.
//     Gates no anchored user can reach have no entry.
//   - error: *BoundError (ReasonUnresolvedUses) when some reachable gate's
//     uses never all contribute, i.e. a data cycle without a selector.
//
// Thread Safety: Safe for concurrent use (read-only on all inputs).
//
// Complexity: O(V + E log B).
func CalculateLowerBound(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex, gates []circuit.GateRef, order *[]circuit.GateRef) (map[circuit.GateRef]int, error) {
	users := anchoredUsers(c, tree)

	// Phase one: count uses from reachable users.
	remaining := make(map[circuit.GateRef]int)
	var stack []circuit.GateRef
	countInputs := func(user circuit.GateRef) {
		for _, in := range c.Ins(user) {
			if !isSchedulable(c, in) {
				continue
			}
			if _, seen := remaining[in]; !seen {
				stack = append(stack, in)
			}
			remaining[in]++
		}
	}
	for _, u := range users {
		countInputs(u)
	}
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		countInputs(g)
	}

	// Phase two: fold use blocks, retiring gates whose uses are exhausted.
	lower := make(map[circuit.GateRef]int, len(remaining))
	var worklist []circuit.GateRef
	contribute := func(g circuit.GateRef, b int) {
		if cur, ok := lower[g]; ok {
			lower[g] = idx.LowestCommonAncestor(cur, b)
		} else {
			lower[g] = b
		}
		remaining[g]--
		if remaining[g] == 0 {
			worklist = append(worklist, g)
		}
	}
	for _, u := range users {
		for i, in := range c.Ins(u) {
			if !isSchedulable(c, in) {
				continue
			}
			if b, ok := ConsumerBlock(c, tree, u, i); ok {
				contribute(in, b)
			}
		}
	}
	for head := 0; head < len(worklist); head++ {
		g := worklist[head]
		if order != nil {
			*order = append(*order, g)
		}
		for _, in := range c.Ins(g) {
			if isSchedulable(c, in) {
				contribute(in, lower[g])
			}
		}
	}

	var stuck []circuit.GateRef
	for g, n := range remaining {
		if n > 0 {
			stuck = append(stuck, g)
		}
	}
	if len(stuck) > 0 {
		slices.Sort(stuck)
		// Blame the first gate that some use did reach; the rest of the
		// cycle hangs off it.
		culprit := stuck[0]
		for _, g := range stuck {
			if _, reached := lower[g]; reached {
				culprit = g
				break
			}
		}
		return nil, &BoundError{
			Bound:  "lower",
			Gate:   culprit,
			Op:     c.Op(culprit),
			Reason: ReasonUnresolvedUses,
			Inputs: stuck,
		}
	}

	result := make(map[circuit.GateRef]int, len(gates))
	for _, g := range gates {
		if b, ok := lower[g]; ok {
			result[g] = b
		}
	}
	return result, nil
}
