// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/AleutianAI/gatesched/services/compiler/schedule"
)

var requiredRoots = []circuit.OpCode{
	circuit.OpCircuitRoot,
	circuit.OpStateEntry,
	circuit.OpDependEntry,
	circuit.OpReturnList,
	circuit.OpConstantList,
	circuit.OpArgList,
}

// =============================================================================
// Data integrity
// =============================================================================

// RunDataIntegrityCheck verifies the raw edge structure of c: every root is
// present, every input and use refers to a live gate inside the arena, and
// every input edge appears in the use list of its target and vice versa.
//
// This is the only check that tolerates arbitrary corruption. Every later
// check assumes it passed.
func RunDataIntegrityCheck(c *circuit.Circuit) *Violation {
	for _, op := range requiredRoots {
		if !c.Valid(c.Root(op)) {
			return violation(CheckDataIntegrity, nil, "circuit has no %s", op)
		}
	}

	for _, g := range c.All() {
		if c.Op(g).IsNop() {
			if c.NumIns(g) > 0 || len(c.Uses(g)) > 0 {
				return violation(CheckDataIntegrity, []circuit.GateRef{g}, "dead gate #%d still has edges", g)
			}
			continue
		}
		if c.Op(g).IsVariadic() && c.BitField(g) > circuit.MaxVariadicInputs {
			return violation(CheckDataIntegrity, []circuit.GateRef{g},
				"%s declares %d variadic inputs (max %d)", c.Describe(g), c.BitField(g), circuit.MaxVariadicInputs)
		}

		for i, in := range c.Ins(g) {
			switch {
			case in == circuit.InvalidGate:
				return violation(CheckDataIntegrity, []circuit.GateRef{g},
					"input %d of %s is unset", i, c.Describe(g))
			case !c.Valid(in):
				return violation(CheckDataIntegrity, []circuit.GateRef{g},
					"input %d of %s points outside the arena (#%d)", i, c.Describe(g), in)
			case c.Op(in).IsNop():
				return violation(CheckDataIntegrity, []circuit.GateRef{g, in},
					"input %d of %s refers to dead gate #%d", i, c.Describe(g), in)
			case !slices.Contains(c.Uses(in), circuit.Use{User: g, Index: i}):
				return violation(CheckDataIntegrity, []circuit.GateRef{g, in},
					"input %d of %s is missing from the uses of %s", i, c.Describe(g), c.Describe(in))
			}
		}

		for _, u := range c.Uses(g) {
			switch {
			case !c.Valid(u.User) || c.Op(u.User).IsNop():
				return violation(CheckDataIntegrity, []circuit.GateRef{g},
					"%s lists a use by missing gate #%d", c.Describe(g), u.User)
			case u.Index < 0 || u.Index >= c.NumIns(u.User) || c.In(u.User, u.Index) != g:
				return violation(CheckDataIntegrity, []circuit.GateRef{g, u.User},
					"%s lists a use by input %d of %s that does not refer back", c.Describe(g), u.Index, c.Describe(u.User))
			}
		}
	}
	return nil
}

// =============================================================================
// Schema
// =============================================================================

// schemaError returns why the inputs of g do not match its opcode's layout,
// or "" when they do.
func schemaError(c *circuit.Circuit, g circuit.GateRef) string {
	s := c.Schema(g)
	ins := c.Ins(g)
	if len(ins) != s.NumIns() {
		return fmt.Sprintf("has %d inputs, want %d", len(ins), s.NumIns())
	}

	valueEnd := s.ValueStart() + s.Values
	for i, in := range ins {
		op := c.Op(in)
		switch {
		case i < s.States:
			if !op.IsState() {
				return fmt.Sprintf("state input %d is %s, want a block head", i, c.Describe(in))
			}
		case i < s.ValueStart():
			if !op.HasDepend() {
				return fmt.Sprintf("depend input %d is %s, which produces no dependency", i, c.Describe(in))
			}
		case i < valueEnd:
			if !op.HasValue() {
				return fmt.Sprintf("value input %d is %s, which produces no value", i, c.Describe(in))
			}
		default:
			if op != s.Root {
				return fmt.Sprintf("root input is %s, want %s", c.Describe(in), s.Root)
			}
		}
	}
	return ""
}

// =============================================================================
// State gates
// =============================================================================

// RunStateGateCheck verifies every discovered block head against its
// opcode's input layout and the control-flow rules of its opcode.
//
// Every head is schema-checked before any opcode rule runs, since the branch
// rule reads the condition input of the opposite arm.
func RunStateGateCheck(c *circuit.Circuit, tree *dominance.Tree) *Violation {
	for _, g := range tree.Blocks {
		if msg := schemaError(c, g); msg != "" {
			return violation(CheckStateGates, []circuit.GateRef{g}, "%s %s", c.Describe(g), msg)
		}
	}

	for _, g := range tree.Blocks {
		switch c.Op(g) {
		case circuit.OpMerge:
			if c.BitField(g) == 0 {
				return violation(CheckStateGates, []circuit.GateRef{g}, "%s has no predecessors", c.Describe(g))
			}

		case circuit.OpLoopBegin:
			if back := c.In(g, 1); !c.Op(back).IsLoopBack() {
				return violation(CheckStateGates, []circuit.GateRef{g, back},
					"back input of %s is %s, want LOOP_BACK", c.Describe(g), c.Describe(back))
			}

		case circuit.OpIfTrue, circuit.OpIfFalse:
			if twins := branchTwins(c, g); len(twins) != 1 {
				return violation(CheckStateGates, append([]circuit.GateRef{g}, twins...),
					"%s has %d matching branch arms on the same predecessor and condition, want 1", c.Describe(g), len(twins))
			}
		}
	}
	return nil
}

// branchTwins returns the opposite arms of branch head g: the IF_FALSE gates
// sharing g's predecessor and condition when g is IF_TRUE, and vice versa.
func branchTwins(c *circuit.Circuit, g circuit.GateRef) []circuit.GateRef {
	want := circuit.OpIfFalse
	if c.Op(g) == circuit.OpIfFalse {
		want = circuit.OpIfTrue
	}
	pred, cond := c.In(g, 0), c.In(g, 1)

	var twins []circuit.GateRef
	for _, s := range c.StateSuccessors(pred) {
		if c.Op(s) == want && c.NumIns(s) > 1 && c.In(s, 1) == cond {
			twins = append(twins, s)
		}
	}
	return twins
}

// =============================================================================
// Control flow graph
// =============================================================================

// RunCFGSoundnessCheck verifies that every state predecessor of a
// discovered block was itself discovered from STATE_ENTRY.
func RunCFGSoundnessCheck(c *circuit.Circuit, tree *dominance.Tree) *Violation {
	for _, g := range tree.Blocks {
		for i, pred := range c.StateIns(g) {
			if _, ok := tree.Block(pred); !ok {
				return violation(CheckCFGSoundness, []circuit.GateRef{g, pred},
					"state input %d of %s is %s, which is not reachable from STATE_ENTRY", i, c.Describe(g), c.Describe(pred))
			}
		}
	}
	return nil
}

const (
	white uint8 = iota
	grey
	black
)

// RunCFGIsDAGCheck verifies that the state graph is acyclic once the edges
// leaving LOOP_BACK gates are removed.
//
// The offending edge is reported as [from, to].
func RunCFGIsDAGCheck(c *circuit.Circuit) *Violation {
	successors := func(g circuit.GateRef) []circuit.GateRef {
		if c.Op(g).IsLoopBack() {
			return nil
		}
		return c.StateSuccessors(g)
	}

	type frame struct {
		gate  circuit.GateRef
		succs []circuit.GateRef
		next  int
	}

	entry := c.Root(circuit.OpStateEntry)
	color := map[circuit.GateRef]uint8{entry: grey}
	stack := []frame{{gate: entry, succs: successors(entry)}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.succs) {
			color[top.gate] = black
			stack = stack[:len(stack)-1]
			continue
		}

		s := top.succs[top.next]
		top.next++
		switch color[s] {
		case grey:
			return violation(CheckCFGIsDAG, []circuit.GateRef{top.gate, s},
				"state edge %s -> %s closes a cycle that does not pass through LOOP_BACK", c.Describe(top.gate), c.Describe(s))
		case white:
			color[s] = grey
			stack = append(stack, frame{gate: s, succs: successors(s)})
		}
	}
	return nil
}

// RunCFGReducibilityCheck verifies that every loop is natural: each state
// successor of a LOOP_BACK gate dominates it.
func RunCFGReducibilityCheck(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex) *Violation {
	for b, g := range tree.Blocks {
		if !c.Op(g).IsLoopBack() {
			continue
		}
		succs := c.StateSuccessors(g)
		if len(succs) == 0 {
			return violation(CheckCFGReducibility, []circuit.GateRef{g}, "%s closes no loop", c.Describe(g))
		}
		for _, head := range succs {
			hb, ok := tree.Block(head)
			if !ok || !idx.IsAncestor(hb, b) {
				return violation(CheckCFGReducibility, []circuit.GateRef{head, g},
					"loop head %s does not dominate its back edge %s (B%d)", c.Describe(head), c.Describe(g), b)
			}
		}
	}
	return nil
}

// =============================================================================
// Fixed gates
// =============================================================================

// RunFixedGatesCheck verifies every fixed gate against its input layout,
// checks that selectors sit on a merge with one input per predecessor, and
// checks that every fixed input is defined in a block dominating the block
// where it is consumed.
//
// Fixed gates anchored to unreachable blocks are only schema-checked.
func RunFixedGatesCheck(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex) *Violation {
	fixed := c.Collect(circuit.OpCode.IsFixed)
	users := slices.Clone(tree.Blocks)

	for _, g := range fixed {
		if msg := schemaError(c, g); msg != "" {
			return violation(CheckFixedGates, []circuit.GateRef{g}, "%s %s", c.Describe(g), msg)
		}
		if _, ok := schedule.AnchorBlock(c, tree, g); !ok {
			continue
		}
		users = append(users, g)

		if !c.Op(g).IsSelector() {
			continue
		}
		head := c.In(g, 0)
		if !c.Op(head).IsCFGMerge() {
			return violation(CheckFixedGates, []circuit.GateRef{g, head},
				"%s is anchored to %s, want MERGE or LOOP_BEGIN", c.Describe(g), c.Describe(head))
		}
		s := c.Schema(g)
		if got, want := s.Depends+s.Values, len(c.StateIns(head)); got != want {
			return violation(CheckFixedGates, []circuit.GateRef{g, head},
				"%s selects %d inputs but %s has %d predecessors", c.Describe(g), got, c.Describe(head), want)
		}
	}

	for _, u := range users {
		states := c.Schema(u).States
		for i, in := range c.Ins(u) {
			if i < states || !c.Op(in).IsFixed() {
				continue
			}
			def, ok := schedule.AnchorBlock(c, tree, in)
			if !ok {
				return violation(CheckFixedGates, []circuit.GateRef{u, in},
					"input %d of %s is %s, which is not in a reachable block", i, c.Describe(u), c.Describe(in))
			}
			use, ok := schedule.ConsumerBlock(c, tree, u, i)
			if !ok {
				continue
			}
			if !idx.IsAncestor(def, use) {
				return violation(CheckFixedGates, []circuit.GateRef{u, in},
					"input %d of %s is %s in B%d, which does not dominate B%d", i, c.Describe(u), c.Describe(in), def, use)
			}
		}
	}
	return nil
}

// =============================================================================
// Data flow
// =============================================================================

// RunFlowCyclesCheck verifies that every cycle over value and dependency
// edges passes through a selector.
//
// The violation carries the full cycle, each gate using the next, with the
// first gate repeated at the end.
func RunFlowCyclesCheck(c *circuit.Circuit) *Violation {
	flowIns := func(g circuit.GateRef) []circuit.GateRef {
		if c.Op(g).IsSelector() {
			return nil
		}
		ins := c.Ins(g)
		return ins[min(c.Schema(g).States, len(ins)):]
	}

	type frame struct {
		gate circuit.GateRef
		next int
	}

	color := make([]uint8, c.Len())
	for root := range c.Gates() {
		if color[root] != white {
			continue
		}
		color[root] = grey
		stack := []frame{{gate: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			ins := flowIns(top.gate)
			if top.next == len(ins) {
				color[top.gate] = black
				stack = stack[:len(stack)-1]
				continue
			}

			in := ins[top.next]
			top.next++
			if !c.Valid(in) {
				continue
			}
			switch color[in] {
			case grey:
				path := make([]circuit.GateRef, 0, len(stack)+1)
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i].gate == in {
						for _, f := range stack[i:] {
							path = append(path, f.gate)
						}
						break
					}
				}
				path = append(path, in)
				return violation(CheckFlowCycles, path, "data cycle without a selector: %s", describePath(c, path))
			case white:
				color[in] = grey
				stack = append(stack, frame{gate: in})
			}
		}
	}
	return nil
}

func describePath(c *circuit.Circuit, path []circuit.GateRef) string {
	parts := make([]string, len(path))
	for i, g := range path {
		parts[i] = c.Describe(g)
	}
	return strings.Join(parts, " -> ")
}

// =============================================================================
// Schedulability
// =============================================================================

// RunSchedulabilityCheck recomputes both scheduling bounds and verifies
// that every schedulable gate has a non-empty placement window: an upper
// bound that dominates its lower bound.
//
// A schedulable gate with no lower bound has no use reachable from a block
// and is reported as dead.
func RunSchedulabilityCheck(c *circuit.Circuit, tree *dominance.Tree, idx *dominance.AncestorIndex) *Violation {
	gates := c.Collect(circuit.OpCode.IsSchedulable)
	for _, g := range gates {
		if msg := schemaError(c, g); msg != "" {
			return violation(CheckSchedulability, []circuit.GateRef{g}, "%s %s", c.Describe(g), msg)
		}
	}

	upper, err := schedule.CalculateUpperBound(c, tree, idx, gates)
	if err != nil {
		return boundViolation(err)
	}
	lower, err := schedule.CalculateLowerBound(c, tree, idx, gates, nil)
	if err != nil {
		return boundViolation(err)
	}

	for _, g := range gates {
		lb, ok := lower[g]
		if !ok {
			return violation(CheckSchedulability, []circuit.GateRef{g},
				"%s has no use reachable from a block", c.Describe(g))
		}
		if ub := upper[g]; !idx.IsAncestor(ub, lb) {
			return violation(CheckSchedulability, []circuit.GateRef{g},
				"%s has upper bound B%d, which does not dominate its lower bound B%d", c.Describe(g), ub, lb)
		}
	}
	return nil
}

func boundViolation(err error) *Violation {
	var be *schedule.BoundError
	if !errors.As(err, &be) {
		return violation(CheckSchedulability, nil, "%v", err)
	}
	gates := []circuit.GateRef{be.Gate}
	for _, in := range be.Inputs {
		if in != be.Gate && !slices.Contains(gates, in) {
			gates = append(gates, in)
		}
	}
	return violation(CheckSchedulability, gates, "%s", be.Error())
}
