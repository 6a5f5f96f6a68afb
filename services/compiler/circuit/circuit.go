// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package circuit

import (
	"fmt"
	"iter"
	"slices"
)

// GateRef addresses a gate inside its circuit's arena.
type GateRef int32

// InvalidGate is a placeholder input that must be patched with SetIn
// before the circuit is scheduled. It is how forward references (loop back
// edges, loop-carried selector inputs) are built.
const InvalidGate GateRef = -1

// Use is one input slot of a user gate that refers to a given gate.
type Use struct {
	// User is the gate holding the input.
	User GateRef

	// Index is the position of the input within User's input list.
	Index int
}

type gate struct {
	op       OpCode
	typ      ValueType
	bitField uint64
	ins      []GateRef
	uses     []Use
}

// Circuit is an arena of gates.
//
// The first gates are always the roots, in this order: CIRCUIT_ROOT,
// STATE_ENTRY, DEPEND_ENTRY, RETURN_LIST, CONSTANT_LIST, ARG_LIST.
type Circuit struct {
	gates []gate
	roots map[OpCode]GateRef
}

var rootOrder = []OpCode{
	OpCircuitRoot,
	OpStateEntry,
	OpDependEntry,
	OpReturnList,
	OpConstantList,
	OpArgList,
}

// New creates a circuit containing only its root gates.
func New() *Circuit {
	c := &Circuit{
		gates: make([]gate, 0, 64),
		roots: make(map[OpCode]GateRef, len(rootOrder)),
	}
	for _, op := range rootOrder {
		ref := GateRef(len(c.gates))
		var ins []GateRef
		if op != OpCircuitRoot {
			ins = []GateRef{c.roots[OpCircuitRoot]}
		}
		c.gates = append(c.gates, gate{op: op, ins: ins})
		c.roots[op] = ref
		for i, in := range ins {
			c.gates[in].uses = append(c.gates[in].uses, Use{User: ref, Index: i})
		}
	}
	return c
}

// NewGate appends a gate and links its uses.
//
// Inputs must be existing gates or InvalidGate. The input count is checked
// against the opcode schema; input kinds are left to the verifier.
func (c *Circuit) NewGate(op OpCode, typ ValueType, bitField uint64, ins ...GateRef) (GateRef, error) {
	if !op.Valid() || op == OpNop {
		return InvalidGate, fmt.Errorf("%w: %d", ErrUnknownOpCode, op)
	}
	if _, isRoot := c.roots[op]; isRoot {
		return InvalidGate, fmt.Errorf("%w: %s", ErrRootOpCode, op)
	}
	if op.IsVariadic() && bitField > MaxVariadicInputs {
		return InvalidGate, fmt.Errorf("%s variadic count %d exceeds %d", op, bitField, MaxVariadicInputs)
	}
	want := Schema(op, bitField).NumIns()
	if len(ins) != want {
		return InvalidGate, fmt.Errorf("%s expects %d inputs, got %d", op, want, len(ins))
	}
	for _, in := range ins {
		if in != InvalidGate && !c.Valid(in) {
			return InvalidGate, fmt.Errorf("%w: %d", ErrInvalidGate, in)
		}
	}

	ref := GateRef(len(c.gates))
	c.gates = append(c.gates, gate{
		op:       op,
		typ:      typ,
		bitField: bitField,
		ins:      slices.Clone(ins),
	})
	for i, in := range ins {
		if in != InvalidGate {
			c.gates[in].uses = append(c.gates[in].uses, Use{User: ref, Index: i})
		}
	}
	return ref, nil
}

// SetIn replaces input idx of g, keeping use lists consistent.
func (c *Circuit) SetIn(g GateRef, idx int, in GateRef) error {
	if !c.Valid(g) {
		return fmt.Errorf("%w: %d", ErrInvalidGate, g)
	}
	if in != InvalidGate && !c.Valid(in) {
		return fmt.Errorf("%w: %d", ErrInvalidGate, in)
	}
	ins := c.gates[g].ins
	if idx < 0 || idx >= len(ins) {
		return fmt.Errorf("gate %d has no input %d", g, idx)
	}
	if old := ins[idx]; old != InvalidGate && c.Valid(old) {
		c.removeUse(old, Use{User: g, Index: idx})
	}
	ins[idx] = in
	if in != InvalidGate {
		c.gates[in].uses = append(c.gates[in].uses, Use{User: g, Index: idx})
	}
	return nil
}

// Kill turns g into a NOP and detaches all of its edges.
func (c *Circuit) Kill(g GateRef) error {
	if !c.Valid(g) {
		return fmt.Errorf("%w: %d", ErrInvalidGate, g)
	}
	gt := &c.gates[g]
	for i, in := range gt.ins {
		if in != InvalidGate && c.Valid(in) {
			c.removeUse(in, Use{User: g, Index: i})
		}
	}
	for _, u := range slices.Clone(gt.uses) {
		c.gates[u.User].ins[u.Index] = InvalidGate
	}
	*gt = gate{op: OpNop}
	return nil
}

func (c *Circuit) removeUse(of GateRef, u Use) {
	uses := c.gates[of].uses
	if i := slices.Index(uses, u); i >= 0 {
		c.gates[of].uses = slices.Delete(uses, i, i+1)
	}
}

// Len returns the number of gates in the arena, including dead ones.
func (c *Circuit) Len() int { return len(c.gates) }

// Valid reports whether g addresses a gate of this circuit.
func (c *Circuit) Valid(g GateRef) bool { return g >= 0 && int(g) < len(c.gates) }

// Root returns the canonical root gate for op, e.g. Root(OpStateEntry).
func (c *Circuit) Root(op OpCode) GateRef {
	if r, ok := c.roots[op]; ok {
		return r
	}
	return InvalidGate
}

// Op returns the opcode of g.
func (c *Circuit) Op(g GateRef) OpCode { return c.gates[g].op }

// Type returns the value type produced by g.
func (c *Circuit) Type(g GateRef) ValueType { return c.gates[g].typ }

// BitField returns the opcode-specific payload of g: the argument index for
// ARG, the constant for CONSTANT, the input count for variadic gates.
func (c *Circuit) BitField(g GateRef) uint64 { return c.gates[g].bitField }

// ID returns the diagnostic identity of g.
func (c *Circuit) ID(g GateRef) int { return int(g) }

// Ins returns the ordered inputs of g. The slice must not be modified.
func (c *Circuit) Ins(g GateRef) []GateRef { return c.gates[g].ins }

// In returns input idx of g.
func (c *Circuit) In(g GateRef, idx int) GateRef { return c.gates[g].ins[idx] }

// NumIns returns the number of inputs of g.
func (c *Circuit) NumIns(g GateRef) int { return len(c.gates[g].ins) }

// Uses returns the users of g. The slice must not be modified.
func (c *Circuit) Uses(g GateRef) []Use { return c.gates[g].uses }

// Schema returns the expected input layout of g.
func (c *Circuit) Schema(g GateRef) InputSchema {
	return Schema(c.gates[g].op, c.gates[g].bitField)
}

// StateIns returns the control predecessors of g.
func (c *Circuit) StateIns(g GateRef) []GateRef {
	n := min(c.Schema(g).States, len(c.gates[g].ins))
	return c.gates[g].ins[:n]
}

// IsStateUse reports whether u occupies a state input slot of a state gate,
// i.e. whether it is a control-flow edge.
func (c *Circuit) IsStateUse(u Use) bool {
	if !c.Valid(u.User) || !c.Op(u.User).IsState() {
		return false
	}
	return u.Index < c.Schema(u.User).States
}

// StateSuccessors returns the state gates that take g as a control predecessor,
// in use-list order. A successor reached through several slots is listed once.
func (c *Circuit) StateSuccessors(g GateRef) []GateRef {
	var succs []GateRef
	for _, u := range c.gates[g].uses {
		if c.IsStateUse(u) && !slices.Contains(succs, u.User) {
			succs = append(succs, u.User)
		}
	}
	return succs
}

// All returns every gate reference in arena order, dead gates included.
func (c *Circuit) All() []GateRef {
	refs := make([]GateRef, len(c.gates))
	for i := range refs {
		refs[i] = GateRef(i)
	}
	return refs
}

// Gates iterates over the live gates in arena order.
func (c *Circuit) Gates() iter.Seq[GateRef] {
	return func(yield func(GateRef) bool) {
		for i := range c.gates {
			if c.gates[i].op == OpNop {
				continue
			}
			if !yield(GateRef(i)) {
				return
			}
		}
	}
}

// Collect returns the live gates whose opcode satisfies pred, in arena order.
func (c *Circuit) Collect(pred func(OpCode) bool) []GateRef {
	var refs []GateRef
	for i := range c.gates {
		if op := c.gates[i].op; op != OpNop && pred(op) {
			refs = append(refs, GateRef(i))
		}
	}
	return refs
}

// Describe formats g for diagnostics, e.g. "#12 ADD".
func (c *Circuit) Describe(g GateRef) string {
	if !c.Valid(g) {
		return fmt.Sprintf("#%d <invalid>", g)
	}
	return fmt.Sprintf("#%d %s", g, c.gates[g].op)
}
