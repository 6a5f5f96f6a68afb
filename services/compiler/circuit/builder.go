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

// Builder constructs circuits gate by gate with a sticky error.
//
// Every method returns InvalidGate once an error has occurred; check Err
// (or call Circuit, which returns it) when done.
//
// Example:
//
//	b := circuit.NewBuilder()
//	x := b.Arg(circuit.I64, 0)
//	y := b.Arg(circuit.I64, 1)
//	sum := b.Binary(circuit.OpAdd, circuit.I64, x, y)
//	b.Return(b.Entry(), b.DependEntry(), sum)
//	c, err := b.Circuit()
type Builder struct {
	c   *Circuit
	err error
}

// NewBuilder starts a new circuit.
func NewBuilder() *Builder {
	return &Builder{c: New()}
}

// Err returns the first error encountered.
func (b *Builder) Err() error { return b.err }

// Circuit returns the built circuit and the first error encountered.
func (b *Builder) Circuit() (*Circuit, error) { return b.c, b.err }

// Raw exposes the circuit under construction.
func (b *Builder) Raw() *Circuit { return b.c }

// Gate appends an arbitrary gate.
func (b *Builder) Gate(op OpCode, typ ValueType, bitField uint64, ins ...GateRef) GateRef {
	if b.err != nil {
		return InvalidGate
	}
	g, err := b.c.NewGate(op, typ, bitField, ins...)
	if err != nil {
		b.err = err
		return InvalidGate
	}
	return g
}

// Patch replaces input idx of g (used to close loops).
func (b *Builder) Patch(g GateRef, idx int, in GateRef) {
	if b.err != nil {
		return
	}
	if err := b.c.SetIn(g, idx, in); err != nil {
		b.err = err
	}
}

// Entry returns the control entry (block 0 head).
func (b *Builder) Entry() GateRef { return b.c.Root(OpStateEntry) }

// DependEntry returns the initial dependency token.
func (b *Builder) DependEntry() GateRef { return b.c.Root(OpDependEntry) }

// Arg appends an argument projection with the given index.
func (b *Builder) Arg(typ ValueType, index uint64) GateRef {
	return b.Gate(OpArg, typ, index, b.c.Root(OpArgList))
}

// Constant appends a constant.
func (b *Builder) Constant(typ ValueType, value uint64) GateRef {
	return b.Gate(OpConstant, typ, value, b.c.Root(OpConstantList))
}

// Unary appends a one-operand schedulable gate.
func (b *Builder) Unary(op OpCode, typ ValueType, x GateRef) GateRef {
	return b.Gate(op, typ, 0, x)
}

// Binary appends a two-operand schedulable gate.
func (b *Builder) Binary(op OpCode, typ ValueType, x, y GateRef) GateRef {
	return b.Gate(op, typ, 0, x, y)
}

// Load appends a floating load ordered after dep.
func (b *Builder) Load(typ ValueType, dep, addr GateRef) GateRef {
	return b.Gate(OpLoad, typ, 0, dep, addr)
}

// Block appends an ORDINARY_BLOCK following pred.
func (b *Builder) Block(pred GateRef) GateRef {
	return b.Gate(OpOrdinaryBlock, NoValue, 0, pred)
}

// Branch appends the IF_TRUE / IF_FALSE pair leaving pred on cond.
func (b *Builder) Branch(pred, cond GateRef) (ifTrue, ifFalse GateRef) {
	ifTrue = b.Gate(OpIfTrue, NoValue, 0, pred, cond)
	ifFalse = b.Gate(OpIfFalse, NoValue, 0, pred, cond)
	return ifTrue, ifFalse
}

// Merge appends a MERGE joining preds.
func (b *Builder) Merge(preds ...GateRef) GateRef {
	return b.Gate(OpMerge, NoValue, uint64(len(preds)), preds...)
}

// LoopBegin appends a LOOP_BEGIN entered from pred. Its back edge input is
// left open until CloseLoop.
func (b *Builder) LoopBegin(pred GateRef) GateRef {
	return b.Gate(OpLoopBegin, NoValue, 0, pred, InvalidGate)
}

// CloseLoop appends a LOOP_BACK leaving latch and wires it into head.
func (b *Builder) CloseLoop(head, latch GateRef) GateRef {
	back := b.Gate(OpLoopBack, NoValue, 0, latch)
	b.Patch(head, 1, back)
	return back
}

// Selector appends a VALUE_SELECTOR on merge with one value per predecessor.
// Values may be InvalidGate and patched later.
func (b *Builder) Selector(typ ValueType, merge GateRef, values ...GateRef) GateRef {
	ins := append([]GateRef{merge}, values...)
	return b.Gate(OpValueSelector, typ, uint64(len(values)), ins...)
}

// DependSelector appends a DEPEND_SELECTOR on merge.
func (b *Builder) DependSelector(merge GateRef, deps ...GateRef) GateRef {
	ins := append([]GateRef{merge}, deps...)
	return b.Gate(OpDependSelector, NoValue, uint64(len(deps)), ins...)
}

// Relay appends a DEPEND_RELAY pinning dep into state's block.
func (b *Builder) Relay(state, dep GateRef) GateRef {
	return b.Gate(OpDependRelay, NoValue, 0, state, dep)
}

// Call appends a CALL in state's block.
func (b *Builder) Call(typ ValueType, state, dep GateRef, args ...GateRef) GateRef {
	ins := append([]GateRef{state, dep}, args...)
	return b.Gate(OpCall, typ, uint64(len(args)), ins...)
}

// Store appends a STORE in state's block.
func (b *Builder) Store(state, dep, addr, value GateRef) GateRef {
	return b.Gate(OpStore, NoValue, 0, state, dep, addr, value)
}

// Return appends a RETURN of value.
func (b *Builder) Return(state, dep, value GateRef) GateRef {
	return b.Gate(OpReturn, NoValue, 0, state, dep, value, b.c.Root(OpReturnList))
}

// ReturnVoid appends a RETURN_VOID.
func (b *Builder) ReturnVoid(state, dep GateRef) GateRef {
	return b.Gate(OpReturnVoid, NoValue, 0, state, dep, b.c.Root(OpReturnList))
}
