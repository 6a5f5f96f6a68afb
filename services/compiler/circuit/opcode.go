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
	"strings"
)

// =============================================================================
// Opcodes
// =============================================================================

// OpCode identifies the operation performed by a gate.
type OpCode uint8

const (
	OpNop OpCode = iota

	// Roots. Every circuit has exactly one gate of each.
	OpCircuitRoot
	OpStateEntry
	OpDependEntry
	OpReturnList
	OpConstantList
	OpArgList

	// State gates (block heads).
	OpOrdinaryBlock
	OpIfTrue
	OpIfFalse
	OpSwitchCase
	OpDefaultCase
	OpMerge
	OpLoopBegin
	OpLoopBack

	// Fixed gates (pinned to the block of their first state input).
	// Terminators are fixed gates that end their block.
	OpReturn
	OpReturnVoid
	OpThrow
	OpValueSelector
	OpDependSelector
	OpDependRelay
	OpCall
	OpStore

	// Prolog.
	OpArg

	// Schedulable gates.
	OpConstant
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpAnd
	OpOr
	OpXor
	OpLsl
	OpLsr
	OpEq
	OpNe
	OpSlt
	OpSle
	OpSgt
	OpSge
	OpNeg
	OpNot
	OpZext
	OpTrunc
	OpTaggedToInt64
	OpInt64ToTagged
	OpLoad
	OpDependAnd

	numOpCodes
)

// Kind is the scheduling class of an opcode.
type Kind uint8

const (
	KindNop Kind = iota
	KindRoot
	KindProlog
	KindState
	KindFixed
	KindSchedulable
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNop:
		return "nop"
	case KindRoot:
		return "root"
	case KindProlog:
		return "prolog"
	case KindState:
		return "state"
	case KindFixed:
		return "fixed"
	case KindSchedulable:
		return "schedulable"
	default:
		return "unknown"
	}
}

// Variadic marks an input count that is taken from the gate's bit field.
const Variadic = -1

// opProperties describes the input layout and outputs of an opcode.
//
// Inputs are laid out as [states..., depends..., values..., root].
type opProperties struct {
	name     string
	kind     Kind
	states   int
	depends  int
	values   int
	root     OpCode // OpNop when no root input is expected
	value    bool   // produces a value
	depend   bool   // produces a dependency token
	selector bool   // merges values per control predecessor
}

var opTable = [numOpCodes]opProperties{
	OpNop: {name: "NOP", kind: KindNop},

	OpCircuitRoot:  {name: "CIRCUIT_ROOT", kind: KindRoot},
	OpStateEntry:   {name: "STATE_ENTRY", kind: KindState, root: OpCircuitRoot},
	OpDependEntry:  {name: "DEPEND_ENTRY", kind: KindRoot, root: OpCircuitRoot, depend: true},
	OpReturnList:   {name: "RETURN_LIST", kind: KindRoot, root: OpCircuitRoot},
	OpConstantList: {name: "CONSTANT_LIST", kind: KindRoot, root: OpCircuitRoot},
	OpArgList:      {name: "ARG_LIST", kind: KindRoot, root: OpCircuitRoot},

	OpOrdinaryBlock: {name: "ORDINARY_BLOCK", kind: KindState, states: 1},
	OpIfTrue:        {name: "IF_TRUE", kind: KindState, states: 1, values: 1},
	OpIfFalse:       {name: "IF_FALSE", kind: KindState, states: 1, values: 1},
	OpSwitchCase:    {name: "SWITCH_CASE", kind: KindState, states: 1, values: 1},
	OpDefaultCase:   {name: "DEFAULT_CASE", kind: KindState, states: 1, values: 1},
	OpMerge:         {name: "MERGE", kind: KindState, states: Variadic},
	OpLoopBegin:     {name: "LOOP_BEGIN", kind: KindState, states: 2},
	OpLoopBack:      {name: "LOOP_BACK", kind: KindState, states: 1},

	OpReturn:     {name: "RETURN", kind: KindFixed, states: 1, depends: 1, values: 1, root: OpReturnList},
	OpReturnVoid: {name: "RETURN_VOID", kind: KindFixed, states: 1, depends: 1, root: OpReturnList},
	OpThrow:      {name: "THROW", kind: KindFixed, states: 1, depends: 1, values: 1, root: OpReturnList},

	OpValueSelector:  {name: "VALUE_SELECTOR", kind: KindFixed, states: 1, values: Variadic, value: true, selector: true},
	OpDependSelector: {name: "DEPEND_SELECTOR", kind: KindFixed, states: 1, depends: Variadic, depend: true, selector: true},
	OpDependRelay:    {name: "DEPEND_RELAY", kind: KindFixed, states: 1, depends: 1, depend: true},
	OpCall:           {name: "CALL", kind: KindFixed, states: 1, depends: 1, values: Variadic, value: true, depend: true},
	OpStore:          {name: "STORE", kind: KindFixed, states: 1, depends: 1, values: 2, depend: true},

	OpArg: {name: "ARG", kind: KindProlog, root: OpArgList, value: true},

	OpConstant:      {name: "CONSTANT", kind: KindSchedulable, root: OpConstantList, value: true},
	OpAdd:           {name: "ADD", kind: KindSchedulable, values: 2, value: true},
	OpSub:           {name: "SUB", kind: KindSchedulable, values: 2, value: true},
	OpMul:           {name: "MUL", kind: KindSchedulable, values: 2, value: true},
	OpSDiv:          {name: "SDIV", kind: KindSchedulable, values: 2, value: true},
	OpAnd:           {name: "AND", kind: KindSchedulable, values: 2, value: true},
	OpOr:            {name: "OR", kind: KindSchedulable, values: 2, value: true},
	OpXor:           {name: "XOR", kind: KindSchedulable, values: 2, value: true},
	OpLsl:           {name: "LSL", kind: KindSchedulable, values: 2, value: true},
	OpLsr:           {name: "LSR", kind: KindSchedulable, values: 2, value: true},
	OpEq:            {name: "EQ", kind: KindSchedulable, values: 2, value: true},
	OpNe:            {name: "NE", kind: KindSchedulable, values: 2, value: true},
	OpSlt:           {name: "SLT", kind: KindSchedulable, values: 2, value: true},
	OpSle:           {name: "SLE", kind: KindSchedulable, values: 2, value: true},
	OpSgt:           {name: "SGT", kind: KindSchedulable, values: 2, value: true},
	OpSge:           {name: "SGE", kind: KindSchedulable, values: 2, value: true},
	OpNeg:           {name: "NEG", kind: KindSchedulable, values: 1, value: true},
	OpNot:           {name: "NOT", kind: KindSchedulable, values: 1, value: true},
	OpZext:          {name: "ZEXT", kind: KindSchedulable, values: 1, value: true},
	OpTrunc:         {name: "TRUNC", kind: KindSchedulable, values: 1, value: true},
	OpTaggedToInt64: {name: "TAGGED_TO_INT64", kind: KindSchedulable, values: 1, value: true},
	OpInt64ToTagged: {name: "INT64_TO_TAGGED", kind: KindSchedulable, values: 1, value: true},
	OpLoad:          {name: "LOAD", kind: KindSchedulable, depends: 1, values: 1, value: true, depend: true},
	OpDependAnd:     {name: "DEPEND_AND", kind: KindSchedulable, depends: Variadic, depend: true},
}

var opByName = func() map[string]OpCode {
	m := make(map[string]OpCode, numOpCodes)
	for op := OpCode(0); op < numOpCodes; op++ {
		m[opTable[op].name] = op
	}
	return m
}()

// ParseOpCode resolves an opcode by its upper-case name, e.g. "VALUE_SELECTOR".
func ParseOpCode(name string) (OpCode, error) {
	op, ok := opByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return OpNop, fmt.Errorf("%w: %q", ErrUnknownOpCode, name)
	}
	return op, nil
}

func (op OpCode) props() opProperties {
	if op >= numOpCodes {
		return opProperties{name: "INVALID", kind: KindNop}
	}
	return opTable[op]
}

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool { return op < numOpCodes }

// String returns the opcode name.
func (op OpCode) String() string { return op.props().name }

// Kind returns the scheduling class of op.
func (op OpCode) Kind() Kind { return op.props().kind }

// IsNop reports whether op is a dead gate.
func (op OpCode) IsNop() bool { return op == OpNop }

// IsRoot reports whether op is the circuit root or one of the root lists.
func (op OpCode) IsRoot() bool { return op.Kind() == KindRoot }

// IsProlog reports whether op hangs off the argument list.
func (op OpCode) IsProlog() bool { return op.Kind() == KindProlog }

// IsState reports whether op heads a basic block.
func (op OpCode) IsState() bool { return op.Kind() == KindState }

// IsFixed reports whether op is pinned to the block of its first state input.
func (op OpCode) IsFixed() bool { return op.Kind() == KindFixed }

// IsSchedulable reports whether op floats between blocks.
func (op OpCode) IsSchedulable() bool { return op.Kind() == KindSchedulable }

// IsCFGMerge reports whether op joins several control predecessors.
func (op OpCode) IsCFGMerge() bool { return op == OpMerge || op == OpLoopBegin }

// IsLoopHead reports whether op starts a natural loop.
func (op OpCode) IsLoopHead() bool { return op == OpLoopBegin }

// IsLoopBack reports whether op is the source of a loop back edge.
func (op OpCode) IsLoopBack() bool { return op == OpLoopBack }

// IsSelector reports whether op merges data per control predecessor.
// Selectors are the only gates allowed to close a data cycle.
func (op OpCode) IsSelector() bool { return op.props().selector }

// IsTerminal reports whether op ends the function.
func (op OpCode) IsTerminal() bool {
	return op == OpReturn || op == OpReturnVoid || op == OpThrow
}

// HasValue reports whether gates with op produce a value.
func (op OpCode) HasValue() bool { return op.props().value }

// HasDepend reports whether gates with op produce a dependency token.
func (op OpCode) HasDepend() bool { return op.props().depend }

// =============================================================================
// Schema
// =============================================================================

// InputSchema is the expected input layout of a gate.
type InputSchema struct {
	States  int
	Depends int
	Values  int
	Root    OpCode // OpNop when the gate takes no root input
}

// NumIns returns the total number of inputs the schema describes.
func (s InputSchema) NumIns() int {
	n := s.States + s.Depends + s.Values
	if s.Root != OpNop {
		n++
	}
	return n
}

// DependStart returns the index of the first dependency input.
func (s InputSchema) DependStart() int { return s.States }

// ValueStart returns the index of the first value input.
func (s InputSchema) ValueStart() int { return s.States + s.Depends }

// RootIndex returns the index of the root input, or -1.
func (s InputSchema) RootIndex() int {
	if s.Root == OpNop {
		return -1
	}
	return s.States + s.Depends + s.Values
}

// MaxVariadicInputs bounds the size of a variadic input group.
const MaxVariadicInputs = 1 << 16

// Schema returns the input layout for op, resolving variadic counts from bitField.
//
// A bit field above MaxVariadicInputs resolves to MaxVariadicInputs+1, a
// count no gate accepted by NewGate can have.
func Schema(op OpCode, bitField uint64) InputSchema {
	p := op.props()
	resolve := func(n int) int {
		if n != Variadic {
			return n
		}
		if bitField > MaxVariadicInputs {
			return MaxVariadicInputs + 1
		}
		return int(bitField)
	}
	return InputSchema{
		States:  resolve(p.states),
		Depends: resolve(p.depends),
		Values:  resolve(p.values),
		Root:    p.root,
	}
}

// IsVariadic reports whether op takes a bit-field-sized input group.
func (op OpCode) IsVariadic() bool {
	p := op.props()
	return p.states == Variadic || p.depends == Variadic || p.values == Variadic
}

// =============================================================================
// Value types
// =============================================================================

// ValueType is the machine type of the value a gate produces.
type ValueType uint8

const (
	NoValue ValueType = iota
	I1
	I32
	I64
	F64
	Tagged
)

var valueTypeNames = [...]string{
	NoValue: "novalue",
	I1:      "i1",
	I32:     "i32",
	I64:     "i64",
	F64:     "f64",
	Tagged:  "tagged",
}

// String returns the lowercase type name.
func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "invalid"
}

// ParseValueType resolves a lowercase type name. The empty string is NoValue.
func ParseValueType(name string) (ValueType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return NoValue, nil
	}
	for i, n := range valueTypeNames {
		if n == name {
			return ValueType(i), nil
		}
	}
	return NoValue, fmt.Errorf("%w: %q", ErrUnknownValueType, name)
}
