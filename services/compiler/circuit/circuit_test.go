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
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBranch creates entry -> IF_TRUE/IF_FALSE -> MERGE on arg0.
func buildBranch(t *testing.T) (c *Circuit, ifTrue, ifFalse, merge GateRef) {
	t.Helper()
	b := NewBuilder()
	cond := b.Arg(I1, 0)
	ifTrue, ifFalse = b.Branch(b.Entry(), cond)
	merge = b.Merge(ifTrue, ifFalse)
	b.ReturnVoid(merge, b.DependEntry())
	c, err := b.Circuit()
	require.NoError(t, err)
	return c, ifTrue, ifFalse, merge
}

// =============================================================================
// Opcode table
// =============================================================================

func TestParseOpCode(t *testing.T) {
	op, err := ParseOpCode("value_selector")
	require.NoError(t, err)
	assert.Equal(t, OpValueSelector, op)
	assert.Equal(t, "VALUE_SELECTOR", op.String())

	_, err = ParseOpCode("IF_BRANCH")
	assert.ErrorIs(t, err, ErrUnknownOpCode)
}

func TestOpCode_Kinds(t *testing.T) {
	tests := []struct {
		op   OpCode
		kind Kind
	}{
		{OpCircuitRoot, KindRoot},
		{OpArgList, KindRoot},
		{OpStateEntry, KindState},
		{OpLoopBack, KindState},
		{OpReturn, KindFixed},
		{OpValueSelector, KindFixed},
		{OpArg, KindProlog},
		{OpConstant, KindSchedulable},
		{OpLoad, KindSchedulable},
		{OpNop, KindNop},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.op.Kind())
		})
	}

	assert.True(t, OpMerge.IsCFGMerge())
	assert.True(t, OpLoopBegin.IsCFGMerge())
	assert.False(t, OpIfTrue.IsCFGMerge())
	assert.True(t, OpDependSelector.IsSelector())
	assert.False(t, OpCall.IsSelector())
	assert.True(t, OpThrow.IsTerminal())
}

func TestSchema_Variadic(t *testing.T) {
	s := Schema(OpValueSelector, 3)
	assert.Equal(t, InputSchema{States: 1, Values: 3}, s)
	assert.Equal(t, 4, s.NumIns())
	assert.Equal(t, 1, s.ValueStart())
	assert.Equal(t, -1, s.RootIndex())

	r := Schema(OpReturn, 0)
	assert.Equal(t, 4, r.NumIns())
	assert.Equal(t, 3, r.RootIndex())
	assert.Equal(t, OpReturnList, r.Root)

	assert.Equal(t, 2, Schema(OpMerge, 2).States)
	assert.Equal(t, MaxVariadicInputs+1, Schema(OpMerge, 1<<63).States)
	assert.Equal(t, MaxVariadicInputs+1, Schema(OpDependAnd, math.MaxUint64).Depends)
	assert.True(t, OpCall.IsVariadic())
	assert.False(t, OpAdd.IsVariadic())
}

func TestParseValueType(t *testing.T) {
	typ, err := ParseValueType("I64")
	require.NoError(t, err)
	assert.Equal(t, I64, typ)

	typ, err = ParseValueType("")
	require.NoError(t, err)
	assert.Equal(t, NoValue, typ)

	_, err = ParseValueType("i128")
	assert.ErrorIs(t, err, ErrUnknownValueType)
}

// =============================================================================
// Circuit construction
// =============================================================================

func TestNew_Roots(t *testing.T) {
	c := New()
	require.Equal(t, len(rootOrder), c.Len())
	for i, op := range rootOrder {
		assert.Equal(t, GateRef(i), c.Root(op))
		assert.Equal(t, op, c.Op(GateRef(i)))
	}
	assert.Len(t, c.Uses(c.Root(OpCircuitRoot)), len(rootOrder)-1)
	assert.Equal(t, InvalidGate, c.Root(OpAdd))
}

func TestNewGate_Errors(t *testing.T) {
	c := New()

	_, err := c.NewGate(OpAdd, I64, 0, c.Root(OpArgList))
	assert.Error(t, err, "ADD with one input")

	_, err = c.NewGate(OpStateEntry, NoValue, 0, c.Root(OpCircuitRoot))
	assert.ErrorIs(t, err, ErrRootOpCode)

	_, err = c.NewGate(OpNeg, I64, 0, GateRef(99))
	assert.ErrorIs(t, err, ErrInvalidGate)

	_, err = c.NewGate(OpNop, NoValue, 0)
	assert.ErrorIs(t, err, ErrUnknownOpCode)

	_, err = c.NewGate(OpDependAnd, NoValue, MaxVariadicInputs+1)
	assert.ErrorContains(t, err, "exceeds")
}

func TestNewGate_LinksUses(t *testing.T) {
	b := NewBuilder()
	x := b.Arg(I64, 0)
	y := b.Arg(I64, 1)
	sum := b.Binary(OpAdd, I64, x, y)
	c, err := b.Circuit()
	require.NoError(t, err)

	assert.Equal(t, []GateRef{x, y}, c.Ins(sum))
	assert.Contains(t, c.Uses(x), Use{User: sum, Index: 0})
	assert.Contains(t, c.Uses(y), Use{User: sum, Index: 1})
	assert.Equal(t, "#8 ADD", c.Describe(sum))
}

func TestSetIn_MovesUse(t *testing.T) {
	b := NewBuilder()
	x := b.Arg(I64, 0)
	y := b.Arg(I64, 1)
	neg := b.Unary(OpNeg, I64, x)
	c, err := b.Circuit()
	require.NoError(t, err)

	require.NoError(t, c.SetIn(neg, 0, y))
	assert.Empty(t, c.Uses(x))
	assert.Equal(t, []Use{{User: neg, Index: 0}}, c.Uses(y))

	assert.Error(t, c.SetIn(neg, 3, x))
}

func TestBuilder_StickyError(t *testing.T) {
	b := NewBuilder()
	bad := b.Gate(OpAdd, I64, 0)
	assert.Equal(t, InvalidGate, bad)
	assert.Equal(t, InvalidGate, b.Arg(I64, 0))

	_, err := b.Circuit()
	assert.Error(t, err)
}

func TestBuilder_CloseLoop(t *testing.T) {
	b := NewBuilder()
	head := b.LoopBegin(b.Entry())
	body := b.Block(head)
	back := b.CloseLoop(head, body)
	c, err := b.Circuit()
	require.NoError(t, err)

	assert.Equal(t, back, c.In(head, 1))
	assert.True(t, c.IsStateUse(Use{User: head, Index: 1}))
	assert.Equal(t, []GateRef{head}, c.StateSuccessors(back))
}

func TestKill_DetachesEdges(t *testing.T) {
	b := NewBuilder()
	x := b.Arg(I64, 0)
	neg := b.Unary(OpNeg, I64, x)
	not := b.Unary(OpNot, I64, neg)
	c, err := b.Circuit()
	require.NoError(t, err)

	require.NoError(t, c.Kill(neg))
	assert.Equal(t, OpNop, c.Op(neg))
	assert.Empty(t, c.Uses(x))
	assert.Equal(t, InvalidGate, c.In(not, 0))

	live := slices.Collect(c.Gates())
	assert.NotContains(t, live, neg)
	assert.Contains(t, live, not)
}

func TestStateSuccessors(t *testing.T) {
	c, ifTrue, ifFalse, merge := buildBranch(t)

	entry := c.Root(OpStateEntry)
	assert.Equal(t, []GateRef{ifTrue, ifFalse}, c.StateSuccessors(entry))
	assert.Equal(t, []GateRef{merge}, c.StateSuccessors(ifTrue))

	// RETURN_VOID is fixed: its state input is not a control edge.
	assert.Empty(t, c.StateSuccessors(merge))
	assert.Equal(t, []GateRef{ifTrue, ifFalse}, c.StateIns(merge))
}

func TestCollect(t *testing.T) {
	c, ifTrue, ifFalse, merge := buildBranch(t)
	states := c.Collect(OpCode.IsState)
	assert.Equal(t, []GateRef{c.Root(OpStateEntry), ifTrue, ifFalse, merge}, states)
}

// =============================================================================
// Raw records
// =============================================================================

func TestFromRecords_DerivesUses(t *testing.T) {
	c, _, _, _ := buildBranch(t)
	recs := Records(c)
	for i := range recs {
		recs[i].Uses = nil
	}
	rebuilt := FromRecords(recs)

	for _, g := range c.All() {
		assert.ElementsMatch(t, c.Uses(g), rebuilt.Uses(g), "uses of %s", c.Describe(g))
	}
	assert.Equal(t, Fingerprint(c), Fingerprint(rebuilt))
}

func TestFromRecords_KeepsOutOfRangeEdges(t *testing.T) {
	c, ifTrue, _, _ := buildBranch(t)
	recs := Records(c)
	recs[ifTrue].Ins[0] = 1000
	corrupted := FromRecords(recs)

	assert.Equal(t, GateRef(1000), corrupted.In(ifTrue, 0))
	assert.False(t, corrupted.Valid(corrupted.In(ifTrue, 0)))
	assert.NotEqual(t, Fingerprint(c), Fingerprint(corrupted))
}

func TestFingerprint_IgnoresUseOrder(t *testing.T) {
	c, _, _, _ := buildBranch(t)
	recs := Records(c)
	root := c.Root(OpCircuitRoot)
	slices.Reverse(recs[root].Uses)
	assert.Equal(t, Fingerprint(c), Fingerprint(FromRecords(recs)))
}

// =============================================================================
// Documents
// =============================================================================

const addArgsYAML = `
name: add_args
gates:
  - {id: 0, op: CIRCUIT_ROOT}
  - {id: 1, op: STATE_ENTRY, in: [0]}
  - {id: 2, op: DEPEND_ENTRY, in: [0]}
  - {id: 3, op: RETURN_LIST, in: [0]}
  - {id: 4, op: CONSTANT_LIST, in: [0]}
  - {id: 5, op: ARG_LIST, in: [0]}
  - {id: 6, op: ARG, type: i64, bitfield: 0, in: [5]}
  - {id: 7, op: ARG, type: i64, bitfield: 1, in: [5]}
  - {id: 8, op: ADD, type: i64, in: [6, 7]}
  - {id: 9, op: RETURN, in: [1, 2, 8, 3]}
`

func TestParseDocument_Build(t *testing.T) {
	doc, err := ParseDocument([]byte(addArgsYAML))
	require.NoError(t, err)
	assert.Equal(t, "add_args", doc.Name)

	c, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, 10, c.Len())
	assert.Equal(t, OpAdd, c.Op(8))
	assert.Equal(t, I64, c.Type(8))
	assert.Equal(t, uint64(1), c.BitField(7))
	assert.Equal(t, GateRef(1), c.Root(OpStateEntry))
	assert.Contains(t, c.Uses(8), Use{User: 9, Index: 2})
}

func TestParseDocument_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "gates: [\n"},
		{"missing name", "gates:\n  - {id: 0, op: CIRCUIT_ROOT}\n"},
		{"no gates", "name: x\n"},
		{"bad type", "name: x\ngates:\n  - {id: 0, op: ADD, type: i7}\n"},
		{"sparse ids", "name: x\ngates:\n  - {id: 1, op: CIRCUIT_ROOT}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestDocument_Build_SaturatesEdgeTargets(t *testing.T) {
	doc, err := ParseDocument([]byte(addArgsYAML))
	require.NoError(t, err)
	doc.Gates[8].In = []int{6 + 1<<32, math.MinInt64}

	c, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, GateRef(math.MaxInt32), c.In(8, 0))
	assert.Equal(t, GateRef(math.MinInt32), c.In(8, 1))
	assert.False(t, c.Valid(c.In(8, 0)))
	assert.False(t, c.Valid(c.In(8, 1)))
	assert.NotContains(t, c.Uses(6), Use{User: 8, Index: 0})
}

func TestDocument_UnknownOpCode(t *testing.T) {
	doc, err := ParseDocument([]byte("name: x\ngates:\n  - {id: 0, op: IF_BRANCH}\n"))
	require.NoError(t, err)
	_, err = doc.Build()
	assert.True(t, errors.Is(err, ErrUnknownOpCode))
}

func TestNewDocument_Marshal(t *testing.T) {
	c, _, _, _ := buildBranch(t)
	data, err := NewDocument("branch", c).Marshal()
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	rebuilt, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(c), Fingerprint(rebuilt))
}
