// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package circuittest provides small hand-built circuits shared by the
// scheduler, verifier, and pipeline tests.
package circuittest

import (
	"testing"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Well-formed circuits
// =============================================================================

// StraightLine is a single-block function returning x + y.
type StraightLine struct {
	C         *circuit.Circuit
	X, Y, Sum circuit.GateRef
	Ret       circuit.GateRef
}

// NewStraightLine builds
//
//	B0: return arg0 + arg1
func NewStraightLine(tb testing.TB) *StraightLine {
	tb.Helper()
	b := circuit.NewBuilder()
	f := &StraightLine{}
	f.X = b.Arg(circuit.I64, 0)
	f.Y = b.Arg(circuit.I64, 1)
	f.Sum = b.Binary(circuit.OpAdd, circuit.I64, f.X, f.Y)
	f.Ret = b.Return(b.Entry(), b.DependEntry(), f.Sum)
	f.C = mustBuild(tb, b)
	return f
}

// Diamond is an if/else joined by a merge with a selector.
type Diamond struct {
	C               *circuit.Circuit
	X, Zero, Cond   circuit.GateRef
	IfTrue, IfFalse circuit.GateRef
	Neg, One, Inc   circuit.GateRef
	Merge, Phi, Ret circuit.GateRef
}

// NewDiamond builds
//
//	B0: cond = arg0 < 0
//	B1: IF_TRUE(cond)   neg = -arg0
//	B2: IF_FALSE(cond)  inc = arg0 + 1
//	B3: MERGE           return phi(neg, inc)
func NewDiamond(tb testing.TB) *Diamond {
	tb.Helper()
	b := circuit.NewBuilder()
	f := &Diamond{}
	f.X = b.Arg(circuit.I64, 0)
	f.Zero = b.Constant(circuit.I64, 0)
	f.Cond = b.Binary(circuit.OpSlt, circuit.I1, f.X, f.Zero)
	f.IfTrue, f.IfFalse = b.Branch(b.Entry(), f.Cond)
	f.Neg = b.Unary(circuit.OpNeg, circuit.I64, f.X)
	f.One = b.Constant(circuit.I64, 1)
	f.Inc = b.Binary(circuit.OpAdd, circuit.I64, f.X, f.One)
	f.Merge = b.Merge(f.IfTrue, f.IfFalse)
	f.Phi = b.Selector(circuit.I64, f.Merge, f.Neg, f.Inc)
	f.Ret = b.Return(f.Merge, b.DependEntry(), f.Phi)
	f.C = mustBuild(tb, b)
	return f
}

// Loop is a counting loop.
type Loop struct {
	C                *circuit.Circuit
	N, Init, One     circuit.GateRef
	Head, Phi, Cond  circuit.GateRef
	Body, Exit, Back circuit.GateRef
	Next, Ret        circuit.GateRef
}

// NewLoop builds
//
//	B0: entry
//	B1: LOOP_BEGIN      i = phi(0, next); cond = i < arg0
//	B2: IF_TRUE(cond)   body
//	B3: LOOP_BACK       next = i + 1
//	B4: IF_FALSE(cond)  return i
func NewLoop(tb testing.TB) *Loop {
	tb.Helper()
	b := circuit.NewBuilder()
	f := &Loop{}
	f.N = b.Arg(circuit.I64, 0)
	f.Init = b.Constant(circuit.I64, 0)
	f.Head = b.LoopBegin(b.Entry())
	f.Phi = b.Selector(circuit.I64, f.Head, f.Init, circuit.InvalidGate)
	f.Cond = b.Binary(circuit.OpSlt, circuit.I1, f.Phi, f.N)
	f.Body, f.Exit = b.Branch(f.Head, f.Cond)
	f.One = b.Constant(circuit.I64, 1)
	f.Next = b.Binary(circuit.OpAdd, circuit.I64, f.Phi, f.One)
	f.Back = b.CloseLoop(f.Head, f.Body)
	b.Patch(f.Phi, 2, f.Next)
	f.Ret = b.Return(f.Exit, b.DependEntry(), f.Phi)
	f.C = mustBuild(tb, b)
	return f
}

// NewArgs builds a single-block function declaring one ARG per index, in
// the given order, and returning nothing.
func NewArgs(tb testing.TB, indices ...uint64) (*circuit.Circuit, []circuit.GateRef) {
	tb.Helper()
	b := circuit.NewBuilder()
	args := make([]circuit.GateRef, len(indices))
	for i, idx := range indices {
		args[i] = b.Arg(circuit.I64, idx)
	}
	b.ReturnVoid(b.Entry(), b.DependEntry())
	return mustBuild(tb, b), args
}

// =============================================================================
// Broken circuits
// =============================================================================

// Incomparable is a diamond whose merge computes a value from two calls
// made on different sides of the branch.
type Incomparable struct {
	C                *circuit.Circuit
	Diamond          *Diamond
	Left, Right, Bad circuit.GateRef
}

// NewIncomparable builds a diamond where B3 computes left + right, with
// left pinned to B1 and right pinned to B2. Neither block dominates the
// other, so the sum has no upper bound.
func NewIncomparable(tb testing.TB) *Incomparable {
	tb.Helper()
	b := circuit.NewBuilder()
	d := &Diamond{}
	d.X = b.Arg(circuit.I64, 0)
	d.Zero = b.Constant(circuit.I64, 0)
	d.Cond = b.Binary(circuit.OpSlt, circuit.I1, d.X, d.Zero)
	d.IfTrue, d.IfFalse = b.Branch(b.Entry(), d.Cond)
	d.Merge = b.Merge(d.IfTrue, d.IfFalse)
	f := &Incomparable{Diamond: d}
	f.Left = b.Call(circuit.I64, d.IfTrue, b.DependEntry())
	f.Right = b.Call(circuit.I64, d.IfFalse, b.DependEntry())
	f.Bad = b.Binary(circuit.OpAdd, circuit.I64, f.Left, f.Right)
	d.Ret = b.Return(d.Merge, b.DependEntry(), f.Bad)
	f.C = mustBuild(tb, b)
	d.C = f.C
	return f
}

// Irreducible has a loop entered from one branch and closed from the other,
// so the loop head does not dominate its latch.
type Irreducible struct {
	C               *circuit.Circuit
	IfTrue, IfFalse circuit.GateRef
	Head, Back      circuit.GateRef
}

// NewIrreducible builds
//
//	B0 -> IF_TRUE -> LOOP_BEGIN
//	B0 -> IF_FALSE -> LOOP_BACK -> LOOP_BEGIN
func NewIrreducible(tb testing.TB) *Irreducible {
	tb.Helper()
	b := circuit.NewBuilder()
	f := &Irreducible{}
	cond := b.Arg(circuit.I1, 0)
	f.IfTrue, f.IfFalse = b.Branch(b.Entry(), cond)
	f.Head = b.LoopBegin(f.IfTrue)
	f.Back = b.CloseLoop(f.Head, f.IfFalse)
	b.ReturnVoid(f.Head, b.DependEntry())
	f.C = mustBuild(tb, b)
	return f
}

// DataCycle has two additions feeding each other with no selector between.
type DataCycle struct {
	C    *circuit.Circuit
	A, B circuit.GateRef
}

// NewDataCycle builds a = arg0 + b; b = a + 1; return a.
func NewDataCycle(tb testing.TB) *DataCycle {
	tb.Helper()
	b := circuit.NewBuilder()
	f := &DataCycle{}
	x := b.Arg(circuit.I64, 0)
	one := b.Constant(circuit.I64, 1)
	f.A = b.Binary(circuit.OpAdd, circuit.I64, x, circuit.InvalidGate)
	f.B = b.Binary(circuit.OpAdd, circuit.I64, f.A, one)
	b.Patch(f.A, 1, f.B)
	b.Return(b.Entry(), b.DependEntry(), f.A)
	f.C = mustBuild(tb, b)
	return f
}

// NewDeadValue builds a straight-line function plus a multiplication nothing
// uses. It returns the circuit and the dead gate.
func NewDeadValue(tb testing.TB) (*circuit.Circuit, circuit.GateRef) {
	tb.Helper()
	f := NewStraightLine(tb)
	dead, err := f.C.NewGate(circuit.OpMul, circuit.I64, 0, f.X, f.Y)
	require.NoError(tb, err)
	return f.C, dead
}

// Corrupt re-encodes c with input idx of gate g pointing at target. Use
// lists are kept from the original, so the edge is no longer mirrored.
func Corrupt(c *circuit.Circuit, g circuit.GateRef, idx int, target circuit.GateRef) *circuit.Circuit {
	recs := circuit.Records(c)
	recs[g].Ins[idx] = target
	return circuit.FromRecords(recs)
}

func mustBuild(tb testing.TB, b *circuit.Builder) *circuit.Circuit {
	tb.Helper()
	c, err := b.Circuit()
	require.NoError(tb, err)
	return c
}
