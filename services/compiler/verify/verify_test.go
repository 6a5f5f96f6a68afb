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
	"context"
	"testing"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/circuit/circuittest"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCircuit(t *testing.T, b *circuit.Builder) *circuit.Circuit {
	t.Helper()
	c, err := b.Circuit()
	require.NoError(t, err)
	return c
}

// requireViolation runs the verifier on c and asserts it stops at check.
func requireViolation(t *testing.T, c *circuit.Circuit, check Check) *Violation {
	t.Helper()
	report, err := Run(context.Background(), c, Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrVerificationFailed)

	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, check, v.Check, "violation: %s", v.Message)

	require.NotNil(t, report)
	require.False(t, report.Passed())
	last := report.Checks[len(report.Checks)-1]
	assert.Equal(t, check, last.Check)
	assert.False(t, last.Passed)
	assert.Same(t, v, report.Violation())
	return v
}

// =============================================================================
// Well-formed circuits
// =============================================================================

func TestRun_ValidCircuitsPass(t *testing.T) {
	args, _ := circuittest.NewArgs(t, 2, 0, 1)
	circuits := map[string]*circuit.Circuit{
		"straight": circuittest.NewStraightLine(t).C,
		"diamond":  circuittest.NewDiamond(t).C,
		"loop":     circuittest.NewLoop(t).C,
		"args":     args,
	}
	for name, c := range circuits {
		t.Run(name, func(t *testing.T) {
			for _, algo := range []dominance.Algorithm{dominance.AlgorithmDataflow, dominance.AlgorithmCooperHarveyKennedy} {
				report, err := Run(context.Background(), c, Options{Algorithm: algo})
				require.NoError(t, err)
				assert.True(t, report.Passed())
				assert.Nil(t, report.Violation())
				require.Len(t, report.Checks, len(Checks))
				for i, res := range report.Checks {
					assert.Equal(t, Checks[i], res.Check)
					assert.True(t, res.Passed)
				}
				assert.Positive(t, report.Blocks)
			}
		})
	}
}

func TestRun_LoopBlocks(t *testing.T) {
	report, err := Run(context.Background(), circuittest.NewLoop(t).C, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Blocks)
}

// =============================================================================
// Data integrity
// =============================================================================

func TestRun_DataIntegrity(t *testing.T) {
	t.Run("unmirrored edge", func(t *testing.T) {
		d := circuittest.NewDiamond(t)
		c := circuittest.Corrupt(d.C, d.Inc, 1, d.Zero)
		v := requireViolation(t, c, CheckDataIntegrity)
		assert.Contains(t, v.Gates, d.Inc)
	})

	t.Run("out of range", func(t *testing.T) {
		d := circuittest.NewDiamond(t)
		c := circuittest.Corrupt(d.C, d.Neg, 0, circuit.GateRef(d.C.Len()+10))
		v := requireViolation(t, c, CheckDataIntegrity)
		assert.Contains(t, v.Gates, d.Neg)
	})

	t.Run("unset input", func(t *testing.T) {
		b := circuit.NewBuilder()
		head := b.LoopBegin(b.Entry())
		b.ReturnVoid(head, b.DependEntry())
		v := requireViolation(t, mustCircuit(t, b), CheckDataIntegrity)
		assert.Contains(t, v.Message, "unset")
	})

	t.Run("oversized variadic count", func(t *testing.T) {
		d := circuittest.NewDiamond(t)
		recs := circuit.Records(d.C)
		recs[d.Merge].BitField = 1 << 63
		v := requireViolation(t, circuit.FromRecords(recs), CheckDataIntegrity)
		assert.Equal(t, []circuit.GateRef{d.Merge}, v.Gates)
		assert.Contains(t, v.Message, "variadic inputs")
	})

	t.Run("document edge beyond gate range", func(t *testing.T) {
		f := circuittest.NewStraightLine(t)
		doc := circuit.NewDocument("straight", f.C)
		doc.Gates[f.Sum].In[0] += 1 << 32
		c, err := doc.Build()
		require.NoError(t, err)
		v := requireViolation(t, c, CheckDataIntegrity)
		assert.Equal(t, []circuit.GateRef{f.Sum}, v.Gates)
		assert.Contains(t, v.Message, "outside the arena")
	})

	t.Run("missing root", func(t *testing.T) {
		recs := circuit.Records(circuit.New())
		recs[1].Op = circuit.OpNop
		recs[1].Ins = nil
		recs[1].Uses = nil
		v := requireViolation(t, circuit.FromRecords(recs), CheckDataIntegrity)
		assert.Contains(t, v.Message, "STATE_ENTRY")
	})
}

// =============================================================================
// State gates and control flow
// =============================================================================

func TestRun_StateGates(t *testing.T) {
	t.Run("unpaired branch", func(t *testing.T) {
		b := circuit.NewBuilder()
		cond := b.Arg(circuit.I1, 0)
		ifTrue := b.Gate(circuit.OpIfTrue, circuit.NoValue, 0, b.Entry(), cond)
		b.ReturnVoid(ifTrue, b.DependEntry())
		v := requireViolation(t, mustCircuit(t, b), CheckStateGates)
		assert.Equal(t, ifTrue, v.Gates[0])
	})

	t.Run("branch arm without a condition", func(t *testing.T) {
		d := circuittest.NewDiamond(t)
		recs := circuit.Records(d.C)
		recs[d.IfFalse].Ins = recs[d.IfFalse].Ins[:1]
		for i := range recs {
			recs[i].Uses = nil
		}
		v := requireViolation(t, circuit.FromRecords(recs), CheckStateGates)
		assert.Equal(t, []circuit.GateRef{d.IfFalse}, v.Gates)
		assert.Contains(t, v.Message, "has 1 inputs")
	})

	t.Run("loop begin without loop back", func(t *testing.T) {
		b := circuit.NewBuilder()
		head := b.LoopBegin(b.Entry())
		body := b.Block(head)
		b.Patch(head, 1, body)
		b.ReturnVoid(head, b.DependEntry())
		v := requireViolation(t, mustCircuit(t, b), CheckStateGates)
		assert.Contains(t, v.Message, "want LOOP_BACK")
	})

	t.Run("value where state expected", func(t *testing.T) {
		b := circuit.NewBuilder()
		x := b.Arg(circuit.I64, 0)
		blk := b.Block(b.Entry())
		m := b.Merge(blk, x)
		b.ReturnVoid(m, b.DependEntry())
		v := requireViolation(t, mustCircuit(t, b), CheckStateGates)
		assert.Equal(t, []circuit.GateRef{m}, v.Gates)
	})
}

func TestRun_CFGSoundness(t *testing.T) {
	// x and y only reach each other, so the merge has an undiscovered
	// predecessor.
	b := circuit.NewBuilder()
	x := b.Block(circuit.InvalidGate)
	y := b.Block(x)
	b.Patch(x, 0, y)
	m := b.Merge(b.Entry(), x)
	b.ReturnVoid(m, b.DependEntry())

	v := requireViolation(t, mustCircuit(t, b), CheckCFGSoundness)
	assert.Equal(t, []circuit.GateRef{m, x}, v.Gates)
}

func TestRun_CFGIsDAG(t *testing.T) {
	b := circuit.NewBuilder()
	m := b.Merge(b.Entry(), circuit.InvalidGate)
	blk := b.Block(m)
	b.Patch(m, 1, blk)
	b.ReturnVoid(blk, b.DependEntry())

	v := requireViolation(t, mustCircuit(t, b), CheckCFGIsDAG)
	assert.Equal(t, []circuit.GateRef{blk, m}, v.Gates)
}

func TestRun_CFGReducibility(t *testing.T) {
	f := circuittest.NewIrreducible(t)
	v := requireViolation(t, f.C, CheckCFGReducibility)
	assert.Equal(t, []circuit.GateRef{f.Head, f.Back}, v.Gates)
}

// =============================================================================
// Fixed gates
// =============================================================================

func TestRun_FixedGates(t *testing.T) {
	t.Run("input from a non-dominating block", func(t *testing.T) {
		b := circuit.NewBuilder()
		cond := b.Arg(circuit.I1, 0)
		ifTrue, ifFalse := b.Branch(b.Entry(), cond)
		m := b.Merge(ifTrue, ifFalse)
		call := b.Call(circuit.I64, ifTrue, b.DependEntry())
		ret := b.Return(m, call, call)

		v := requireViolation(t, mustCircuit(t, b), CheckFixedGates)
		assert.Equal(t, []circuit.GateRef{ret, call}, v.Gates)
		assert.Contains(t, v.Message, "does not dominate")
	})

	t.Run("selector arity", func(t *testing.T) {
		b := circuit.NewBuilder()
		cond := b.Arg(circuit.I1, 0)
		ifTrue, ifFalse := b.Branch(b.Entry(), cond)
		m := b.Merge(ifTrue, ifFalse)
		phi := b.Selector(circuit.I64, m, cond)
		b.Return(m, b.DependEntry(), phi)

		v := requireViolation(t, mustCircuit(t, b), CheckFixedGates)
		assert.Contains(t, v.Message, "selects 1 inputs")
	})

	t.Run("selector on an ordinary block", func(t *testing.T) {
		b := circuit.NewBuilder()
		x := b.Arg(circuit.I64, 0)
		phi := b.Selector(circuit.I64, b.Entry(), x)
		b.Return(b.Entry(), b.DependEntry(), phi)

		v := requireViolation(t, mustCircuit(t, b), CheckFixedGates)
		assert.Contains(t, v.Message, "want MERGE or LOOP_BEGIN")
	})
}

// =============================================================================
// Data flow and schedulability
// =============================================================================

func TestRun_FlowCycles(t *testing.T) {
	f := circuittest.NewDataCycle(t)
	v := requireViolation(t, f.C, CheckFlowCycles)

	require.GreaterOrEqual(t, len(v.Gates), 3)
	assert.Equal(t, v.Gates[0], v.Gates[len(v.Gates)-1], "path is closed")
	assert.Contains(t, v.Gates, f.A)
	assert.Contains(t, v.Gates, f.B)
	assert.Contains(t, v.Message, "->")
}

func TestRunFlowCyclesCheck_SelectorBreaksCycle(t *testing.T) {
	assert.Nil(t, RunFlowCyclesCheck(circuittest.NewLoop(t).C))
}

func TestRun_Schedulability(t *testing.T) {
	t.Run("dead value", func(t *testing.T) {
		c, dead := circuittest.NewDeadValue(t)
		v := requireViolation(t, c, CheckSchedulability)
		assert.Equal(t, []circuit.GateRef{dead}, v.Gates)
	})

	t.Run("incomparable inputs", func(t *testing.T) {
		f := circuittest.NewIncomparable(t)
		v := requireViolation(t, f.C, CheckSchedulability)
		assert.Equal(t, f.Bad, v.Gates[0])
		assert.Contains(t, v.Gates, f.Left)
		assert.Contains(t, v.Gates, f.Right)
		assert.Contains(t, v.Message, "incomparable inputs")
	})
}

// =============================================================================
// Run behavior
// =============================================================================

func TestRun_StopsAtFirstFailure(t *testing.T) {
	f := circuittest.NewIrreducible(t)
	report, err := Run(context.Background(), f.C, Options{})
	require.Error(t, err)

	require.Len(t, report.Checks, 5)
	for _, res := range report.Checks[:4] {
		assert.True(t, res.Passed, "%s", res.Check)
	}
	assert.Contains(t, report.String(), "FAIL")
	assert.Contains(t, report.String(), string(CheckCFGReducibility))
}

func TestRun_Context(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		//nolint:staticcheck // nil context is the case under test
		_, err := Run(nil, circuittest.NewDiamond(t).C, Options{})
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := Run(ctx, circuittest.NewDiamond(t).C, Options{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrVerificationFailed)
		require.NotNil(t, report)
		assert.Empty(t, report.Checks)
	})
}

func TestViolation_Error(t *testing.T) {
	v := &Violation{Check: CheckFlowCycles, Message: "data cycle"}
	assert.Equal(t, "flow_cycles: data cycle", v.Error())
}
