// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schedule lowers a sea-of-nodes circuit into a control flow graph.
//
// Every schedulable gate is placed as late as possible: in the lowest common
// dominator of the blocks that consume it. Fixed gates stay in the block of
// their anchoring state gate and ARG gates go to the entry block.
package schedule

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatesched.schedule"

// Options configures Run.
type Options struct {
	// Algorithm selects the immediate-dominator engine.
	Algorithm dominance.Algorithm

	// Logger receives debug output. Nil means slog.Default().
	Logger *slog.Logger
}

// Run schedules c into basic blocks.
//
// Description:
//
//	Builds the dominator tree and ancestor index, computes lower bounds for
//	every schedulable gate, and assigns gates to blocks:
//
//	  - the head opens its block;
//	  - ARG gates go into block 0 by descending bit field;
//	  - fixed gates go into their anchoring block, by gate id;
//	  - schedulable gates go into their lower-bound block, defs before uses;
//	  - RETURN, RETURN_VOID and THROW close their block.
//
//	Within a block a gate never precedes a same-block gate it consumes.
//	Gates that no block head or fixed gate reaches are left unplaced.
//
// Inputs:
//
//   - ctx: Context for tracing and cancellation. Must not be nil.
//   - c: The circuit. Not modified.
//   - opts: Engine selection and logger.
//
// Outputs:
//
//   - *ControlFlowGraph: The schedule.
//   - error: Wraps ErrSchedulingFailed. The cause is ErrNoEntryBlock, a
//     *BoundError, or the context error.
//
// Thread Safety: Safe for concurrent use on distinct or shared circuits
// (read-only on c).
func Run(ctx context.Context, c *circuit.Circuit, opts Options) (*ControlFlowGraph, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "schedule.Run",
		trace.WithAttributes(
			attribute.Int("circuit.gates", c.Len()),
			attribute.String("dominance.algorithm", opts.Algorithm.String()),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, opts.Logger)
	metrics := telemetry.DefaultMetrics()
	start := time.Now()

	cfg, err := run(ctx, c, opts, logger, span)

	status := "ok"
	if err != nil {
		status = "error"
		err = fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
		telemetry.RecordError(span, err)
		logger.Warn("schedule: failed", slog.String("error", err.Error()))
	} else {
		telemetry.SetSpanOK(span)
		metrics.BlocksPerCircuit.Record(ctx, int64(len(cfg.Blocks)))
	}
	metrics.ScheduleRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	metrics.ScheduleDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, c *circuit.Circuit, opts Options, logger *slog.Logger, span trace.Span) (*ControlFlowGraph, error) {
	tree := dominance.BuildWith(c, opts.Algorithm)
	if tree.Len() == 0 {
		return nil, ErrNoEntryBlock
	}
	idx := dominance.NewAncestorIndex(tree.ImmDom)
	telemetry.AddSpanEvent(span, "dominators_built",
		attribute.Int("blocks", tree.Len()),
		attribute.Int("iterations", tree.Iterations),
	)
	logger.Debug("schedule: dominator tree built",
		slog.Int("blocks", tree.Len()),
		slog.Int("iterations", tree.Iterations),
		slog.String("algorithm", tree.Algorithm.String()),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gates := c.Collect(circuit.OpCode.IsSchedulable)
	var order []circuit.GateRef
	lower, err := CalculateLowerBound(c, tree, idx, gates, &order)
	if err != nil {
		return nil, err
	}
	telemetry.AddSpanEvent(span, "lower_bounds_complete", attribute.Int("gates", len(lower)))
	if dropped := len(gates) - len(lower); dropped > 0 {
		logger.Debug("schedule: unreachable schedulable gates left unplaced",
			slog.Int("count", dropped),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := tree.Len()
	middle := make([][]circuit.GateRef, n)
	tails := make([][]circuit.GateRef, n)

	args := c.Collect(circuit.OpCode.IsProlog)
	slices.SortStableFunc(args, func(a, b circuit.GateRef) int {
		return cmp.Compare(c.BitField(b), c.BitField(a))
	})
	middle[0] = append(middle[0], args...)

	var unanchored []circuit.GateRef
	for _, g := range c.Collect(circuit.OpCode.IsFixed) {
		b, ok := AnchorBlock(c, tree, g)
		if !ok {
			unanchored = append(unanchored, g)
			continue
		}
		if c.Op(g).IsTerminal() {
			tails[b] = append(tails[b], g)
			continue
		}
		middle[b] = append(middle[b], g)
	}

	if len(unanchored) > 0 {
		logger.Debug("schedule: fixed gates outside discovered blocks left unplaced",
			slog.Int("count", len(unanchored)),
			slog.Any("gates", unanchored),
		)
	}

	for i := len(order) - 1; i >= 0; i-- {
		g := order[i]
		b := lower[g]
		middle[b] = append(middle[b], g)
	}

	cfg := &ControlFlowGraph{
		Blocks: make([]Block, n),
		ImmDom: slices.Clone(tree.ImmDom),
	}
	for b, head := range tree.Blocks {
		placed := make([]circuit.GateRef, 0, 1+len(middle[b])+len(tails[b]))
		placed = append(placed, head)
		placed = append(placed, sequence(c, middle[b])...)
		placed = append(placed, tails[b]...)
		cfg.Blocks[b] = Block{Index: b, Head: head, Gates: placed}
	}

	logger.Debug("schedule: placed gates",
		slog.Int("blocks", n),
		slog.Int("gates", cfg.NumGates()),
	)
	return cfg, nil
}

// sequence orders the gates of one block so that every gate follows the
// same-block gates it consumes. Otherwise the input order is kept.
//
// Selector data inputs are consumed at the end of a predecessor block, so
// they never constrain the order.
func sequence(c *circuit.Circuit, gates []circuit.GateRef) []circuit.GateRef {
	pending := make(map[circuit.GateRef]bool, len(gates))
	for _, g := range gates {
		pending[g] = true
	}

	type frame struct {
		gate circuit.GateRef
		next int
	}

	out := make([]circuit.GateRef, 0, len(gates))
	for _, g := range gates {
		if !pending[g] {
			continue
		}
		delete(pending, g)
		stack := []frame{{gate: g}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			var ins []circuit.GateRef
			if !c.Op(top.gate).IsSelector() {
				ins = c.Ins(top.gate)
			}

			descended := false
			for ; top.next < len(ins); top.next++ {
				if in := ins[top.next]; pending[in] {
					delete(pending, in)
					stack = append(stack, frame{gate: in})
					descended = true
					break
				}
			}
			if descended {
				continue
			}

			out = append(out, top.gate)
			stack = stack[:len(stack)-1]
		}
	}
	return out
}
