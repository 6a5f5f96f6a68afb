// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify checks that a circuit is sound enough to schedule.
//
// Run executes the checks in a fixed order, each relying on the ones before
// it, and stops at the first violation. Exported Run*Check functions let
// callers run a single check against structures they already built.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatesched.verify"

// Options configures Run.
type Options struct {
	// Algorithm selects the immediate-dominator engine.
	Algorithm dominance.Algorithm

	// Logger receives per-check debug output. Nil means slog.Default().
	Logger *slog.Logger
}

// Run verifies c.
//
// Description:
//
//	Runs data integrity, state gates, CFG soundness, CFG acyclicity, CFG
//	reducibility, fixed gates, flow cycles and schedulability, in that
//	order. The dominator tree is built once, after data integrity passes.
//
// Inputs:
//
//   - ctx: Context for tracing and cancellation. Must not be nil.
//   - c: The circuit. Not modified.
//   - opts: Engine selection and logger.
//
// Outputs:
//
//   - *Report: Per-check results up to and including the first failure.
//     Non-nil whenever ctx is non-nil.
//   - error: nil when every check passed. Otherwise wraps
//     ErrVerificationFailed and the *Violation, or is the context error.
//
// Thread Safety: Safe for concurrent use (read-only on c).
func Run(ctx context.Context, c *circuit.Circuit, opts Options) (*Report, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "verify.Run",
		trace.WithAttributes(attribute.Int("circuit.gates", c.Len())),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, opts.Logger)
	metrics := telemetry.DefaultMetrics()
	start := time.Now()
	report := &Report{}

	var (
		tree *dominance.Tree
		idx  *dominance.AncestorIndex
	)
	steps := []struct {
		check Check
		run   func() *Violation
	}{
		{CheckDataIntegrity, func() *Violation { return RunDataIntegrityCheck(c) }},
		{CheckStateGates, func() *Violation {
			tree = dominance.BuildWith(c, opts.Algorithm)
			idx = dominance.NewAncestorIndex(tree.ImmDom)
			report.Blocks = tree.Len()
			return RunStateGateCheck(c, tree)
		}},
		{CheckCFGSoundness, func() *Violation { return RunCFGSoundnessCheck(c, tree) }},
		{CheckCFGIsDAG, func() *Violation { return RunCFGIsDAGCheck(c) }},
		{CheckCFGReducibility, func() *Violation { return RunCFGReducibilityCheck(c, tree, idx) }},
		{CheckFixedGates, func() *Violation { return RunFixedGatesCheck(c, tree, idx) }},
		{CheckFlowCycles, func() *Violation { return RunFlowCyclesCheck(c) }},
		{CheckSchedulability, func() *Violation { return RunSchedulabilityCheck(c, tree, idx) }},
	}

	var failed *Violation
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			telemetry.RecordError(span, err)
			metrics.VerifyRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
			return report, err
		}

		checkStart := time.Now()
		v := step.run()
		res := CheckResult{
			Check:     step.check,
			Passed:    v == nil,
			Duration:  time.Since(checkStart),
			Violation: v,
		}
		report.Checks = append(report.Checks, res)
		logger.Debug("verify: check complete",
			slog.String("check", string(step.check)),
			slog.Bool("passed", res.Passed),
			slog.Duration("duration", res.Duration),
		)
		if v != nil {
			failed = v
			break
		}
	}
	report.Duration = time.Since(start)

	if failed != nil {
		err := fmt.Errorf("%w: %w", ErrVerificationFailed, failed)
		telemetry.RecordError(span, err, attribute.String("verify.check", string(failed.Check)))
		metrics.VerifyRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "violation")))
		metrics.VerifyViolationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("check", string(failed.Check))))
		logger.Warn("verify: circuit rejected",
			slog.String("check", string(failed.Check)),
			slog.String("message", failed.Message),
		)
		return report, err
	}

	telemetry.SetSpanOK(span)
	metrics.VerifyRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	logger.Debug("verify: circuit accepted",
		slog.Int("blocks", report.Blocks),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}
