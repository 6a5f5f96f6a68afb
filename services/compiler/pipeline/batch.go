// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// CompileAll compiles units in parallel, at most Workers at a time.
//
// Description:
//
//	Results are returned in input order. A unit failure (see IsUnitFailure)
//	is stored in that unit's Result.Err and the batch continues. Any other
//	error cancels the remaining units and is returned.
//
// Outputs:
//
//   - []*Result: One entry per unit. Entries for units that never ran are nil.
//   - error: The first internal error, or nil.
func (c *Compiler) CompileAll(ctx context.Context, units []Unit) ([]*Result, error) {
	return c.runAll(ctx, units, c.Compile)
}

// VerifyAll runs the verifier on units in parallel. See CompileAll.
func (c *Compiler) VerifyAll(ctx context.Context, units []Unit) ([]*Result, error) {
	return c.runAll(ctx, units, c.Verify)
}

func (c *Compiler) runAll(ctx context.Context, units []Unit, fn func(context.Context, Unit) (*Result, error)) ([]*Result, error) {
	start := time.Now()
	results := make([]*Result, len(units))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, u := range units {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := fn(gCtx, u)
			results[i] = res
			if err == nil {
				return nil
			}
			res.Err = err
			if IsUnitFailure(err) {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	failed := 0
	for _, r := range results {
		if r != nil && r.Failed() {
			failed++
		}
	}
	c.logger.Debug("pipeline: batch complete",
		slog.Int("units", len(units)),
		slog.Int("failed", failed),
		slog.Int("workers", c.workers),
		slog.Duration("duration", time.Since(start)),
	)
	return results, err
}
