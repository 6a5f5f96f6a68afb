// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives verification and scheduling over compilation
// units: one at a time, in bounded parallel batches, or on file changes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/cache"
	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/config"
	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/AleutianAI/gatesched/services/compiler/schedule"
	"github.com/AleutianAI/gatesched/services/compiler/storage/badger"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	"github.com/AleutianAI/gatesched/services/compiler/verify"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatesched.pipeline"

// ErrNilUnit is returned when a unit has no circuit.
var ErrNilUnit = errors.New("unit has no circuit")

// Unit is one circuit to compile.
type Unit struct {
	// Name identifies the unit in logs and output.
	Name string

	// Path is the file the unit was loaded from, if any.
	Path string

	Circuit *circuit.Circuit
}

// LoadUnit reads a circuit document from path.
func LoadUnit(path string) (Unit, error) {
	doc, err := circuit.LoadFile(path)
	if err != nil {
		return Unit{Path: path}, err
	}
	c, err := doc.Build()
	if err != nil {
		return Unit{Path: path}, fmt.Errorf("build %s: %w", path, err)
	}
	name := doc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Unit{Name: name, Path: path, Circuit: c}, nil
}

// Result is the outcome of one unit.
type Result struct {
	// UnitID correlates the unit's log lines.
	UnitID uuid.UUID

	Name string
	Path string

	// CFG is the schedule. Nil for verify-only runs and failed units.
	CFG *schedule.ControlFlowGraph

	// Report is the verifier report, when the verifier ran.
	Report *verify.Report

	// Cached is true when CFG came from the schedule cache.
	Cached bool

	Duration time.Duration

	// Err is the unit's failure, if any. Set by CompileAll and VerifyAll.
	Err error
}

// Failed reports whether the unit did not compile cleanly.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// IsUnitFailure reports whether err is a problem with the unit's input
// rather than with the compiler. Batches record unit failures and carry on.
func IsUnitFailure(err error) bool {
	return errors.Is(err, verify.ErrVerificationFailed) ||
		errors.Is(err, circuit.ErrInvalidDocument) ||
		errors.Is(err, circuit.ErrFileTooLarge) ||
		errors.Is(err, circuit.ErrUnknownOpCode) ||
		errors.Is(err, circuit.ErrUnknownValueType) ||
		errors.Is(err, ErrNilUnit)
}

// Compiler verifies and schedules units.
//
// Thread Safety: Safe for concurrent use.
type Compiler struct {
	verifyFirst bool
	algorithm   dominance.Algorithm
	workers     int
	debounce    time.Duration
	logger      *slog.Logger

	db    *badger.DB
	cache *cache.ScheduleCache
}

// NewCompiler builds a compiler from cfg, opening the schedule cache if
// it is enabled. Callers must Close the compiler.
func NewCompiler(cfg config.Config, logger *slog.Logger) (*Compiler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compiler{
		verifyFirst: cfg.Scheduler.VerifyBeforeSchedule,
		algorithm:   cfg.Algorithm(),
		workers:     cfg.Pipeline.Workers,
		debounce:    cfg.Pipeline.WatchDebounce,
		logger:      logger,
	}
	if c.workers < 1 {
		c.workers = 1
	}

	if cfg.Cache.Enabled {
		dbCfg := badger.InMemoryConfig()
		if !cfg.Cache.InMemory {
			dbCfg = badger.DefaultConfig(cfg.Cache.Path)
			dbCfg.GCInterval = cfg.Cache.GCInterval
		}
		dbCfg.Logger = logger.With(slog.String("component", "badger"))

		db, err := badger.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open schedule cache: %w", err)
		}
		sc, err := cache.New(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		c.db, c.cache = db, sc
	}
	return c, nil
}

// Close releases the schedule cache.
func (c *Compiler) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Cache returns the schedule cache, or nil when caching is off.
func (c *Compiler) Cache() *cache.ScheduleCache {
	return c.cache
}

// Compile verifies (when configured) and schedules one unit.
//
// Description:
//
//	A cache hit skips scheduling. The verifier still runs first when
//	verify_before_schedule is set. Cache failures are logged and treated
//	as misses.
//
// Outputs:
//
//   - *Result: Always non-nil, partially filled on failure.
//   - error: Wraps verify.ErrVerificationFailed, schedule.ErrSchedulingFailed,
//     or the context error.
func (c *Compiler) Compile(ctx context.Context, u Unit) (*Result, error) {
	return c.process(ctx, u, c.verifyFirst, true)
}

// Verify runs only the verifier on one unit.
func (c *Compiler) Verify(ctx context.Context, u Unit) (*Result, error) {
	return c.process(ctx, u, true, false)
}

func (c *Compiler) process(ctx context.Context, u Unit, runVerify, runSchedule bool) (*Result, error) {
	res := &Result{UnitID: uuid.New(), Name: u.Name, Path: u.Path}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if u.Circuit == nil {
		return res, fmt.Errorf("%s: %w", u.Name, ErrNilUnit)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "pipeline.Compile",
		trace.WithAttributes(
			attribute.String("unit.id", res.UnitID.String()),
			attribute.String("unit.name", u.Name),
		),
	)
	defer span.End()

	// Passes add their own span ids; unitLogger carries only the unit identity.
	unitLogger := c.logger.With(slog.String("unit_id", res.UnitID.String()), slog.String("unit", u.Name))
	logger := telemetry.LoggerWithUnit(ctx, c.logger, res.UnitID.String(), u.Name)

	if runVerify {
		report, err := verify.Run(ctx, u.Circuit, verify.Options{Algorithm: c.algorithm, Logger: unitLogger})
		res.Report = report
		if err != nil {
			telemetry.RecordError(span, err)
			return res, err
		}
	}
	if !runSchedule {
		telemetry.SetSpanOK(span)
		return res, nil
	}

	if c.cache != nil {
		cfg, hit, err := c.cache.Get(ctx, u.Circuit)
		if err != nil {
			logger.Warn("pipeline: cache lookup failed", slog.String("error", err.Error()))
		} else if hit {
			res.CFG, res.Cached = cfg, true
			telemetry.AddSpanEvent(span, "cache_hit")
			telemetry.SetSpanOK(span)
			return res, nil
		}
	}

	cfg, err := schedule.Run(ctx, u.Circuit, schedule.Options{Algorithm: c.algorithm, Logger: unitLogger})
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	res.CFG = cfg

	if c.cache != nil {
		if err := c.cache.Put(ctx, u.Circuit, cfg); err != nil {
			logger.Warn("pipeline: cache store failed", slog.String("error", err.Error()))
		}
	}

	telemetry.SetSpanOK(span)
	logger.Debug("pipeline: unit compiled",
		slog.Int("blocks", len(cfg.Blocks)),
		slog.Int("gates", cfg.NumGates()),
	)
	return res, nil
}
