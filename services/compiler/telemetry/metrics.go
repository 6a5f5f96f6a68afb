// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics contains the instruments shared by the scheduler, the verifier,
// and the schedule cache.
//
// All metrics use the "gatesched_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Scheduler ---

	// ScheduleRunsTotal counts schedule.Run calls by status (ok, error).
	ScheduleRunsTotal metric.Int64Counter

	// ScheduleDuration records schedule.Run duration in seconds.
	ScheduleDuration metric.Float64Histogram

	// BlocksPerCircuit records the number of basic blocks per scheduled circuit.
	BlocksPerCircuit metric.Int64Histogram

	// --- Verifier ---

	// VerifyRunsTotal counts verify.Run calls by status (ok, violation, error).
	VerifyRunsTotal metric.Int64Counter

	// VerifyViolationsTotal counts violations by check name.
	VerifyViolationsTotal metric.Int64Counter

	// --- Cache ---

	// CacheLookupsTotal counts schedule cache lookups by result (hit, miss, error).
	CacheLookupsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments registered.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//
// Outputs:
//
//	*Metrics - The metrics instance.
//	error - Non-nil if registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Scheduler ---
	m.ScheduleRunsTotal, err = meter.Int64Counter(
		"gatesched_schedule_runs_total",
		metric.WithDescription("Total scheduler runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create schedule_runs_total: %w", err)
	}

	m.ScheduleDuration, err = meter.Float64Histogram(
		"gatesched_schedule_duration_seconds",
		metric.WithDescription("Scheduler run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create schedule_duration: %w", err)
	}

	m.BlocksPerCircuit, err = meter.Int64Histogram(
		"gatesched_blocks_per_circuit",
		metric.WithDescription("Basic blocks per scheduled circuit"),
		metric.WithUnit("{block}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128, 256, 1024),
	)
	if err != nil {
		return nil, fmt.Errorf("create blocks_per_circuit: %w", err)
	}

	// --- Verifier ---
	m.VerifyRunsTotal, err = meter.Int64Counter(
		"gatesched_verify_runs_total",
		metric.WithDescription("Total verifier runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create verify_runs_total: %w", err)
	}

	m.VerifyViolationsTotal, err = meter.Int64Counter(
		"gatesched_verify_violations_total",
		metric.WithDescription("Soundness violations found by the verifier"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create verify_violations_total: %w", err)
	}

	// --- Cache ---
	m.CacheLookupsTotal, err = meter.Int64Counter(
		"gatesched_cache_lookups_total",
		metric.WithDescription("Schedule cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_lookups_total: %w", err)
	}

	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments registered on
// otel.Meter("gatesched").
//
// The global meter forwards to whatever provider Init installs, so it is
// fine to call this before Init. If registration fails the instruments are
// no-ops.
//
// Thread Safety: Safe for concurrent use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter("gatesched"))
		if err != nil {
			m, _ = NewMetrics(noop.NewMeterProvider().Meter("gatesched"))
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
