// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache stores scheduled control flow graphs keyed by circuit
// fingerprint, so unchanged circuits are not rescheduled.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/schedule"
	"github.com/AleutianAI/gatesched/services/compiler/storage/badger"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// keyPrefix namespaces entries. Bump the version when the CFG encoding changes.
const keyPrefix = "sched/v1/"

var (
	// ErrNilDB is returned by New when no store is given.
	ErrNilDB = errors.New("cache: db must not be nil")

	// ErrCorruptEntry is returned when a stored entry does not decode or
	// does not fit the circuit it was looked up for.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

// entry is the stored form of a schedule.
type entry struct {
	Fingerprint string                     `json:"fingerprint"`
	Gates       int                        `json:"gates"`
	StoredAt    time.Time                  `json:"stored_at"`
	CFG         *schedule.ControlFlowGraph `json:"cfg"`
}

// ScheduleCache is a fingerprint-keyed store of schedules.
//
// Thread Safety: Safe for concurrent use.
type ScheduleCache struct {
	db      *badger.DB
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New wraps db. logger may be nil.
func New(db *badger.DB, logger *slog.Logger) (*ScheduleCache, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &ScheduleCache{
		db:      db,
		metrics: telemetry.DefaultMetrics(),
		logger:  logger,
	}, nil
}

// Key returns the store key for c.
func Key(c *circuit.Circuit) []byte {
	return []byte(keyPrefix + circuit.Fingerprint(c))
}

// Get looks up the schedule of c.
//
// Outputs:
//
//   - *schedule.ControlFlowGraph: The cached schedule, nil on a miss.
//   - bool: True on a hit.
//   - error: Store failures, or ErrCorruptEntry.
func (sc *ScheduleCache) Get(ctx context.Context, c *circuit.Circuit) (*schedule.ControlFlowGraph, bool, error) {
	key := Key(c)
	var e entry
	err := sc.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
			}
			return nil
		})
	})

	switch {
	case errors.Is(err, dgbadger.ErrKeyNotFound):
		sc.record(ctx, "miss")
		return nil, false, nil
	case err != nil:
		sc.record(ctx, "error")
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if e.CFG == nil || e.Gates != c.Len() || e.CFG.NumGates() > c.Len() {
		sc.record(ctx, "error")
		return nil, false, fmt.Errorf("%w: %s", ErrCorruptEntry, key)
	}

	sc.record(ctx, "hit")
	telemetry.LoggerWithTrace(ctx, sc.logger).Debug("cache: hit",
		slog.String("fingerprint", e.Fingerprint),
		slog.Time("stored_at", e.StoredAt),
	)
	return e.CFG, true, nil
}

// Put stores cfg as the schedule of c, replacing any previous entry.
func (sc *ScheduleCache) Put(ctx context.Context, c *circuit.Circuit, cfg *schedule.ControlFlowGraph) error {
	if cfg == nil {
		return errors.New("cache put: cfg must not be nil")
	}
	fp := circuit.Fingerprint(c)
	data, err := json.Marshal(entry{
		Fingerprint: fp,
		Gates:       c.Len(),
		StoredAt:    time.Now().UTC(),
		CFG:         cfg,
	})
	if err != nil {
		return fmt.Errorf("cache put: encode: %w", err)
	}

	err = sc.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(keyPrefix+fp), data)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate removes the entry for c, if any.
func (sc *ScheduleCache) Invalidate(ctx context.Context, c *circuit.Circuit) error {
	err := sc.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(Key(c))
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Purge removes every entry and returns how many were deleted.
func (sc *ScheduleCache) Purge(ctx context.Context) (int, error) {
	var keys [][]byte
	err := sc.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := sc.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("cache purge: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return len(keys), nil
}

func (sc *ScheduleCache) record(ctx context.Context, result string) {
	sc.metrics.CacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
