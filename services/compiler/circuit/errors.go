// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package circuit provides the sea-of-nodes gate graph consumed by the
// scheduler and verifier.
//
// A Circuit is an arena of gates addressed by GateRef, a plain index. Each
// gate carries an opcode, a value type, a bit field, an ordered input list,
// and an unordered use list. The opcode decides the gate's scheduling class:
// root, prolog, state (block head), fixed (pinned to a block), or
// schedulable (floating).
//
// # Input Layout
//
// Inputs are always ordered as [states..., depends..., values..., root].
// Schema(op, bitField) returns the expected counts; variadic groups take
// their size from the bit field.
//
// # Thread Safety
//
// Circuit is NOT safe for concurrent mutation. Once built it may be read
// from multiple goroutines; scheduling and verification never mutate it.
package circuit

import "errors"

// Sentinel errors for circuit operations.
var (
	// ErrUnknownOpCode is returned when an opcode name cannot be resolved.
	ErrUnknownOpCode = errors.New("unknown opcode")

	// ErrUnknownValueType is returned when a value type name cannot be resolved.
	ErrUnknownValueType = errors.New("unknown value type")

	// ErrInvalidGate is returned when a gate reference is out of range.
	ErrInvalidGate = errors.New("invalid gate reference")

	// ErrRootOpCode is returned when NewGate is asked to create a root gate.
	// Roots are created once by New.
	ErrRootOpCode = errors.New("root gates are created by circuit.New")

	// ErrInvalidDocument is returned when a circuit document fails validation.
	ErrInvalidDocument = errors.New("invalid circuit document")

	// ErrFileTooLarge is returned when a circuit file exceeds MaxDocumentSize.
	ErrFileTooLarge = errors.New("circuit file too large")
)
