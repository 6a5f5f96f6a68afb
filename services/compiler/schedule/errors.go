// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schedule

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
)

// Sentinel errors for scheduling.
var (
	// ErrSchedulingFailed wraps every error returned by Run. It marks an
	// internal compiler failure: the enclosing compilation must abort.
	ErrSchedulingFailed = errors.New("scheduling failed")

	// ErrNoEntryBlock is returned when the circuit has no discoverable
	// STATE_ENTRY.
	ErrNoEntryBlock = errors.New("circuit has no entry block")

	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")
)

// Reason classifies why a bound could not be computed.
type Reason int

const (
	// ReasonIncomparableInputs means two inputs of a gate live in blocks
	// where neither dominates the other.
	ReasonIncomparableInputs Reason = iota + 1

	// ReasonUnresolvedUses means some uses of a gate never contributed a
	// block, which happens on a data cycle that no selector breaks.
	ReasonUnresolvedUses

	// ReasonDataCycle means the upper bound walk met a gate already on its
	// stack.
	ReasonDataCycle

	// ReasonUndiscoveredBlock means an input is anchored to a state gate
	// that is not reachable from STATE_ENTRY.
	ReasonUndiscoveredBlock

	// ReasonInvalidInput means an input slot is unset or out of range.
	ReasonInvalidInput
)

// String returns a short lowercase name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonIncomparableInputs:
		return "incomparable inputs"
	case ReasonUnresolvedUses:
		return "unresolved uses"
	case ReasonDataCycle:
		return "data cycle"
	case ReasonUndiscoveredBlock:
		return "undiscovered block"
	case ReasonInvalidInput:
		return "invalid input"
	default:
		return "unknown"
	}
}

// BoundError reports a gate whose placement window could not be computed.
//
// A BoundError invalidates the whole bounds computation; partial results
// are never returned alongside it.
type BoundError struct {
	// Bound is "upper" or "lower".
	Bound string

	// Gate is the gate whose bound failed.
	Gate circuit.GateRef

	// Op is the opcode of Gate, for diagnostics.
	Op circuit.OpCode

	// Reason classifies the failure.
	Reason Reason

	// Blocks holds the conflicting blocks for ReasonIncomparableInputs.
	Blocks []int

	// Inputs holds the inputs that contributed Blocks, or the input that
	// could not be resolved.
	Inputs []circuit.GateRef
}

// Error implements error.
func (e *BoundError) Error() string {
	msg := fmt.Sprintf("%s bound of #%d %s: %s", e.Bound, e.Gate, e.Op, e.Reason)
	if len(e.Blocks) > 0 {
		msg += fmt.Sprintf(" (blocks %v from inputs %v)", e.Blocks, e.Inputs)
	} else if len(e.Inputs) > 0 {
		msg += fmt.Sprintf(" (inputs %v)", e.Inputs)
	}
	return msg
}
