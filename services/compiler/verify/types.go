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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
)

// Sentinel errors for verification.
var (
	// ErrVerificationFailed wraps the *Violation returned by Run.
	ErrVerificationFailed = errors.New("circuit verification failed")

	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")
)

// Check names one soundness check.
type Check string

const (
	// CheckDataIntegrity: every edge is in range, live and mirrored.
	CheckDataIntegrity Check = "data_integrity"

	// CheckStateGates: discovered block heads match their schema.
	CheckStateGates Check = "state_gates"

	// CheckCFGSoundness: block predecessors are discovered.
	CheckCFGSoundness Check = "cfg_soundness"

	// CheckCFGIsDAG: the state graph minus back edges is acyclic.
	CheckCFGIsDAG Check = "cfg_is_dag"

	// CheckCFGReducibility: every loop head dominates its back edges.
	CheckCFGReducibility Check = "cfg_reducibility"

	// CheckFixedGates: fixed gates match their schema and see dominating inputs.
	CheckFixedGates Check = "fixed_gates"

	// CheckFlowCycles: every data cycle passes through a selector.
	CheckFlowCycles Check = "flow_cycles"

	// CheckSchedulability: every schedulable gate has a non-empty window.
	CheckSchedulability Check = "schedulability"
)

// Checks lists every check in the order Run executes them.
var Checks = []Check{
	CheckDataIntegrity,
	CheckStateGates,
	CheckCFGSoundness,
	CheckCFGIsDAG,
	CheckCFGReducibility,
	CheckFixedGates,
	CheckFlowCycles,
	CheckSchedulability,
}

// Violation describes the first unsound construct a check found.
type Violation struct {
	// Check is the check that failed.
	Check Check `json:"check"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Gates lists the offending gates. For a flow cycle this is the full
	// path, first gate repeated at the end.
	Gates []circuit.GateRef `json:"gates,omitempty"`
}

// Error implements error.
func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Check, v.Message)
}

func violation(check Check, gates []circuit.GateRef, format string, args ...any) *Violation {
	return &Violation{
		Check:   check,
		Message: fmt.Sprintf(format, args...),
		Gates:   gates,
	}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Check     Check         `json:"check"`
	Passed    bool          `json:"passed"`
	Duration  time.Duration `json:"duration"`
	Violation *Violation    `json:"violation,omitempty"`
}

// Report is the outcome of a verification run.
type Report struct {
	// Checks holds one result per executed check, in execution order.
	// Checks after the first failure are not executed.
	Checks []CheckResult `json:"checks"`

	// Blocks is the number of discovered basic blocks, 0 if discovery
	// did not run.
	Blocks int `json:"blocks"`

	// Duration is the total wall time of the run.
	Duration time.Duration `json:"duration"`
}

// Passed reports whether every check ran and passed.
func (r *Report) Passed() bool {
	if len(r.Checks) != len(Checks) {
		return false
	}
	for _, res := range r.Checks {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Violation returns the violation of the failed check, or nil.
func (r *Report) Violation() *Violation {
	for _, res := range r.Checks {
		if res.Violation != nil {
			return res.Violation
		}
	}
	return nil
}

// String renders one line per executed check.
func (r *Report) String() string {
	var sb strings.Builder
	for _, res := range r.Checks {
		status := "ok"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%-18s %-4s %v\n", res.Check, status, res.Duration)
		if res.Violation != nil {
			fmt.Fprintf(&sb, "  %s\n", res.Violation.Message)
		}
	}
	return sb.String()
}
