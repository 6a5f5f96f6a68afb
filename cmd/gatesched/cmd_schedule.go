// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/gatesched/pkg/ux"
	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/pipeline"
	"github.com/AleutianAI/gatesched/services/compiler/schedule"
	"github.com/AleutianAI/gatesched/services/compiler/verify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// scheduleOutput is the JSON form of one unit.
type scheduleOutput struct {
	UnitID    string                     `json:"unit_id,omitempty"`
	Name      string                     `json:"name"`
	Path      string                     `json:"path,omitempty"`
	Cached    bool                       `json:"cached"`
	CFG       *schedule.ControlFlowGraph `json:"cfg,omitempty"`
	Error     string                     `json:"error,omitempty"`
	Violation *verify.Violation          `json:"violation,omitempty"`
}

func newScheduleCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "schedule FILE|DIR...",
		Short: "Place every gate of each circuit into a basic block",
		Long: `schedule builds the control flow graph of each circuit and prints
its blocks. The verifier runs first when scheduler.verify_before_schedule
is set (or GATESCHED_VERIFY=true).`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(*cobra.Command, []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			units, results, err := collectUnits(args)
			if err != nil {
				return err
			}
			compiled, err := a.compiler.CompileAll(cmd.Context(), units)
			if err != nil {
				return err
			}
			results = append(results, compiled...)

			circuits := make(map[string]*circuit.Circuit, len(units))
			for _, u := range units {
				circuits[u.Path] = u.Circuit
			}

			if format == "json" {
				if err := writeScheduleJSON(a, results); err != nil {
					return err
				}
			} else {
				printSchedules(a.printer, results, circuits)
			}

			if _, failed, _ := tally(results); failed > 0 {
				return errUnitsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func printSchedules(p *ux.Printer, results []*pipeline.Result, circuits map[string]*circuit.Circuit) {
	p.Title("Schedules")
	for _, r := range results {
		switch {
		case r.Failed():
			p.Status(ux.IconError, label(r), failureDetail(r.Err))
			if r.Report != nil {
				printReport(p, r.Report)
			} else {
				p.Indented(r.Err.Error())
			}
			continue
		case r.Cached:
			p.Status(ux.IconCached, label(r), fmt.Sprintf("%d blocks, cached", len(r.CFG.Blocks)))
		default:
			p.Status(ux.IconSuccess, label(r), fmt.Sprintf("%d blocks", len(r.CFG.Blocks)))
		}
		if c := circuits[r.Path]; c != nil {
			p.Box(r.Name, r.CFG.Dump(c), false)
		} else {
			p.Box(r.Name, r.CFG.String(), false)
		}
	}
	p.Summary(tally(results))
}

func writeScheduleJSON(a *app, results []*pipeline.Result) error {
	out := make([]scheduleOutput, 0, len(results))
	for _, r := range results {
		o := scheduleOutput{Name: r.Name, Path: r.Path, Cached: r.Cached, CFG: r.CFG}
		if r.UnitID != uuid.Nil {
			o.UnitID = r.UnitID.String()
		}
		if r.Err != nil {
			o.Error = r.Err.Error()
			if r.Report != nil {
				o.Violation = r.Report.Violation()
			}
		}
		out = append(out, o)
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
