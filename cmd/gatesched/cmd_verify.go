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
	"fmt"

	"github.com/AleutianAI/gatesched/pkg/ux"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "verify FILE|DIR...",
		Short: "Check that circuits are sound enough to schedule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, results, err := collectUnits(args)
			if err != nil {
				return err
			}
			verified, err := a.compiler.VerifyAll(cmd.Context(), units)
			results = append(results, verified...)

			a.printer.Title("Verification")
			for _, r := range results {
				if r == nil {
					continue
				}
				if r.Failed() {
					a.printer.Status(ux.IconError, label(r), failureDetail(r.Err))
				} else {
					a.printer.Status(ux.IconSuccess, label(r), fmt.Sprintf("%d blocks", r.Report.Blocks))
				}
				if !quiet || r.Failed() {
					printReport(a.printer, r.Report)
				}
				if r.Failed() && r.Report == nil {
					a.printer.Indented(r.Err.Error())
				}
			}
			if err != nil {
				return err
			}

			passed, failed, cached := tally(results)
			a.printer.Summary(passed, failed, cached)
			if failed > 0 {
				return errUnitsFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only list checks for failing units")
	return cmd
}
