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
	"github.com/AleutianAI/gatesched/services/compiler/pipeline"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch DIR",
		Short: "Recompile circuits in a directory whenever they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printer.Title("Watching " + args[0])
			return a.compiler.Watch(cmd.Context(), args[0], func(r *pipeline.Result) {
				switch {
				case r.Failed():
					a.printer.Status(ux.IconError, label(r), failureDetail(r.Err))
				case r.Cached:
					a.printer.Status(ux.IconCached, label(r), fmt.Sprintf("%d blocks, cached", len(r.CFG.Blocks)))
				default:
					a.printer.Status(ux.IconSuccess, label(r), fmt.Sprintf("%d blocks in %s", len(r.CFG.Blocks), r.Duration))
				}
			})
		},
	}
}
