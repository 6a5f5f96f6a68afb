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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/gatesched/pkg/ux"
	"github.com/AleutianAI/gatesched/services/compiler/pipeline"
	"github.com/AleutianAI/gatesched/services/compiler/verify"
)

// collectUnits loads every file argument, expanding directories. Files
// that fail to load come back as failed results rather than an error.
func collectUnits(args []string) ([]pipeline.Unit, []*pipeline.Result, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := pipeline.CircuitFiles(arg)
		if err != nil {
			return nil, nil, err
		}
		if len(files) == 0 {
			return nil, nil, fmt.Errorf("no circuit files in %s", arg)
		}
		paths = append(paths, files...)
	}

	var (
		units    []pipeline.Unit
		failures []*pipeline.Result
	)
	for _, path := range paths {
		u, err := pipeline.LoadUnit(path)
		if err != nil {
			failures = append(failures, &pipeline.Result{Name: filepath.Base(path), Path: path, Err: err})
			continue
		}
		units = append(units, u)
	}
	return units, failures, nil
}

// label names a result in output: its path when it came from a file.
func label(r *pipeline.Result) string {
	if r.Path != "" {
		return r.Path
	}
	return r.Name
}

// failureDetail is the short reason printed next to a failed unit.
func failureDetail(err error) string {
	var v *verify.Violation
	if errors.As(err, &v) {
		return string(v.Check)
	}
	return err.Error()
}

// tally counts results for the summary line.
func tally(results []*pipeline.Result) (passed, failed, cached int) {
	for _, r := range results {
		switch {
		case r == nil:
		case r.Failed():
			failed++
		default:
			passed++
			if r.Cached {
				cached++
			}
		}
	}
	return passed, failed, cached
}

// printReport lists the checks a unit went through.
func printReport(p *ux.Printer, report *verify.Report) {
	if report == nil {
		return
	}
	for _, res := range report.Checks {
		status := "ok"
		if !res.Passed {
			status = "FAIL"
		}
		p.Indented(fmt.Sprintf("%-17s %-4s %s", res.Check, status, res.Duration.Round(time.Microsecond)))
		if res.Violation != nil {
			p.Indented("  " + res.Violation.Message)
		}
	}
}
