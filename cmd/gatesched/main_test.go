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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/circuit/circuittest"
	"github.com/AleutianAI/gatesched/services/compiler/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, args ...string) cliResult {
	t.Helper()
	for _, name := range []string{
		"GATESCHED_LOG_LEVEL", "GATESCHED_VERIFY", "GATESCHED_CACHE_DIR", "GATESCHED_WORKERS",
		"OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER", "NO_COLOR",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeCircuit(t *testing.T, dir, name string, c *circuit.Circuit) string {
	t.Helper()
	data, err := circuit.NewDocument(name, c).Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersion(t *testing.T) {
	res := run(t, "version")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "gatesched dev")
}

func TestVerify_Pass(t *testing.T) {
	path := writeCircuit(t, t.TempDir(), "diamond", circuittest.NewDiamond(t).C)

	res := run(t, "verify", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "OK\t"+path+"\t4 blocks")
	assert.Contains(t, res.stdout, string(verify.CheckSchedulability))
	assert.Contains(t, res.stdout, "SUMMARY: passed=1 failed=0 cached=0 total=1")
}

func TestVerify_FailureExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	writeCircuit(t, dir, "diamond", circuittest.NewDiamond(t).C)
	bad := writeCircuit(t, dir, "irreducible", circuittest.NewIrreducible(t).C)

	res := run(t, "verify", "--quiet", dir)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "FAIL\t"+bad+"\t"+string(verify.CheckCFGReducibility))
	assert.Contains(t, res.stdout, "SUMMARY: passed=1 failed=1")
}

func TestVerify_UnreadableCircuit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\ngates:\n  - {id: 0, op: NOT_AN_OP}\n"), 0o600))

	res := run(t, "verify", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "FAIL\t"+path)
	assert.Contains(t, res.stdout, "unknown opcode")
}

func TestSchedule_Text(t *testing.T) {
	path := writeCircuit(t, t.TempDir(), "loop", circuittest.NewLoop(t).C)

	res := run(t, "schedule", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "OK\t"+path+"\t5 blocks")
	assert.Contains(t, res.stdout, "loop:\nB0:")
	assert.Contains(t, res.stdout, "LOOP_BEGIN")
}

func TestSchedule_JSON(t *testing.T) {
	path := writeCircuit(t, t.TempDir(), "diamond", circuittest.NewDiamond(t).C)

	res := run(t, "schedule", "--format", "json", path)
	require.Equal(t, 0, res.code, res.stderr)

	var out []scheduleOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "diamond", out[0].Name)
	assert.NotEmpty(t, out[0].UnitID)
	require.NotNil(t, out[0].CFG)
	assert.Len(t, out[0].CFG.Blocks, 4)
	assert.Equal(t, []int{0, 0, 0, 0}, out[0].CFG.ImmDom)
}

func TestSchedule_VerifyFromConfig(t *testing.T) {
	dir := t.TempDir()
	bad := writeCircuit(t, dir, "irreducible", circuittest.NewIrreducible(t).C)
	cfgPath := filepath.Join(dir, "gatesched.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("scheduler:\n  verify_before_schedule: true\n"), 0o600))

	res := run(t, "--config", cfgPath, "schedule", "--format", "json", bad)
	assert.Equal(t, 1, res.code)

	var out []scheduleOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out, 1)
	assert.Nil(t, out[0].CFG)
	require.NotNil(t, out[0].Violation)
	assert.Equal(t, verify.CheckCFGReducibility, out[0].Violation.Check)
}

func TestSchedule_CacheHit(t *testing.T) {
	dir := t.TempDir()
	path := writeCircuit(t, dir, "diamond", circuittest.NewDiamond(t).C)
	cfgPath := filepath.Join(t.TempDir(), "gatesched.yaml")
	cacheDir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache:\n  enabled: true\n  path: "+cacheDir+"\n"), 0o600))

	first := run(t, "--config", cfgPath, "schedule", path)
	require.Equal(t, 0, first.code, first.stderr)
	assert.Contains(t, first.stdout, "OK\t"+path)

	second := run(t, "--config", cfgPath, "schedule", path)
	require.Equal(t, 0, second.code, second.stderr)
	assert.Contains(t, second.stdout, "CACHED\t"+path)
	assert.Contains(t, second.stdout, "cached=1")
}

func TestErrors(t *testing.T) {
	path := writeCircuit(t, t.TempDir(), "diamond", circuittest.NewDiamond(t).C)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad format", []string{"schedule", "--format", "xml", path}, "unknown format"},
		{"missing file", []string{"verify", filepath.Join(t.TempDir(), "nope.yaml")}, "no such file"},
		{"bad log level", []string{"--log-level", "loud", "verify", path}, "invalid config"},
		{"no args", []string{"schedule"}, "requires at least 1 arg"},
		{"empty dir", []string{"verify", t.TempDir()}, "no circuit files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tt.want)
		})
	}
}
