// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/circuit"
	"github.com/AleutianAI/gatesched/services/compiler/circuit/circuittest"
	"github.com/AleutianAI/gatesched/services/compiler/config"
	"github.com/AleutianAI/gatesched/services/compiler/schedule"
	"github.com/AleutianAI/gatesched/services/compiler/verify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompiler(t *testing.T, mutate func(*config.Config)) *Compiler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Pipeline.WatchDebounce = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	c, err := NewCompiler(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeCircuit(t *testing.T, dir, name string, c *circuit.Circuit) string {
	t.Helper()
	data, err := circuit.NewDocument(name, c).Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// =============================================================================
// Compile
// =============================================================================

func TestCompile_Schedules(t *testing.T) {
	c := newCompiler(t, nil)
	d := circuittest.NewDiamond(t)

	res, err := c.Compile(context.Background(), Unit{Name: "diamond", Circuit: d.C})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, res.UnitID)
	assert.Equal(t, "diamond", res.Name)
	require.NotNil(t, res.CFG)
	assert.Len(t, res.CFG.Blocks, 4)
	assert.False(t, res.Cached)
	assert.Nil(t, res.Report, "verifier is off by default")
	assert.False(t, res.Failed())
}

func TestCompile_UnitIDsAreUnique(t *testing.T) {
	c := newCompiler(t, nil)
	u := Unit{Name: "s", Circuit: circuittest.NewStraightLine(t).C}

	a, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	b, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	assert.NotEqual(t, a.UnitID, b.UnitID)
}

func TestCompile_VerifyBeforeSchedule(t *testing.T) {
	c := newCompiler(t, func(cfg *config.Config) { cfg.Scheduler.VerifyBeforeSchedule = true })

	res, err := c.Compile(context.Background(), Unit{Name: "loop", Circuit: circuittest.NewLoop(t).C})
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Passed())
	assert.NotNil(t, res.CFG)

	f := circuittest.NewIrreducible(t)
	res, err = c.Compile(context.Background(), Unit{Name: "irreducible", Circuit: f.C})
	require.ErrorIs(t, err, verify.ErrVerificationFailed)
	assert.True(t, IsUnitFailure(err))
	assert.Nil(t, res.CFG)
	require.NotNil(t, res.Report)
	assert.Equal(t, verify.CheckCFGReducibility, res.Report.Violation().Check)
}

func TestCompile_SchedulingFailureIsInternal(t *testing.T) {
	c := newCompiler(t, nil)
	_, err := c.Compile(context.Background(), Unit{Name: "cycle", Circuit: circuittest.NewDataCycle(t).C})
	require.ErrorIs(t, err, schedule.ErrSchedulingFailed)
	assert.False(t, IsUnitFailure(err))
}

func TestCompile_NilCircuit(t *testing.T) {
	c := newCompiler(t, nil)
	res, err := c.Compile(context.Background(), Unit{Name: "empty"})
	assert.ErrorIs(t, err, ErrNilUnit)
	assert.NotNil(t, res)
}

func TestVerify_DoesNotSchedule(t *testing.T) {
	c := newCompiler(t, nil)
	res, err := c.Verify(context.Background(), Unit{Name: "d", Circuit: circuittest.NewDiamond(t).C})
	require.NoError(t, err)
	assert.Nil(t, res.CFG)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Passed())
}

func TestCompile_Cache(t *testing.T) {
	c := newCompiler(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
		cfg.Cache.InMemory = true
	})
	require.NotNil(t, c.Cache())
	u := Unit{Name: "diamond", Circuit: circuittest.NewDiamond(t).C}

	first, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.CFG, second.CFG)

	require.NoError(t, c.Cache().Invalidate(context.Background(), u.Circuit))
	third, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestCompile_CacheHitStillVerifies(t *testing.T) {
	c := newCompiler(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
		cfg.Cache.InMemory = true
		cfg.Scheduler.VerifyBeforeSchedule = true
	})
	u := Unit{Name: "loop", Circuit: circuittest.NewLoop(t).C}

	_, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	res, err := c.Compile(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Passed())
}

// =============================================================================
// Batches
// =============================================================================

func TestCompileAll_OrderAndUnitFailures(t *testing.T) {
	c := newCompiler(t, func(cfg *config.Config) {
		cfg.Scheduler.VerifyBeforeSchedule = true
		cfg.Pipeline.Workers = 2
	})

	units := []Unit{
		{Name: "straight", Circuit: circuittest.NewStraightLine(t).C},
		{Name: "irreducible", Circuit: circuittest.NewIrreducible(t).C},
		{Name: "diamond", Circuit: circuittest.NewDiamond(t).C},
		{Name: "cycle", Circuit: circuittest.NewDataCycle(t).C},
		{Name: "loop", Circuit: circuittest.NewLoop(t).C},
	}
	results, err := c.CompileAll(context.Background(), units)
	require.NoError(t, err)
	require.Len(t, results, len(units))

	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, units[i].Name, r.Name)
	}
	assert.False(t, results[0].Failed())
	assert.ErrorIs(t, results[1].Err, verify.ErrVerificationFailed)
	assert.False(t, results[2].Failed())
	assert.ErrorIs(t, results[3].Err, verify.ErrVerificationFailed)
	assert.False(t, results[4].Failed())
}

func TestCompileAll_InternalErrorAborts(t *testing.T) {
	c := newCompiler(t, func(cfg *config.Config) { cfg.Pipeline.Workers = 1 })

	units := []Unit{
		{Name: "cycle", Circuit: circuittest.NewDataCycle(t).C},
		{Name: "diamond", Circuit: circuittest.NewDiamond(t).C},
	}
	results, err := c.CompileAll(context.Background(), units)
	require.ErrorIs(t, err, schedule.ErrSchedulingFailed)
	require.Len(t, results, 2)
	require.NotNil(t, results[0])
	assert.ErrorIs(t, results[0].Err, schedule.ErrSchedulingFailed)
}

func TestCompileAll_Empty(t *testing.T) {
	c := newCompiler(t, nil)
	results, err := c.CompileAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVerifyAll(t *testing.T) {
	c := newCompiler(t, nil)
	results, err := c.VerifyAll(context.Background(), []Unit{
		{Name: "ok", Circuit: circuittest.NewDiamond(t).C},
		{Name: "bad", Circuit: circuittest.NewIrreducible(t).C},
	})
	require.NoError(t, err)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	for _, r := range results {
		assert.Nil(t, r.CFG)
	}
}

// =============================================================================
// Files and watching
// =============================================================================

func TestLoadUnit(t *testing.T) {
	dir := t.TempDir()
	d := circuittest.NewDiamond(t)
	path := writeCircuit(t, dir, "diamond", d.C)

	u, err := LoadUnit(path)
	require.NoError(t, err)
	assert.Equal(t, "diamond", u.Name)
	assert.Equal(t, path, u.Path)
	assert.Equal(t, circuit.Fingerprint(d.C), circuit.Fingerprint(u.Circuit))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\ngates: []\n"), 0o600))
	_, err = LoadUnit(bad)
	assert.ErrorIs(t, err, circuit.ErrInvalidDocument)
	assert.True(t, IsUnitFailure(err))
}

func TestCircuitFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o750))
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "nested/c.yaml", ".hidden/d.yaml", ".swap.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	files, err := CircuitFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)
}

func TestNewWatcher_Validation(t *testing.T) {
	noop := func(context.Context, []string, []string) {}

	_, err := NewWatcher(t.TempDir(), time.Millisecond, nil, nil)
	assert.Error(t, err)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing"), time.Millisecond, noop, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "f.yaml")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = NewWatcher(file, time.Millisecond, noop, nil)
	assert.Error(t, err)
}

func TestWatcher_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var batches [][]string
	w, err := NewWatcher(dir, 50*time.Millisecond, func(_ context.Context, changed, _ []string) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, changed)
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "unit.yaml")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{path}, batches[0])
}

func TestWatch_CompilesExistingAndChangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeCircuit(t, dir, "diamond", circuittest.NewDiamond(t).C)
	c := newCompiler(t, nil)

	reports := make(chan *Result, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, dir, func(r *Result) { reports <- r })
	}()

	select {
	case r := <-reports:
		assert.Equal(t, "diamond", r.Name)
		assert.False(t, r.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("initial compile not reported")
	}

	// Give the watcher time to register, then move a complete file in.
	time.Sleep(100 * time.Millisecond)
	staged := writeCircuit(t, t.TempDir(), "loop", circuittest.NewLoop(t).C)
	require.NoError(t, os.Rename(staged, filepath.Join(dir, "loop.yaml")))

	select {
	case r := <-reports:
		assert.Equal(t, "loop", r.Name)
		require.False(t, r.Failed(), "%v", r.Err)
		assert.Len(t, r.CFG.Blocks, 5)
	case <-time.After(5 * time.Second):
		t.Fatal("change not reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
