// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every override so tests see only what they set.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GATESCHED_LOG_LEVEL", "GATESCHED_VERIFY", "GATESCHED_CACHE_DIR", "GATESCHED_WORKERS",
		"OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatesched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, dominance.AlgorithmDataflow, cfg.Algorithm())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log:
  level: debug
  json: true
scheduler:
  verify_before_schedule: true
  dominator_algorithm: chk
cache:
  enabled: true
  path: /tmp/gatesched-cache
  gc_interval: 1m
pipeline:
  workers: 8
  watch_debounce: 50ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Scheduler.VerifyBeforeSchedule)
	assert.Equal(t, dominance.AlgorithmCooperHarveyKennedy, cfg.Algorithm())
	assert.Equal(t, "/tmp/gatesched-cache", cfg.Cache.Path)
	assert.Equal(t, time.Minute, cfg.Cache.GCInterval)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Pipeline.WatchDebounce)

	// Unset sections keep their defaults.
	assert.Equal(t, "gatesched", cfg.Telemetry.ServiceName)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "log:\n  level: error\npipeline:\n  workers: 2\n")
	t.Setenv("GATESCHED_LOG_LEVEL", "warn")
	t.Setenv("GATESCHED_VERIFY", "true")
	t.Setenv("GATESCHED_CACHE_DIR", "/var/cache/gatesched")
	t.Setenv("GATESCHED_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Scheduler.VerifyBeforeSchedule)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "/var/cache/gatesched", cfg.Cache.Path)
	assert.Equal(t, 16, cfg.Pipeline.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad level":          "log:\n  level: loud\n",
		"zero workers":       "pipeline:\n  workers: 0\n",
		"unknown algorithm":  "scheduler:\n  dominator_algorithm: lengauer\n",
		"cache without path": "cache:\n  enabled: true\n",
		"bad exporter":       "telemetry:\n  trace_exporter: carrier_pigeon\n",
		"malformed yaml":     "log: [unclosed\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_InMemoryCacheNeedsNoPath(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "cache:\n  enabled: true\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.InMemory)
}

func TestLoad_FileTooLarge(t *testing.T) {
	clearEnv(t)
	body := "log:\n  level: info\n# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
	_, err := Load(writeConfig(t, body))
	assert.ErrorIs(t, err, ErrConfigTooLarge)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
