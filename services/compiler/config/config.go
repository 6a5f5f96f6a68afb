// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads gatesched configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then
// environment overrides. The result is validated with struct tags.
//
// Environment overrides:
//
//	GATESCHED_LOG_LEVEL   log.level
//	GATESCHED_VERIFY      scheduler.verify_before_schedule
//	GATESCHED_CACHE_DIR   cache.path (and enables the cache)
//	GATESCHED_WORKERS     pipeline.workers
//	OTEL_*                see the telemetry package
//
// Thread Safety: All exported functions are safe for concurrent use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/gatesched/services/compiler/dominance"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize is the maximum allowed config file size (1MB).
const MaxConfigFileSize = 1024 * 1024

var (
	// ErrInvalidConfig is returned when a config fails to parse or validate.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrConfigTooLarge is returned when a config file exceeds MaxConfigFileSize.
	ErrConfigTooLarge = errors.New("config file too large")
)

var validate = validator.New()

// Config is the root configuration.
type Config struct {
	// Log contains CLI logging settings.
	Log LogConfig `yaml:"log"`

	// Telemetry contains tracing and metrics exporter settings.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Scheduler contains scheduling settings.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Cache contains schedule cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Pipeline contains batch and watch settings.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`

	// Dir enables per-day log files in addition to stderr. Supports ~.
	Dir string `yaml:"dir"`
}

// SchedulerConfig controls scheduling.
type SchedulerConfig struct {
	// VerifyBeforeSchedule runs the verifier on every unit before
	// scheduling it. Debug builds turn this on.
	VerifyBeforeSchedule bool `yaml:"verify_before_schedule"`

	// DominatorAlgorithm is "dataflow" (default) or "chk".
	DominatorAlgorithm string `yaml:"dominator_algorithm" validate:"omitempty,oneof=dataflow chk cooper-harvey-kennedy"`
}

// CacheConfig controls the on-disk schedule cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Path       string        `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// PipelineConfig controls batch compilation and watch mode.
type PipelineConfig struct {
	// Workers bounds concurrent unit compilations.
	Workers int `yaml:"workers" validate:"gte=1,lte=256"`

	// WatchDebounce coalesces bursts of file events.
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"gte=0"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Scheduler: SchedulerConfig{
			VerifyBeforeSchedule: false,
			DominatorAlgorithm:   "dataflow",
		},
		Cache: CacheConfig{
			Enabled:    false,
			GCInterval: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			WatchDebounce: 200 * time.Millisecond,
		},
	}
}

// Load builds the effective configuration.
//
// Inputs:
//
//   - path: YAML file to layer over the defaults. Empty means defaults only.
//
// Outputs:
//
//   - Config: The validated configuration.
//   - error: ErrConfigTooLarge, ErrInvalidConfig, or a file system error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := readLimited(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}

	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrConfigTooLarge, path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if env.Has("GATESCHED_LOG_LEVEL") {
		cfg.Log.Level = env.Str("GATESCHED_LOG_LEVEL")
	}
	if env.Has("GATESCHED_VERIFY") {
		cfg.Scheduler.VerifyBeforeSchedule = env.Bool("GATESCHED_VERIFY")
	}
	if env.Has("GATESCHED_CACHE_DIR") {
		cfg.Cache.Enabled = true
		cfg.Cache.Path = env.Str("GATESCHED_CACHE_DIR")
	}
	if env.Has("GATESCHED_WORKERS") {
		cfg.Pipeline.Workers = env.Int("GATESCHED_WORKERS", cfg.Pipeline.Workers)
	}
}

// Validate checks cfg against its struct tags.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Algorithm returns the configured dominator engine.
func (cfg *Config) Algorithm() dominance.Algorithm {
	algo, err := dominance.ParseAlgorithm(cfg.Scheduler.DominatorAlgorithm)
	if err != nil {
		return dominance.AlgorithmDataflow
	}
	return algo
}

// SlogLevel returns the configured log level.
func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
