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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/gatesched/pkg/logging"
	"github.com/AleutianAI/gatesched/pkg/ux"
	"github.com/AleutianAI/gatesched/services/compiler/config"
	"github.com/AleutianAI/gatesched/services/compiler/pipeline"
	"github.com/AleutianAI/gatesched/services/compiler/telemetry"
	"github.com/spf13/cobra"
)

// errUnitsFailed is returned when at least one unit failed. The failures
// have already been printed.
var errUnitsFailed = errors.New("one or more units failed")

// app holds state shared by the subcommands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Persistent flags.
	configPath  string
	logLevel    string
	jsonLogs    bool
	metricsAddr string

	cfg      config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	compiler *pipeline.Compiler
	cleanup  []func(context.Context) error
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		fmt.Fprintf(stderr, "Warning: shutdown: %v\n", cerr)
	}
	if err == nil {
		return 0
	}
	if !errors.Is(err, errUnitsFailed) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gatesched",
		Short: "Verify and schedule sea-of-nodes circuits",
		Long: `gatesched checks that a sea-of-nodes circuit is well formed and
places every gate into a basic block of a control flow graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.jsonLogs, "json", false, "write logs as JSON")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")

	root.AddCommand(
		newVerifyCmd(a),
		newScheduleCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and starts logging, telemetry and the compiler.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("json") {
		cfg.Log.JSON = a.jsonLogs
	}
	if a.metricsAddr != "" {
		cfg.Telemetry.MetricExporter = "prometheus"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "gatesched",
		JSON:    cfg.Log.JSON,
		Output:  a.stderr,
	})
	slog.SetDefault(a.logger.Slog())
	a.printer = ux.NewPrinter(a.stdout)

	ctx := cmd.Context()
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, shutdown)

	if a.metricsAddr != "" {
		if err := a.serveMetrics(); err != nil {
			return err
		}
	}

	a.compiler, err = pipeline.NewCompiler(cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, func(context.Context) error { return a.compiler.Close() })
	return nil
}

// serveMetrics exposes /metrics until the app closes.
func (a *app) serveMetrics() error {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		return errors.New("metrics handler unavailable")
	}
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.metricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Slog().Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	a.logger.Slog().Info("serving metrics", slog.String("addr", ln.Addr().String()))
	a.cleanup = append(a.cleanup, srv.Shutdown)
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
