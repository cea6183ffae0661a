// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildavoid/cmd/buildavoid/cli"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/chain"
	"github.com/bureau-foundation/buildavoid/lib/clock"
	"github.com/bureau-foundation/buildavoid/lib/config"
	"github.com/bureau-foundation/buildavoid/lib/operation"
)

// GlobalFlags are accepted by every leaf command. Exported so the
// embedding in params structs is visible to [cli.BindFlags].
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Trace      bool
}

// AddFlags implements [cli.FlagBinder].
func (g *GlobalFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.ConfigPath, "config", "", "configuration file (default $"+config.EnvVar+")")
	flagSet.BoolVarP(&g.Verbose, "verbose", "v", false, "log debug output")
	flagSet.BoolVar(&g.Trace, "trace", false, "print recorded operations to stderr on exit")
}

// streams are the command's standard output and error. Tests replace
// them to capture output.
type streams struct {
	stdout io.Writer
	stderr io.Writer
}

func defaultStreams() streams {
	return streams{stdout: os.Stdout, stderr: os.Stderr}
}

// session is the per-invocation runtime shared by leaf commands.
type session struct {
	config   *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	executor operation.Executor
	recorder *operation.Recorder
	streams  streams
}

// open loads configuration and builds the logger and executor. The
// caller must call close, which prints the trace when --trace is set.
func (g *GlobalFlags) open(out streams) (*session, error) {
	logger := cli.NewCommandLogger(g.Verbose)
	c := clock.Real()

	cfg, err := g.loadConfig(logger)
	if err != nil {
		return nil, err
	}

	var recorder *operation.Recorder
	if g.Trace {
		recorder = operation.NewRecorder(c)
	}
	return &session{
		config:   cfg,
		logger:   logger,
		clock:    c,
		executor: operation.NewLogExecutor(logger, c, recorder),
		recorder: recorder,
		streams:  out,
	}, nil
}

// loadConfig resolves configuration from --config, then the
// environment variable, then built-in defaults.
func (g *GlobalFlags) loadConfig(logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.ConfigPath != "":
		cfg, err = config.LoadFile(g.ConfigPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		logger.Debug("no configuration file, using defaults", "env", config.EnvVar)
		cfg = config.Default()
		cfg.Expand()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildCache assembles the configured cache chain.
func (s *session) buildCache(ctx context.Context) (*chain.Chain, error) {
	return chain.Build(ctx, s.config, chain.Options{
		Logger:   s.logger,
		Executor: s.executor,
		Clock:    s.clock,
	})
}

func (s *session) close() {
	if s.recorder == nil {
		return
	}
	writeTrace(s.streams.stderr, s.recorder.Operations())
}

// writeTrace prints finished operations as a table, children indented
// under their parents.
func writeTrace(w io.Writer, finished []operation.Finished) {
	// Operations finish after their children, so depth comes from
	// parent links rather than list order.
	parents := make(map[uint64]uint64, len(finished))
	for _, op := range finished {
		parents[op.ID] = op.Parent
	}
	depth := make(map[uint64]int, len(finished))
	for _, op := range finished {
		for parent := op.Parent; parent != 0; parent = parents[parent] {
			depth[op.ID]++
		}
	}

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tNAME\tDURATION\tRESULT")
	for _, op := range finished {
		label := op.Details.DisplayName
		if label == "" {
			label = op.Details.Name
		}
		indent := ""
		for range depth[op.ID] {
			indent += "  "
		}
		outcome := "ok"
		if op.Err != nil {
			outcome = "error: " + op.Err.Error()
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", indent, label, op.Details.Name,
			op.Duration.Round(time.Microsecond), outcome)
	}
	tw.Flush()
}
