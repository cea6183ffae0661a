// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the buildavoid command tree.
package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/buildavoid/cmd/buildavoid/cli"
	"github.com/bureau-foundation/buildavoid/lib/version"
)

// Root returns the complete command tree writing to the process's
// standard streams.
func Root() *cli.Command {
	return newRoot(defaultStreams())
}

func newRoot(out streams) *cli.Command {
	return &cli.Command{
		Name: "buildavoid",
		Description: `buildavoid: compile avoidance for JVM builds.

Fingerprints the ABI of compiled classes so dependents recompile only
when something they can compile against changes, and stores build
outputs in a content-addressed cache shared between machines.

Configuration is read from --config, then $BUILDAVOID_CONFIG, and
falls back to built-in defaults (a local cache under
~/.cache/buildavoid, no remote).`,
		HelpOutput: out.stderr,
		Subcommands: []*cli.Command{
			fingerprintCommand(out),
			cacheCommand(out),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string) error {
					fmt.Fprintf(out.stdout, "buildavoid %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
