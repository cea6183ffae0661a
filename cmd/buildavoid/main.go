// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// buildavoid fingerprints JVM class ABIs and manages the build cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/buildavoid/cmd/buildavoid/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that report their own outcome (a cache miss, an ABI
		// change under --check) return an error carrying the exit code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return commands.Root().Execute(ctx, os.Args[1:])
}
