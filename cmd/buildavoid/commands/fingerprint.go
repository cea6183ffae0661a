// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"slices"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildavoid/cmd/buildavoid/cli"
	"github.com/bureau-foundation/buildavoid/lib/abi"
	"github.com/bureau-foundation/buildavoid/lib/classpath"
)

// exitRecompile is the exit status of "fingerprint --check" when the
// ABI changed and dependents must recompile.
const exitRecompile = 2

type fingerprintParams struct {
	GlobalFlags
	cli.JSONOutput
	Snapshot              string   `flag:"snapshot" desc:"compare against this snapshot file and rewrite it"`
	Check                 bool     `flag:"check" desc:"exit 2 if dependents must recompile; do not rewrite the snapshot (requires --snapshot)"`
	Parallel              int      `flag:"parallel,j" desc:"fingerprinting workers (default from config, then GOMAXPROCS)"`
	Strict                bool     `flag:"strict" desc:"fail on class files that do not parse"`
	IgnorePackages        []string `flag:"ignore-package" desc:"exclude a package; a trailing .* also excludes sub-packages (repeatable)"`
	IncludePackagePrivate bool     `flag:"include-package-private" desc:"treat package-private declarations as public surface"`
	Entries               bool     `flag:"entries" desc:"list per-class signatures"`
}

// fingerprintOutput is the --json form of a fingerprint run.
type fingerprintOutput struct {
	Aggregate   abi.Signature      `json:"aggregate"`
	Entries     []abi.Entry        `json:"entries"`
	Diagnostics []diagnosticOutput `json:"diagnostics,omitempty"`
	Delta       *abi.Delta         `json:"delta,omitempty"`
	Recompile   *bool              `json:"recompile,omitempty"`
}

type diagnosticOutput struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func fingerprintCommand(out streams) *cli.Command {
	var params fingerprintParams

	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Compute the ABI fingerprint of classpath entries",
		Usage:   "buildavoid fingerprint PATH... [flags]",
		Description: `Compute the ABI fingerprint of class directories and archives.

The fingerprint covers only what a consumer can compile against: class
declarations, visible fields and methods, constant values, and
annotations. Method bodies, private members, and debug metadata are
excluded, so implementation-only changes keep the fingerprint stable.

With --snapshot, the result is compared against the previous snapshot
and the classes that were added, removed, or changed are listed. The
snapshot is then rewritten unless --check is set.`,
		Examples: []cli.Example{
			{
				Description: "Fingerprint a jar",
				Command:     "buildavoid fingerprint build/libs/core.jar",
			},
			{
				Description: "Decide whether dependents of a module need recompiling",
				Command:     "buildavoid fingerprint --snapshot build/abi.snapshot --check build/classes",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("fingerprint", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one classpath entry is required")
			}
			if params.Check && params.Snapshot == "" {
				return fmt.Errorf("--check requires --snapshot")
			}
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()
			return runFingerprint(ctx, s, &params, args)
		},
	}
}

func runFingerprint(ctx context.Context, s *session, params *fingerprintParams, paths []string) error {
	settings := s.config.ABI
	settings.IgnoredPackages = append(slices.Clone(settings.IgnoredPackages), params.IgnorePackages...)
	settings.IncludePackagePrivate = settings.IncludePackagePrivate || params.IncludePackagePrivate
	settings.Strict = settings.Strict || params.Strict
	if params.Parallel > 0 {
		settings.Parallelism = params.Parallel
	}
	if settings.Parallelism <= 0 {
		settings.Parallelism = runtime.GOMAXPROCS(0)
	}
	if len(params.IgnorePackages) > 0 {
		check := *s.config
		check.ABI = settings
		if err := check.Validate(); err != nil {
			return err
		}
	}

	source, err := classpath.Open(paths...)
	if err != nil {
		return err
	}
	records, err := classpath.Tracked(source, "List classpath", s.executor).Records(ctx)
	if err != nil {
		return err
	}

	fingerprinter := abi.NewFingerprinter(abi.NewExtractor(abi.Options{
		IgnoredPackages:       settings.IgnoredPackages,
		IncludePackagePrivate: settings.IncludePackagePrivate,
	}), s.executor)

	var result *abi.Result
	if settings.Parallelism == 1 {
		result, err = fingerprinter.Fingerprint(ctx, records)
	} else {
		result, err = fingerprinter.FingerprintParallel(ctx, records, settings.Parallelism)
	}
	if err != nil {
		return err
	}

	output := fingerprintOutput{
		Aggregate: result.Aggregate(),
		Entries:   result.Entries,
	}
	for _, diagnostic := range result.Diagnostics {
		s.logger.Warn("class file did not parse, using content digest",
			"class", diagnostic.Name, "error", diagnostic.Err)
		output.Diagnostics = append(output.Diagnostics, diagnosticOutput{
			Name:  diagnostic.Name,
			Error: diagnostic.Err.Error(),
		})
	}
	if settings.Strict {
		if err := result.Strict(); err != nil {
			return err
		}
	}

	if params.Snapshot != "" {
		current := abi.NewSnapshot(result)
		previous, err := abi.ReadSnapshotFile(params.Snapshot)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("ignoring unreadable snapshot", "path", params.Snapshot, "error", err)
		}
		delta := abi.Compare(previous, current)
		recompile := previous == nil || previous.Aggregate != current.Aggregate
		output.Delta = &delta
		output.Recompile = &recompile

		if !params.Check {
			if err := abi.WriteSnapshotFile(params.Snapshot, current); err != nil {
				return err
			}
		}
	}

	if done, err := params.EmitJSON(s.streams.stdout, output); done {
		if err != nil {
			return err
		}
	} else {
		writeFingerprint(s.streams.stdout, &output, params.Entries)
	}

	if params.Check && output.Recompile != nil && *output.Recompile {
		return &cli.ExitError{Code: exitRecompile}
	}
	return nil
}

func writeFingerprint(w io.Writer, output *fingerprintOutput, entries bool) {
	if entries {
		for _, entry := range output.Entries {
			suffix := ""
			if entry.Fallback {
				suffix = "  (content digest)"
			}
			fmt.Fprintf(w, "%s  %s%s\n", entry.Signature, entry.Name, suffix)
		}
	}
	fmt.Fprintf(w, "%s\n", output.Aggregate)

	if output.Delta == nil {
		return
	}
	for _, name := range output.Delta.Added {
		fmt.Fprintf(w, "+ %s\n", name)
	}
	for _, name := range output.Delta.Removed {
		fmt.Fprintf(w, "- %s\n", name)
	}
	for _, name := range output.Delta.Changed {
		fmt.Fprintf(w, "~ %s\n", name)
	}
	if *output.Recompile {
		fmt.Fprintln(w, "recompile: yes")
	} else {
		fmt.Fprintln(w, "recompile: no")
	}
}
