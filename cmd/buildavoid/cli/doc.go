// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for buildavoid.
//
// [Command] is a node in the command tree: a group dispatching on its
// first positional argument, or a leaf with a Run function and a
// [pflag.FlagSet] factory. [Command.Execute] handles flag parsing,
// routing, and help output with examples. Unknown commands and flags
// get a "did you mean" suggestion when a defined name is within a
// small edit distance.
//
// Params structs declare flags with struct tags and are bound by
// [FlagsFromParams]; [JSONOutput] adds --json to any of them.
// Commands report handled failures (a cache miss, an ABI change under
// --check) with [ExitError] so main exits with the right code without
// printing twice.
package cli
