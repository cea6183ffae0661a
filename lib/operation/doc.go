// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation runs units of work under named, nestable
// operations so that their occurrence, nesting, duration, and outcome
// can be observed without changing what the work returns.
//
// An [Executor] is synchronous: Run returns only after the action has
// completed, and returns the action's error unchanged. Nesting is
// carried through the context, so an operation started from inside
// another's action records the outer one as its parent.
//
// The action signature returns only an error. Callers that need a
// value out of a tracked action use [Call], which captures it in a
// [Holder] and asserts that it was written exactly once before Run
// returned.
//
// Three executors are provided: [Inline] records nothing, [Recorder]
// keeps finished operations in memory, and [LogExecutor] logs through
// slog and optionally feeds a Recorder.
package operation
