// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import "context"

// Tracking says whether a configuration step carries an operation
// display name. The zero value is [Untracked].
type Tracking struct {
	displayName string
	tracked     bool
}

// Untracked is the Tracking of steps that run without an operation.
var Untracked = Tracking{}

// Tracked returns a Tracking that runs under an operation labelled
// displayName.
func Tracked(displayName string) Tracking {
	return Tracking{displayName: displayName, tracked: true}
}

// DisplayName returns the operation label and whether the step is
// tracked at all.
func (t Tracking) DisplayName() (string, bool) {
	return t.displayName, t.tracked
}

// Configure runs a configuration step. Tracked steps run under an
// operation named "configure"; untracked steps run directly.
func Configure[T any](ctx context.Context, executor Executor, tracking Tracking, configure func(ctx context.Context) (T, error)) (T, error) {
	displayName, tracked := tracking.DisplayName()
	if !tracked {
		return configure(ctx)
	}
	return Call(ctx, executor, Details{DisplayName: displayName, Name: "configure"},
		func(ctx context.Context, _ *Context) (T, error) {
			return configure(ctx)
		})
}
