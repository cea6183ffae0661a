// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"io"
	"log/slog"

	"github.com/bureau-foundation/buildavoid/lib/clock"
)

// LogExecutor logs operation starts and completions at Debug and
// failures at Warn, optionally forwarding finished operations to a
// Recorder.
type LogExecutor struct {
	logger   *slog.Logger
	clock    clock.Clock
	recorder *Recorder
}

// NewLogExecutor creates a LogExecutor. A nil logger discards output,
// a nil clock uses the real clock, and recorder may be nil.
func NewLogExecutor(logger *slog.Logger, c clock.Clock, recorder *Recorder) *LogExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c == nil {
		c = clock.Real()
	}
	return &LogExecutor{logger: logger, clock: c, recorder: recorder}
}

// Run implements Executor.
func (e *LogExecutor) Run(ctx context.Context, details Details, action Action) error {
	e.logger.Debug("operation started",
		"operation", details.displayName(),
		"parent", CurrentID(ctx),
	)
	return execute(ctx, e.clock, details, action, func(finished Finished) {
		if finished.Err != nil {
			e.logger.Warn("operation failed",
				"operation", details.displayName(),
				"id", finished.ID,
				"duration", finished.Duration,
				"error", finished.Err,
			)
		} else {
			attributes := []any{
				"operation", details.displayName(),
				"id", finished.ID,
				"duration", finished.Duration,
			}
			if finished.Result != nil {
				attributes = append(attributes, "result", finished.Result)
			}
			e.logger.Debug("operation finished", attributes...)
		}
		if e.recorder != nil {
			e.recorder.add(finished)
		}
	})
}
