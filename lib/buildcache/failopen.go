// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// FailOpenService converts backend failures into misses and dropped
// stores, and stops using a backend that keeps failing.
type FailOpenService struct {
	Forwarding
	logger       *slog.Logger
	disableAfter int64

	failures atomic.Int64
	disabled atomic.Bool
}

// FailOpen wraps delegate. After disableAfter backend failures the
// delegate is no longer called for the rest of the service's life;
// zero or negative never disables. A nil logger discards warnings.
func FailOpen(delegate Service, logger *slog.Logger, disableAfter int) *FailOpenService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FailOpenService{
		Forwarding:   Forwarding{delegate: delegate},
		logger:       logger,
		disableAfter: int64(disableAfter),
	}
}

// Load implements Service. Backend failures become misses.
func (f *FailOpenService) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	if f.disabled.Load() {
		return false, nil
	}
	hit, err := f.delegate.Load(ctx, key, reader)
	if err != nil && IsBackendFailure(err) {
		f.fail("load", key, err)
		return false, nil
	}
	return hit, err
}

// Store implements Service. Backend failures are dropped.
func (f *FailOpenService) Store(ctx context.Context, key Key, writer EntryWriter) error {
	if f.disabled.Load() {
		return nil
	}
	err := f.delegate.Store(ctx, key, writer)
	if err != nil && IsBackendFailure(err) {
		f.fail("store", key, err)
		return nil
	}
	return err
}

// Disabled reports whether the delegate has been switched off.
func (f *FailOpenService) Disabled() bool { return f.disabled.Load() }

// Failures returns the number of backend failures absorbed so far.
func (f *FailOpenService) Failures() int64 { return f.failures.Load() }

func (f *FailOpenService) fail(op string, key Key, err error) {
	count := f.failures.Add(1)
	f.logger.Warn("build cache "+op+" failed, continuing without it",
		"cache", f.delegate.Description(),
		"key", key.String(),
		"error", err,
	)
	if f.disableAfter > 0 && count >= f.disableAfter && f.disabled.CompareAndSwap(false, true) {
		f.logger.Warn("build cache disabled due to repeated errors",
			"cache", f.delegate.Description(),
			"failures", count,
		)
	}
}
