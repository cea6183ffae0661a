// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/clock"
)

// RetryPolicy bounds retries of unavailable backends.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 mean 1.
	Attempts int

	// Backoff is the wait before the second attempt. It doubles after
	// each further failure, up to MaxBackoff when that is positive.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type retrying struct {
	Forwarding
	policy RetryPolicy
	clock  clock.Clock
}

// Retry retries Load and Store while the delegate reports
// ErrUnavailable. Corrupt entries, closed services, and consumer
// errors are returned immediately. A nil clock uses the real clock.
func Retry(delegate Service, policy RetryPolicy, c clock.Clock) Service {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if c == nil {
		c = clock.Real()
	}
	return &retrying{Forwarding: Forwarding{delegate: delegate}, policy: policy, clock: c}
}

func (r *retrying) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	var hit bool
	err := r.do(ctx, func() error {
		var err error
		hit, err = r.delegate.Load(ctx, key, reader)
		return err
	})
	return hit, err
}

func (r *retrying) Store(ctx context.Context, key Key, writer EntryWriter) error {
	return r.do(ctx, func() error {
		return r.delegate.Store(ctx, key, writer)
	})
}

func (r *retrying) do(ctx context.Context, attempt func() error) error {
	backoff := r.policy.Backoff
	for try := 1; ; try++ {
		err := attempt()
		if err == nil || !errors.Is(err, ErrUnavailable) || try >= r.policy.Attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-r.clock.After(backoff):
		}
		backoff *= 2
		if r.policy.MaxBackoff > 0 && backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
}
