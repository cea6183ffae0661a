// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"bytes"
	"context"
	"errors"
	"io"
)

type tiered struct {
	// Forwarding holds the local tier.
	Forwarding
	remote Service
}

// Tiered reads from local first and falls back to remote on a miss,
// copying remote hits into local. Stores go to both tiers. It owns and
// closes both services.
//
// A local backend failure does not stop the remote lookup; it is
// reported only if the remote tier misses too.
func Tiered(local, remote Service) Service {
	return &tiered{Forwarding: Forwarding{delegate: local}, remote: remote}
}

func (t *tiered) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	hit, localErr := t.delegate.Load(ctx, key, reader)
	if hit || (localErr != nil && !IsBackendFailure(localErr)) {
		return hit, localErr
	}

	var copied bytes.Buffer
	hit, err := t.remote.Load(ctx, key, func(r io.Reader) error {
		tee := io.TeeReader(r, &copied)
		if err := reader(tee); err != nil {
			return err
		}
		// Drain what the consumer left unread so the local copy is
		// complete.
		_, err := io.Copy(io.Discard, tee)
		return err
	})
	if err != nil {
		return false, err
	}
	if !hit {
		return false, localErr
	}

	// Populating the local tier is best effort: the caller already has
	// its entry.
	if err := t.delegate.Store(ctx, key, BytesEntry(copied.Bytes())); err != nil && !IsBackendFailure(err) {
		return true, err
	}
	return true, nil
}

func (t *tiered) Store(ctx context.Context, key Key, writer EntryWriter) error {
	return errors.Join(
		t.delegate.Store(ctx, key, writer),
		t.remote.Store(ctx, key, writer),
	)
}

func (t *tiered) Description() string {
	return t.delegate.Description() + " then " + t.remote.Description()
}

func (t *tiered) Close() error {
	return errors.Join(t.delegate.Close(), t.remote.Close())
}
