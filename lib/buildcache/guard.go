// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"sync"
)

type guarded struct {
	Forwarding

	// mu is held for reading by in-flight operations, so Close waits
	// for them before closing the delegate.
	mu     sync.RWMutex
	closed bool
}

// Guard enforces the open, then closed lifecycle: after Close, Load
// and Store fail with ErrClosed without reaching the delegate, and
// further Close calls are no-ops.
func Guard(delegate Service) Service {
	return &guarded{Forwarding: Forwarding{delegate: delegate}}
}

func (g *guarded) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false, &Error{Op: "load", Key: key, Kind: KindClosed}
	}
	return g.delegate.Load(ctx, key, reader)
}

func (g *guarded) Store(ctx context.Context, key Key, writer EntryWriter) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return &Error{Op: "store", Key: key, Kind: KindClosed}
	}
	return g.delegate.Store(ctx, key, writer)
}

func (g *guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.delegate.Close()
}
