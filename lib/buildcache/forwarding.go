// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import "context"

// Forwarding owns one delegate and forwards every operation to it.
// Decorators embed it and override the operations they change.
type Forwarding struct {
	delegate Service
}

// NewForwarding returns a decorator that changes nothing.
func NewForwarding(delegate Service) *Forwarding {
	return &Forwarding{delegate: delegate}
}

// Delegate returns the wrapped service.
func (f *Forwarding) Delegate() Service { return f.delegate }

// Load forwards to the delegate.
func (f *Forwarding) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	return f.delegate.Load(ctx, key, reader)
}

// Store forwards to the delegate.
func (f *Forwarding) Store(ctx context.Context, key Key, writer EntryWriter) error {
	return f.delegate.Store(ctx, key, writer)
}

// Description forwards to the delegate.
func (f *Forwarding) Description() string { return f.delegate.Description() }

// Close closes the delegate.
func (f *Forwarding) Close() error { return f.delegate.Close() }
