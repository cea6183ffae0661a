// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"errors"
	"sync"
)

// ErrResultNotSet is returned by [Call] when the executor returned
// without the action having produced a value.
var ErrResultNotSet = errors.New("operation: result not set")

// Holder is a single-assignment result slot, owned by the caller of
// an executor and written by the action.
type Holder[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// Set stores value. Writing a holder twice is a programming error and
// panics.
func (h *Holder[T]) Set(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.set {
		panic("operation: result holder written twice")
	}
	h.value = value
	h.set = true
}

// Get returns the stored value and whether Set was called.
func (h *Holder[T]) Get() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.set
}

// Call runs action under executor and returns the value it produced.
// If the action fails its error is returned with the zero value. If
// the executor returns nil without the action having run to
// completion, Call returns ErrResultNotSet.
func Call[T any](ctx context.Context, executor Executor, details Details, action func(ctx context.Context, op *Context) (T, error)) (T, error) {
	var holder Holder[T]
	err := executor.Run(ctx, details, func(ctx context.Context, op *Context) error {
		value, err := action(ctx, op)
		if err != nil {
			return err
		}
		holder.Set(value)
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, ok := holder.Get()
	if !ok {
		var zero T
		return zero, ErrResultNotSet
	}
	return value, nil
}
