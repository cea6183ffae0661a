// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Details describes an operation before it runs.
type Details struct {
	// DisplayName is the human-readable label, e.g. "Fingerprint
	// classpath".
	DisplayName string

	// Name is a stable machine identifier such as "abi.fingerprint",
	// used for filtering recorded operations.
	Name string

	// Descriptor is an optional structured payload describing the
	// inputs (a key, a record count).
	Descriptor any
}

// Action is the unit of work run under an operation.
type Action func(ctx context.Context, op *Context) error

// Executor runs actions under operations.
type Executor interface {
	// Run executes action synchronously and returns its error
	// unchanged. A panic in action is recorded and then re-raised.
	Run(ctx context.Context, details Details, action Action) error
}

// Context is the mutable view of a running operation handed to its
// action.
type Context struct {
	id      uint64
	parent  uint64
	details Details

	mu      sync.Mutex
	result  any
	failure error
}

// ID returns the process-unique operation id.
func (c *Context) ID() uint64 { return c.id }

// Parent returns the id of the enclosing operation, or 0.
func (c *Context) Parent() uint64 { return c.parent }

// Details returns the details the operation was started with.
func (c *Context) Details() Details { return c.details }

// SetResult attaches a structured result payload for reporting. The
// last call wins.
func (c *Context) SetResult(result any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = result
}

// Failed marks the operation failed without the action returning an
// error. Used when the action recovers from a problem the operation
// log should still show.
func (c *Context) Failed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

func (c *Context) snapshot() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.failure
}

var lastID atomic.Uint64

type parentKey struct{}

// begin allocates the operation and derives the context its action
// runs with.
func begin(ctx context.Context, details Details) (context.Context, *Context) {
	op := &Context{id: lastID.Add(1), details: details}
	if parent, ok := ctx.Value(parentKey{}).(uint64); ok {
		op.parent = parent
	}
	return context.WithValue(ctx, parentKey{}, op.id), op
}

// CurrentID returns the id of the innermost operation running in ctx,
// or 0 outside any operation.
func CurrentID(ctx context.Context) uint64 {
	id, _ := ctx.Value(parentKey{}).(uint64)
	return id
}

// invoke runs action, converting a panic into a recorded error. The
// returned panicValue is non-nil when the action panicked; the caller
// must re-raise it after recording.
func invoke(ctx context.Context, op *Context, action Action) (panicValue any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicValue = recovered
			err = fmt.Errorf("operation %q panicked: %v", op.details.displayName(), recovered)
		}
	}()
	return nil, action(ctx, op)
}

func (d Details) displayName() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

type inline struct{}

// Inline returns an Executor that runs actions directly and records
// nothing. Nesting ids are still assigned.
func Inline() Executor { return inline{} }

func (inline) Run(ctx context.Context, details Details, action Action) error {
	ctx, op := begin(ctx, details)
	return action(ctx, op)
}
