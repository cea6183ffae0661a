// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/clock"
)

// Finished is the record of a completed operation.
type Finished struct {
	ID       uint64
	Parent   uint64
	Details  Details
	Result   any
	Err      error
	Start    time.Time
	Duration time.Duration
}

// Recorder is an Executor that keeps every finished operation in
// memory, in completion order. Safe for concurrent use.
type Recorder struct {
	clock clock.Clock

	mu       sync.Mutex
	finished []Finished
}

// NewRecorder returns an empty Recorder timing operations with c.
// A nil clock uses the real clock.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.Real()
	}
	return &Recorder{clock: c}
}

// Run implements Executor.
func (r *Recorder) Run(ctx context.Context, details Details, action Action) error {
	return execute(ctx, r.clock, details, action, r.add)
}

func (r *Recorder) add(finished Finished) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, finished)
}

// Operations returns a copy of everything recorded so far.
func (r *Recorder) Operations() []Finished {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Finished(nil), r.finished...)
}

// Named returns the recorded operations with the given Name.
func (r *Recorder) Named(name string) []Finished {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Finished
	for _, finished := range r.finished {
		if finished.Details.Name == name {
			matched = append(matched, finished)
		}
	}
	return matched
}

// execute is the shared body of the recording executors: begin, run
// with panic capture, report, and re-raise.
func execute(ctx context.Context, c clock.Clock, details Details, action Action, report func(Finished)) error {
	ctx, op := begin(ctx, details)
	start := c.Now()
	panicValue, err := invoke(ctx, op, action)
	result, failure := op.snapshot()
	finished := Finished{
		ID:       op.id,
		Parent:   op.parent,
		Details:  details,
		Result:   result,
		Err:      err,
		Start:    start,
		Duration: c.Now().Sub(start),
	}
	if finished.Err == nil {
		finished.Err = failure
	}
	report(finished)
	if panicValue != nil {
		panic(panicValue)
	}
	return err
}
