// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	failure string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failure = fmt.Sprintf(format, args...)
	panic(r)
}

// capture runs f and returns the Fatalf message, if any.
func capture(f func(t TB)) (failure string) {
	r := &recorder{}
	defer func() {
		if recovered := recover(); recovered != nil && recovered != r {
			panic(recovered)
		}
		failure = r.failure
	}()
	f(r)
	return ""
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Errorf("RequireReceive = %d", got)
	}

	failure := capture(func(t TB) {
		RequireReceive(t, make(chan int), time.Millisecond, "waiting for %s", "result")
	})
	if !strings.Contains(failure, "timed out") || !strings.Contains(failure, "waiting for result") {
		t.Errorf("failure = %q", failure)
	}

	closed := make(chan int)
	close(closed)
	failure = capture(func(t TB) { RequireReceive(t, closed, time.Second) })
	if !strings.Contains(failure, "channel closed") {
		t.Errorf("failure = %q", failure)
	}
}

func TestRequireClosed(t *testing.T) {
	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second, "done")

	failure := capture(func(t TB) { RequireClosed(t, make(chan struct{}), time.Millisecond) })
	if !strings.Contains(failure, "(no message)") {
		t.Errorf("failure = %q", failure)
	}
}
