// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the two time operations buildavoid performs:
// reading the current time (operation durations, cache entry access
// times) and waiting (retry backoff).
//
// Production code injects [Real]. Tests inject [Fake], a clock that
// only moves when told to, so that pruning windows and backoff
// schedules are asserted exactly rather than raced against the wall
// clock.
package clock
