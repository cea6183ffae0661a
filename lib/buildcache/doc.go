// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildcache defines the content-addressed build cache
// contract and the decorators that compose cache backends.
//
// A [Service] stores opaque entries under a [Key] derived from the
// inputs that produced them. Loads stream the entry into a
// caller-supplied [EntryReader]; stores pull bytes from a replayable
// [EntryWriter]. Backend failures are reported as errors matching
// [ErrUnavailable] or [ErrCorrupt], never as a generic error, so that
// callers can treat a failing cache as a miss without mistaking
// corruption for a hit. Using a service after Close is a programming
// error reported as [ErrClosed].
//
// Decorators embed [Forwarding], which owns exactly one delegate and
// forwards all four operations to it, and override only what they
// change:
//
//   - [Guard] enforces the open/closed lifecycle
//   - [Traced] runs loads and stores as tracked operations
//   - [WithPolicy] gates pulls and pushes
//   - [Retry] retries unavailable backends with backoff
//   - [FailOpen] turns backend failures into misses and disables a
//     backend that keeps failing
//   - [Tiered] reads through a local tier to a remote one
//   - [Metered] counts hits, misses, and bytes
//   - [Encrypted] seals entries with age before they reach the delegate
//
// Closing a decorator closes its delegate. The outermost decorator is
// invoked first; composition order is whatever the caller builds.
//
// Backends never invoke an EntryReader before the entry has been
// verified, and never report ErrUnavailable once they have invoked it.
// That is what makes [Retry] safe: a retried load cannot feed the
// consumer twice.
package buildcache
