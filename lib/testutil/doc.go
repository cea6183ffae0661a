// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern for tests that wait on goroutines, such as a server that
// must stop after its context is cancelled. They are the only place
// tests use real wall-clock timeouts; everything else runs on
// clock.Fake.
package testutil
