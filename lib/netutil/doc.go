// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP body and connection helpers shared by
// the remote build cache client and server.
//
// Body helpers (ReadBody, ErrorBody) bound every read so that a
// misbehaving peer cannot exhaust memory. Connection helpers
// (IsExpectedCloseError) classify errors caused by a peer going away
// mid-transfer, which servers log quietly rather than as failures.
package netutil
