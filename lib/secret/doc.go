// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material, such as the age identity that
// encrypts remote cache entries, in memory the Go runtime never sees.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks, and
// unmaps it. [ReadFile] loads a key file straight into a Buffer and
// scrubs the transient heap copy.
//
// Depends on golang.org/x/sys/unix. No buildavoid-internal
// dependencies.
package secret
