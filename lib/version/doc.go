// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for buildavoid.
//
// Three variables are injected at build time with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/buildavoid/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected (go install, go run, tests), [Info] falls
// back to the module version and VCS settings the Go toolchain embeds
// in the binary.
package version
