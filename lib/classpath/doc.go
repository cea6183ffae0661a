// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package classpath enumerates class-file records for the fingerprinter
// from compiler output directories and jar archives.
//
// A [Source] produces records named by their slash-separated path
// inside the directory or archive, sorted by name, so the same tree
// always yields the same record list. Only *.class entries are
// returned; resources, manifests, and multi-release overlays under
// META-INF/ are not part of the compile surface a consumer binds to.
package classpath
