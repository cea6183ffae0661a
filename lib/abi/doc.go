// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package abi computes stable signatures of the externally visible
// surface of compiled JVM classes, so that a build can tell whether a
// change to a library requires its dependents to recompile.
//
// The pipeline has two stages. The [Extractor] decides whether a class
// contributes to the public surface at all (synthetic, local,
// anonymous, private nested, and ignored-package classes do not) and,
// if so, reduces it to a deterministic image containing only
// declarations a consumer can compile against: public and protected
// members with their full signatures, constant values, thrown
// exceptions, and annotations. Method bodies, private members, and
// debug metadata are discarded, so editing an implementation leaves
// the image unchanged.
//
// The [Fingerprinter] runs a sequence of [Record] values through the
// extractor and digests each image into a [Signature]. Classes with no
// surface are omitted from the [Result]. Bytes that do not parse as a
// class fall back to a digest of the whole file and produce a
// [Diagnostic]; the pass continues. Only an unreadable record aborts
// the pass, with [ErrContentUnavailable].
//
// [Result.Aggregate] combines entries, sorted by name, into a single
// signature for the classpath entry, and [Snapshot] persists it for
// comparison with the next build.
package abi
