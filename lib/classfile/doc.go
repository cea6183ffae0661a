// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package classfile reads JVM class files far enough to recover a
// class's declared surface: header, constant pool, members, and the
// handful of attributes that matter to consumers compiling against the
// class (signatures, constant values, thrown exceptions, annotations,
// nesting information).
//
// It is deliberately not a bytecode library. Method bodies are kept as
// opaque attribute bytes and never decoded. What the reader does do is
// validate structure strictly: every constant-pool reference is bounds-
// and type-checked, truncated input and trailing bytes are rejected,
// and every such failure is reported as a [*FormatError] matching
// [ErrMalformed]. Callers use that distinction to tell "this is not a
// class" apart from "I could not read the file".
//
// [Builder] is the inverse: it assembles well-formed class bytes from
// a declarative description. Tests throughout the module use it to
// produce fixtures, so that no binary class files need to be checked
// in.
package classfile
