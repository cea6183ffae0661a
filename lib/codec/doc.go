// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// buildavoid.
//
// CBOR is used wherever bytes must be reproducible: the reduced API
// image that the ABI fingerprinter hashes, and the classpath snapshot
// files recorded between builds. JSON is reserved for CLI --json
// output.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes, which is the
// property the ABI signature depends on.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is only ever serialized as CBOR (reduced
//     API images).
//   - `json` tag: the type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags when `cbor` tags are absent
//     (snapshots, which the CLI also prints as JSON).
//
// Never use both tags on the same field.
package codec
