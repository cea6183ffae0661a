// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed manages the age keys that encrypt remote build cache
// entries.
//
// A team shares one X25519 identity (or each machine holds its own and
// lists the others as recipients). Identity files use the age-keygen
// format, so keys can be generated with either [GenerateKeypair] or the
// age tools. Key material is read through lib/secret and never sits in
// ordinary heap buffers longer than parsing takes.
//
// Key exports:
//
//   - [GenerateKeypair] / [WriteIdentityFile] -- create a new identity
//   - [LoadIdentity] -- parse an identity file into a [Keys]
//   - [ParseRecipients] -- validate additional age1... public keys
package sealed
