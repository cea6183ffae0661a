// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Signature is a 32-byte BLAKE3 keyed digest of either a reduced class
// image or, on the fallback path, of a file's original bytes.
type Signature [32]byte

type domainKey [32]byte

// Domain keys are ASCII names zero-padded to 32 bytes. Changing one
// invalidates every recorded signature in that domain.
var (
	classDomainKey = domainKey{
		'b', 'u', 'i', 'l', 'd', 'a', 'v', 'o', 'i', 'd', '.', 'a', 'b', 'i', '.',
		'c', 'l', 'a', 's', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	aggregateDomainKey = domainKey{
		'b', 'u', 'i', 'l', 'd', 'a', 'v', 'o', 'i', 'd', '.', 'a', 'b', 'i', '.',
		'a', 'g', 'g', 'r', 'e', 'g', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Digest returns the class-domain signature of data. It is used both
// for reduced images and for the whole-file fallback.
func Digest(data []byte) Signature {
	hasher := newHasher(classDomainKey)
	hasher.Write(data)
	return sum(hasher)
}

// String returns the lowercase hex form.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText implements encoding.TextMarshaler so that signatures
// render as hex in JSON output.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignature parses a 64-character hex string.
func ParseSignature(text string) (Signature, error) {
	var signature Signature
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return signature, fmt.Errorf("parsing signature: %w", err)
	}
	if len(decoded) != len(signature) {
		return signature, fmt.Errorf("signature is %d bytes, want %d", len(decoded), len(signature))
	}
	copy(signature[:], decoded)
	return signature, nil
}

func newHasher(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("abi: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Signature {
	var signature Signature
	copy(signature[:], hasher.Sum(nil))
	return signature
}

// writeField writes a length-prefixed field so that adjacent fields
// cannot be confused with one another.
func writeField(hasher *blake3.Hasher, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	hasher.Write(length[:])
	hasher.Write(field)
}
