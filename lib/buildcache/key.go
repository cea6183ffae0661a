// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Key identifies a cache entry. Keys are derived from the inputs of
// the work that produced the entry; equal keys mean equal inputs.
type Key [32]byte

// keyDomainKey separates cache keys from every other BLAKE3 domain in
// the module.
var keyDomainKey = [32]byte{
	'b', 'u', 'i', 'l', 'd', 'a', 'v', 'o', 'i', 'd', '.', 'b', 'u', 'i', 'l', 'd',
	'c', 'a', 'c', 'h', 'e', '.', 'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0,
}

// String returns the hex form used in paths, URLs, and logs.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey parses a 64-character hex key.
func ParseKey(text string) (Key, error) {
	var key Key
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return key, fmt.Errorf("parsing cache key: %w", err)
	}
	if len(decoded) != len(key) {
		return key, fmt.Errorf("cache key is %d bytes, want %d", len(decoded), len(key))
	}
	copy(key[:], decoded)
	return key, nil
}

// Field type tags written before each KeyBuilder field, so that a
// string and a byte slice with equal contents hash differently.
const (
	fieldString byte = iota + 1
	fieldBytes
	fieldDigest
	fieldKey
	fieldInt
)

// KeyBuilder derives a Key from an ordered sequence of typed fields.
// Every field is tagged and length-prefixed, so no two distinct field
// sequences share an encoding.
type KeyBuilder struct {
	hasher *blake3.Hasher
}

// NewKeyBuilder starts a key derivation.
func NewKeyBuilder() *KeyBuilder {
	hasher, err := blake3.NewKeyed(keyDomainKey[:])
	if err != nil {
		panic("buildcache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &KeyBuilder{hasher: hasher}
}

func (b *KeyBuilder) field(tag byte, data []byte) *KeyBuilder {
	var header [9]byte
	header[0] = tag
	binary.BigEndian.PutUint64(header[1:], uint64(len(data)))
	b.hasher.Write(header[:])
	b.hasher.Write(data)
	return b
}

// String adds a string field.
func (b *KeyBuilder) String(value string) *KeyBuilder {
	return b.field(fieldString, []byte(value))
}

// Bytes adds a byte field.
func (b *KeyBuilder) Bytes(value []byte) *KeyBuilder {
	return b.field(fieldBytes, value)
}

// Digest adds a fixed-size digest, such as an ABI signature.
func (b *KeyBuilder) Digest(value [32]byte) *KeyBuilder {
	return b.field(fieldDigest, value[:])
}

// Key adds a nested key.
func (b *KeyBuilder) Key(value Key) *KeyBuilder {
	return b.field(fieldKey, value[:])
}

// Int adds an integer field.
func (b *KeyBuilder) Int(value int64) *KeyBuilder {
	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], uint64(value))
	return b.field(fieldInt, encoded[:])
}

// Build returns the derived key. The builder may continue to be used;
// later fields extend the same derivation.
func (b *KeyBuilder) Build() Key {
	var key Key
	copy(key[:], b.hasher.Sum(nil))
	return key
}
