// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"filippo.io/age"
)

type encrypted struct {
	Forwarding
	identity   age.Identity
	recipients []age.Recipient
}

// Encrypted seals entries to recipients with age before they reach
// delegate, and opens them with identity on load. Entries that fail to
// decrypt are reported as ErrCorrupt.
//
// Decryption completes before the caller's reader is invoked, so a
// tampered entry is never partially delivered.
func Encrypted(delegate Service, identity age.Identity, recipients ...age.Recipient) Service {
	return &encrypted{
		Forwarding: Forwarding{delegate: delegate},
		identity:   identity,
		recipients: recipients,
	}
}

func (e *encrypted) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	return e.delegate.Load(ctx, key, func(r io.Reader) error {
		decrypter, err := age.Decrypt(r, e.identity)
		if err != nil {
			return Corrupt("load", key, fmt.Errorf("opening age envelope: %w", err))
		}
		plaintext, err := io.ReadAll(decrypter)
		if err != nil {
			return Corrupt("load", key, fmt.Errorf("decrypting entry: %w", err))
		}
		return reader(bytes.NewReader(plaintext))
	})
}

func (e *encrypted) Store(ctx context.Context, key Key, writer EntryWriter) error {
	return e.delegate.Store(ctx, key, sealedEntry{plain: writer, recipients: e.recipients})
}

func (e *encrypted) Description() string {
	return e.delegate.Description() + " (encrypted)"
}

type sealedEntry struct {
	plain      EntryWriter
	recipients []age.Recipient
}

func (s sealedEntry) WriteTo(w io.Writer) (int64, error) {
	counter := &countingWriter{writer: w}
	encrypter, err := age.Encrypt(counter, s.recipients...)
	if err != nil {
		return counter.count, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := s.plain.WriteTo(encrypter); err != nil {
		return counter.count, err
	}
	if err := encrypter.Close(); err != nil {
		return counter.count, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return counter.count, nil
}

// Size is unknown: the age envelope adds a header and per-chunk tags.
func (sealedEntry) Size() int64 { return -1 }
