// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// EntryReader consumes a cache entry. It is called at most once per
// Load, only after the backend has verified the entry, and its error
// is returned from Load unchanged.
type EntryReader func(r io.Reader) error

// EntryWriter produces the bytes of an entry for Store. WriteTo may be
// called more than once (retries, multiple tiers) and must write the
// same bytes each time.
type EntryWriter interface {
	WriteTo(w io.Writer) (int64, error)

	// Size returns the entry length in bytes, or -1 when unknown.
	Size() int64
}

// Service is a content-addressed build cache.
//
// Load and Store may be called concurrently for different keys.
// Concurrent calls for the same key are not serialized: since keys are
// content-derived, racing writers write the same bytes.
type Service interface {
	// Load looks up key and, on a hit, streams the entry to reader
	// and returns true. A miss returns false and a nil error. Load
	// never mutates the cache's contents.
	Load(ctx context.Context, key Key, reader EntryReader) (bool, error)

	// Store persists the output of writer under key, replacing any
	// existing entry.
	Store(ctx context.Context, key Key, writer EntryWriter) error

	// Description identifies the service in logs and diagnostics.
	Description() string

	// Close releases the service's resources, including those of any
	// delegate it owns.
	Close() error
}

type bytesEntry []byte

// BytesEntry returns an EntryWriter over an in-memory buffer. The
// buffer must not be modified while the entry is in use.
func BytesEntry(data []byte) EntryWriter {
	return bytesEntry(data)
}

func (e bytesEntry) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e)
	return int64(n), err
}

func (e bytesEntry) Size() int64 { return int64(len(e)) }

type fileEntry string

// FileEntry returns an EntryWriter that reopens path on every WriteTo.
func FileEntry(path string) EntryWriter {
	return fileEntry(path)
}

func (e fileEntry) WriteTo(w io.Writer) (int64, error) {
	file, err := os.Open(string(e))
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(w, file)
}

func (e fileEntry) Size() int64 {
	info, err := os.Stat(string(e))
	if err != nil {
		return -1
	}
	return info.Size()
}

// ReadAll is an EntryReader helper that collects the entry into *into.
func ReadAll(into *[]byte) EntryReader {
	return func(r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		*into = data
		return nil
	}
}

// BufferEntry runs writer into memory. Backends that must checksum or
// transform an entry before persisting it use this.
func BufferEntry(writer EntryWriter) ([]byte, error) {
	var buffer bytes.Buffer
	if size := writer.Size(); size > 0 {
		buffer.Grow(int(size))
	}
	if _, err := writer.WriteTo(&buffer); err != nil {
		return nil, fmt.Errorf("producing entry: %w", err)
	}
	return buffer.Bytes(), nil
}
