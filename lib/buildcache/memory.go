// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"bytes"
	"context"
	"slices"
	"sync"
)

// InMemory is a map-backed Service. Entries are copied on store and
// on load so callers cannot alias the cache's storage.
type InMemory struct {
	mu      sync.RWMutex
	entries map[Key][]byte
}

// NewInMemory returns an empty in-memory cache.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[Key][]byte)}
}

// Load implements Service.
func (m *InMemory) Load(_ context.Context, key Key, reader EntryReader) (bool, error) {
	m.mu.RLock()
	data, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, reader(bytes.NewReader(data))
}

// Store implements Service.
func (m *InMemory) Store(_ context.Context, key Key, writer EntryWriter) error {
	data, err := BufferEntry(writer)
	if err != nil {
		return err
	}
	data = slices.Clone(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

// Description implements Service.
func (m *InMemory) Description() string { return "in-memory" }

// Close implements Service. The entries remain readable; lifecycle
// enforcement is Guard's job.
func (m *InMemory) Close() error { return nil }

// Len returns the number of stored entries.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
