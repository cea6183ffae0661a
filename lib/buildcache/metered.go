// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"io"
	"sync/atomic"
)

// Stats is a point-in-time view of a MeteredService's counters.
type Stats struct {
	Loads       int64 `json:"loads"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Stores      int64 `json:"stores"`
	Failures    int64 `json:"failures"`
	BytesLoaded int64 `json:"bytes_loaded"`
	BytesStored int64 `json:"bytes_stored"`
}

// MeteredService counts the traffic passing through it.
type MeteredService struct {
	Forwarding

	loads       atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	stores      atomic.Int64
	failures    atomic.Int64
	bytesLoaded atomic.Int64
	bytesStored atomic.Int64
}

// Metered wraps delegate with counters.
func Metered(delegate Service) *MeteredService {
	return &MeteredService{Forwarding: Forwarding{delegate: delegate}}
}

// Load implements Service.
func (m *MeteredService) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	m.loads.Add(1)
	hit, err := m.delegate.Load(ctx, key, func(r io.Reader) error {
		counter := &countingReader{reader: r}
		err := reader(counter)
		m.bytesLoaded.Add(counter.count)
		return err
	})
	switch {
	case err != nil:
		m.failures.Add(1)
	case hit:
		m.hits.Add(1)
	default:
		m.misses.Add(1)
	}
	return hit, err
}

// Store implements Service.
func (m *MeteredService) Store(ctx context.Context, key Key, writer EntryWriter) error {
	err := m.delegate.Store(ctx, key, writer)
	if err != nil {
		m.failures.Add(1)
		return err
	}
	m.stores.Add(1)
	if size := writer.Size(); size > 0 {
		m.bytesStored.Add(size)
	}
	return nil
}

// Stats returns the current counters.
func (m *MeteredService) Stats() Stats {
	return Stats{
		Loads:       m.loads.Load(),
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Stores:      m.stores.Load(),
		Failures:    m.failures.Load(),
		BytesLoaded: m.bytesLoaded.Load(),
		BytesStored: m.bytesStored.Load(),
	}
}
