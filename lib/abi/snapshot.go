// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/buildavoid/lib/codec"
)

// snapshotVersion is bumped whenever the image layout or digest
// domains change, so stale snapshots compare as entirely different
// instead of silently matching.
const snapshotVersion = 1

// Snapshot is the persisted fingerprint of one classpath entry,
// recorded after a build and compared against on the next.
type Snapshot struct {
	Version   int       `cbor:"version"`
	Aggregate Signature `cbor:"aggregate"`
	Entries   []Entry   `cbor:"entries"`
}

// NewSnapshot captures result. Entries are stored sorted by name.
func NewSnapshot(result *Result) *Snapshot {
	entries := slices.Clone(result.Entries)
	slices.SortFunc(entries, func(a, b Entry) int { return cmp.Compare(a.Name, b.Name) })
	return &Snapshot{
		Version:   snapshotVersion,
		Aggregate: result.Aggregate(),
		Entries:   entries,
	}
}

// WriteSnapshotFile writes snapshot to path via an atomic rename, so
// a crash mid-write never leaves a truncated snapshot behind.
func WriteSnapshotFile(path string, snapshot *Snapshot) error {
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".snapshot-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot to %s: %w", path, err)
	}
	success = true
	return nil
}

// ReadSnapshotFile reads a snapshot written by WriteSnapshotFile. A
// missing file returns an error matching os.ErrNotExist.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}

// Delta lists the entries that differ between two snapshots.
type Delta struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Compare reports what changed from previous to current. A nil
// previous snapshot, or one of a different version, reports every
// current entry as added.
func Compare(previous, current *Snapshot) Delta {
	var delta Delta
	before := make(map[string]Signature)
	if previous != nil && previous.Version == current.Version {
		for _, entry := range previous.Entries {
			before[entry.Name] = entry.Signature
		}
	}
	seen := make(map[string]bool, len(current.Entries))
	for _, entry := range current.Entries {
		seen[entry.Name] = true
		signature, ok := before[entry.Name]
		switch {
		case !ok:
			delta.Added = append(delta.Added, entry.Name)
		case signature != entry.Signature:
			delta.Changed = append(delta.Changed, entry.Name)
		}
	}
	for name := range before {
		if !seen[name] {
			delta.Removed = append(delta.Removed, name)
		}
	}
	slices.Sort(delta.Added)
	slices.Sort(delta.Removed)
	slices.Sort(delta.Changed)
	return delta
}

// RequiresRecompile reports whether dependents must be recompiled.
func (d Delta) RequiresRecompile() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}
