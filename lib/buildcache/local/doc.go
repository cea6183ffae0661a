// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package local is a directory-backed [buildcache.Service].
//
// Entries live at <root>/entries/ab/cd/<key hex>, sharded by the first
// two bytes of the key. Each file carries a small header (magic,
// format version, compression, uncompressed size, BLAKE3 checksum of
// the uncompressed payload) followed by the payload. Writes go through
// <root>/tmp and are renamed into place, so a reader never sees a
// partial entry.
//
// An entry that fails verification is deleted and reported as
// [buildcache.ErrCorrupt]; the next store under the key replaces it.
// Loads refresh the entry's modification time, which [Cache.Prune]
// uses to evict entries that have not been used recently.
package local
