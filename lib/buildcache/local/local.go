// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/clock"
)

// Directory names within the cache root.
const (
	entriesDir = "entries"
	tmpDir     = "tmp"
)

// Entry header layout.
const (
	entryMagic   = "BAVE"
	entryVersion = 1
	headerSize   = 4 + 1 + 1 + 8 + 32
)

// checksumDomainKey keys the payload checksum.
var checksumDomainKey = [32]byte{
	'b', 'u', 'i', 'l', 'd', 'a', 'v', 'o', 'i', 'd', '.', 'l', 'o', 'c', 'a', 'l',
	'.', 'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Options configures a Cache.
type Options struct {
	// Root is the cache directory. It is created if missing.
	Root string

	// Compression for new entries. The zero value stores entries
	// uncompressed; CompressionAuto probes each entry.
	Compression Compression

	// Clock stamps entries on store and load. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives corruption warnings. Defaults to discarding.
	Logger *slog.Logger
}

// Cache is a directory-backed build cache. Safe for concurrent use.
type Cache struct {
	root        string
	compression Compression
	clock       clock.Clock
	logger      *slog.Logger
}

// Open creates the directory structure under options.Root and returns
// a Cache over it.
func Open(options Options) (*Cache, error) {
	if options.Root == "" {
		return nil, errors.New("local cache root is empty")
	}
	for _, dir := range []string{
		options.Root,
		filepath.Join(options.Root, entriesDir),
		filepath.Join(options.Root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		root:        options.Root,
		compression: options.Compression,
		clock:       options.Clock,
		logger:      options.Logger,
	}, nil
}

// EntryPath returns the sharded path of key's entry:
// entries/a3/f9/a3f9b2c1...
func (c *Cache) EntryPath(key buildcache.Key) string {
	hex := key.String()
	return filepath.Join(c.root, entriesDir, hex[:2], hex[2:4], hex)
}

// Load implements buildcache.Service.
func (c *Cache) Load(ctx context.Context, key buildcache.Key, reader buildcache.EntryReader) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, buildcache.Unavailable("load", key, err)
	}
	path := c.EntryPath(key)
	stored, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, buildcache.Unavailable("load", key, err)
	}

	payload, err := decodeEntry(stored)
	if err != nil {
		c.logger.Warn("removing corrupt build cache entry", "path", path, "error", err)
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			err = errors.Join(err, removeErr)
		}
		return false, buildcache.Corrupt("load", key, err)
	}

	// Refresh the timestamp Prune reads. Failure only makes the entry
	// look older than it is.
	now := c.clock.Now()
	os.Chtimes(path, now, now)

	return true, reader(bytes.NewReader(payload))
}

// Store implements buildcache.Service.
func (c *Cache) Store(ctx context.Context, key buildcache.Key, writer buildcache.EntryWriter) error {
	if err := ctx.Err(); err != nil {
		return buildcache.Unavailable("store", key, err)
	}
	payload, err := buildcache.BufferEntry(writer)
	if err != nil {
		return err
	}
	encoded, err := encodeEntry(payload, c.compression)
	if err != nil {
		return buildcache.Unavailable("store", key, err)
	}
	if err := c.writeAtomic(c.EntryPath(key), encoded); err != nil {
		return buildcache.Unavailable("store", key, err)
	}
	return nil
}

// writeAtomic writes data to finalPath via a temp file and rename.
func (c *Cache) writeAtomic(finalPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(c.root, tmpDir), "entry-*")
	if err != nil {
		return fmt.Errorf("creating temp entry file: %w", err)
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
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing entry: %w", err)
	}
	now := c.clock.Now()
	if err := os.Chtimes(tmpPath, now, now); err != nil {
		return fmt.Errorf("stamping entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating entry shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming entry to %s: %w", finalPath, err)
	}
	success = true
	return nil
}

// Description implements buildcache.Service.
func (c *Cache) Description() string {
	return "local cache at " + c.root
}

// Close implements buildcache.Service. The directory holds no open
// handles between operations.
func (c *Cache) Close() error { return nil }

// Usage summarizes the cache contents.
type Usage struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stat walks the entry tree and reports its size on disk.
func (c *Cache) Stat() (Usage, error) {
	var usage Usage
	err := c.walkEntries(func(_ string, info fs.FileInfo) error {
		usage.Entries++
		usage.Bytes += info.Size()
		return nil
	})
	return usage, err
}

// Prune deletes entries not stored or loaded within maxAge, and temp
// files older than maxAge left behind by interrupted writes. It returns
// what was removed.
func (c *Cache) Prune(maxAge time.Duration) (Usage, error) {
	cutoff := c.clock.Now().Add(-maxAge)
	var removed Usage
	err := c.walkEntries(func(path string, info fs.FileInfo) error {
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed.Entries++
		removed.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return removed, err
	}

	temps, err := os.ReadDir(filepath.Join(c.root, tmpDir))
	if err != nil {
		return removed, fmt.Errorf("listing temp directory: %w", err)
	}
	for _, temp := range temps {
		info, err := temp.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(filepath.Join(c.root, tmpDir, temp.Name()))
	}
	return removed, nil
}

func (c *Cache) walkEntries(visit func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(filepath.Join(c.root, entriesDir), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		return visit(path, info)
	})
}

func checksum(payload []byte) [32]byte {
	hasher, err := blake3.NewKeyed(checksumDomainKey[:])
	if err != nil {
		panic("local: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

func encodeEntry(payload []byte, requested Compression) ([]byte, error) {
	stored, used, err := compress(payload, requested)
	if err != nil {
		return nil, err
	}
	sum := checksum(payload)

	encoded := make([]byte, 0, headerSize+len(stored))
	encoded = append(encoded, entryMagic...)
	encoded = append(encoded, entryVersion, byte(used))
	encoded = binary.BigEndian.AppendUint64(encoded, uint64(len(payload)))
	encoded = append(encoded, sum[:]...)
	return append(encoded, stored...), nil
}

func decodeEntry(encoded []byte) ([]byte, error) {
	if len(encoded) < headerSize {
		return nil, fmt.Errorf("entry is %d bytes, shorter than the %d-byte header", len(encoded), headerSize)
	}
	if string(encoded[:4]) != entryMagic {
		return nil, fmt.Errorf("bad entry magic %q", encoded[:4])
	}
	if version := encoded[4]; version != entryVersion {
		return nil, fmt.Errorf("unsupported entry version %d", version)
	}
	compression := Compression(encoded[5])
	size := binary.BigEndian.Uint64(encoded[6:14])
	if size > uint64(maxEntrySize) {
		return nil, fmt.Errorf("entry header claims %d bytes", size)
	}
	stored := encoded[headerSize:]
	if err := checkClaimedSize(stored, compression, size); err != nil {
		return nil, err
	}
	var want [32]byte
	copy(want[:], encoded[14:headerSize])

	payload, err := decompress(stored, compression, int(size))
	if err != nil {
		return nil, err
	}
	if checksum(payload) != want {
		return nil, errors.New("entry checksum mismatch")
	}
	return payload, nil
}

// maxEntrySize rejects headers whose size field would make
// decompression allocate absurd buffers.
const maxEntrySize = 1 << 34
