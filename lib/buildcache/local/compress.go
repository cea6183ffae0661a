// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an entry payload is stored. The values of
// None, LZ4, and Zstd are written into entry headers and must not
// change.
type Compression uint8

const (
	// CompressionNone stores the payload as is. Jars and other
	// already-compressed outputs usually end up here.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level: better ratio for
	// class files and text outputs.
	CompressionZstd Compression = 2

	// CompressionAuto probes each payload and picks one of the above.
	// It is a configuration value only and never appears on disk.
	CompressionAuto Compression = 0xff
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration value.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "auto", "":
		return CompressionAuto, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, zstd, or auto)", name)
	}
}

var errIncompressible = errors.New("payload is incompressible")

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("local: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxEntrySize))
	if err != nil {
		panic("local: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the stored form of data and the compression
// actually used. Payloads that do not shrink are stored raw.
func compress(data []byte, requested Compression) ([]byte, Compression, error) {
	if requested == CompressionAuto {
		requested = selectCompression(data)
	}
	var (
		compressed []byte
		err        error
	)
	switch requested {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", requested)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, requested, nil
}

// maxLZ4Ratio is the largest expansion an LZ4 block can encode: each
// extra length byte adds at most 255 bytes of output.
const maxLZ4Ratio = 255

// checkClaimedSize rejects a header size that the stored payload could
// not decompress to, before any buffer of that size is allocated.
func checkClaimedSize(stored []byte, compression Compression, size uint64) error {
	switch compression {
	case CompressionNone:
		if size != uint64(len(stored)) {
			return fmt.Errorf("raw payload is %d bytes, header says %d", len(stored), size)
		}
	case CompressionLZ4:
		if size > uint64(len(stored))*maxLZ4Ratio {
			return fmt.Errorf("lz4 payload of %d bytes cannot expand to %d", len(stored), size)
		}
	}
	return nil
}

// decompress expands stored to exactly size bytes. Callers check size
// with checkClaimedSize first.
func decompress(stored []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(stored) != size {
			return nil, fmt.Errorf("raw payload is %d bytes, header says %d", len(stored), size)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header says %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		// zstd frames can expand far more than LZ4 blocks, so the header
		// size is only a capacity hint bounded by the stored length.
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, min(size, 8*len(stored))))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header says %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown compression tag %d", uint8(compression))
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// selectCompression probes data with zstd: a ratio of 1.5 or better
// selects zstd, 1.1 or better selects the cheaper LZ4, anything less
// is stored raw.
func selectCompression(data []byte) Compression {
	if len(data) == 0 {
		return CompressionNone
	}
	probe := data
	if len(probe) > probeSize {
		probe = probe[:probeSize]
	}
	ratio := float64(len(probe)) / float64(len(zstdEncoder.EncodeAll(probe, nil)))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// probeSize bounds the bytes compressed to pick an algorithm.
const probeSize = 64 * 1024
