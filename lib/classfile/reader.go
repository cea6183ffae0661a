// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

import "encoding/binary"

// reader is a big-endian cursor with a sticky error. After the first
// short read every accessor returns zero values, so decoding loops can
// run to completion and check err once.
type reader struct {
	data   []byte
	offset int
	// base is added to offset in error reports so that attribute
	// decoders, which see only the attribute body, still report file
	// positions.
	base int
	err  error
}

func newReader(data []byte, base int) *reader {
	return &reader{data: data, base: base}
}

func (r *reader) position() int {
	return r.base + r.offset
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.offset < n {
		r.err = malformed(r.position(), "truncated %s: need %d bytes, have %d",
			what, n, len(r.data)-r.offset)
		return false
	}
	return true
}

func (r *reader) u1(what string) uint8 {
	if !r.need(1, what) {
		return 0
	}
	value := r.data[r.offset]
	r.offset++
	return value
}

func (r *reader) u2(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	value := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return value
}

func (r *reader) u4(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	value := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return value
}

// bytes returns a sub-slice of the input without copying.
func (r *reader) bytes(n int, what string) []byte {
	if !r.need(n, what) {
		return nil
	}
	value := r.data[r.offset : r.offset+n : r.offset+n]
	r.offset += n
	return value
}

// fail records err unless an earlier error is already recorded.
func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// finish reports trailing bytes as malformed and returns the sticky
// error.
func (r *reader) finish(what string) error {
	if r.err == nil && r.offset != len(r.data) {
		r.err = malformed(r.position(), "%d trailing bytes after %s", len(r.data)-r.offset, what)
	}
	return r.err
}
