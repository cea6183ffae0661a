// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrBodyTooLarge is returned by ReadBody when the body exceeds its
// limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// maxErrorBody bounds the bytes of an error response kept for
// diagnostics.
const maxErrorBody = 4 << 10

// ReadBody reads body in full, failing with ErrBodyTooLarge rather than
// truncating when it holds more than limit bytes. When expected is
// non-negative (a Content-Length), a body of any other length is an
// error: a connection dropped mid-body must not look like a short
// entry.
func ReadBody(body io.Reader, limit, expected int64) ([]byte, error) {
	if expected > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrBodyTooLarge, expected, limit)
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, limit)
	}
	if expected >= 0 && int64(len(data)) != expected {
		return nil, fmt.Errorf("body is %d bytes, Content-Length says %d", len(data), expected)
	}
	return data, nil
}

// ErrorBody reads the start of an HTTP error response body for use in
// an error message. Read errors are ignored: a partial body is still
// useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(data))
}
