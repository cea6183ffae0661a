// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"errors"
	"fmt"
)

// ErrMalformed matches every error returned for bytes that do not form
// a valid class file. Test with errors.Is.
var ErrMalformed = errors.New("malformed class file")

// FormatError describes where and why parsing failed. Offset is the
// byte position in the class file, or -1 when the failure was found
// while resolving a reference after the structure had been read.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return "malformed class file: " + e.Reason
	}
	return fmt.Sprintf("malformed class file at offset %d: %s", e.Offset, e.Reason)
}

// Is reports whether target is ErrMalformed.
func (e *FormatError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(offset int, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
