// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the backend could not serve the request:
	// an I/O error, a network failure, an unexpected protocol
	// response. Callers proceed as on a miss.
	ErrUnavailable = errors.New("build cache unavailable")

	// ErrCorrupt means an entry was found but failed verification.
	// It is never delivered to the caller's reader.
	ErrCorrupt = errors.New("build cache entry corrupt")

	// ErrClosed means the service was used after Close. This is a
	// programming error and must not be retried.
	ErrClosed = errors.New("build cache closed")
)

// Kind classifies an Error by the sentinel it matches.
type Kind int

const (
	KindUnavailable Kind = iota + 1
	KindCorrupt
	KindClosed
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnavailable:
		return ErrUnavailable
	case KindCorrupt:
		return ErrCorrupt
	case KindClosed:
		return ErrClosed
	default:
		return nil
	}
}

func (k Kind) String() string {
	if sentinel := k.sentinel(); sentinel != nil {
		return sentinel.Error()
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error carries the operation and key of a backend failure. It matches
// the sentinel of its Kind through errors.Is, and the underlying cause
// through Unwrap.
type Error struct {
	Op   string // "load", "store", "close"
	Key  Key
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Unavailable wraps err as a KindUnavailable Error.
func Unavailable(op string, key Key, err error) error {
	return &Error{Op: op, Key: key, Kind: KindUnavailable, Err: err}
}

// Corrupt wraps err as a KindCorrupt Error.
func Corrupt(op string, key Key, err error) error {
	return &Error{Op: op, Key: key, Kind: KindCorrupt, Err: err}
}

// IsBackendFailure reports whether err is a recoverable backend
// failure (unavailable or corrupt), as opposed to a caller error or a
// closed service.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrCorrupt)
}
