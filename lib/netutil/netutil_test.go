// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestReadBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		data, err := ReadBody(strings.NewReader("entry"), 16, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "entry" {
			t.Fatalf("got %q, want %q", data, "entry")
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		data, err := ReadBody(strings.NewReader("12345"), 5, 5)
		if err != nil || len(data) != 5 {
			t.Fatalf("ReadBody = (%q, %v)", data, err)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := ReadBody(strings.NewReader("123456"), 5, -1)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("err = %v, want ErrBodyTooLarge", err)
		}
	})

	t.Run("declared over limit", func(t *testing.T) {
		_, err := ReadBody(strings.NewReader(""), 5, 100)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("err = %v, want ErrBodyTooLarge", err)
		}
	})

	t.Run("short body", func(t *testing.T) {
		_, err := ReadBody(strings.NewReader("abc"), 16, 10)
		if err == nil {
			t.Fatal("expected error for body shorter than Content-Length")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		_, err := ReadBody(&failReader{}, 16, -1)
		if err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("  not found\n")); got != "not found" {
		t.Errorf("ErrorBody = %q, want %q", got, "not found")
	}
	long := bytes.Repeat([]byte("x"), 2*maxErrorBody)
	if got := ErrorBody(bytes.NewReader(long)); len(got) != maxErrorBody {
		t.Errorf("ErrorBody kept %d bytes, want %d", len(got), maxErrorBody)
	}
	if got := ErrorBody(&failReader{}); got != "" {
		t.Errorf("ErrorBody of failing reader = %q, want empty", got)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("copying: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{fmt.Errorf("write: %w", syscall.EPIPE), true},
		{syscall.ECONNRESET, true},
		{syscall.ENOSPC, false},
		{errors.New("boom"), false},
	}
	for _, test := range tests {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
