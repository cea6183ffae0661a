// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// maxFileSize bounds key files. Identity files are a few hundred bytes.
const maxFileSize = 64 << 10

// ReadFile reads a key file into a Buffer, trimming surrounding
// whitespace. The heap copy used while reading is zeroed before
// ReadFile returns. An empty file is an error.
func ReadFile(path string) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("secret: %s is %d bytes, larger than any key file", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	return NewFromBytes(trimmed)
}
