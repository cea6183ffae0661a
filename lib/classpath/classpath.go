// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classpath

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/buildavoid/lib/abi"
	"github.com/bureau-foundation/buildavoid/lib/operation"
)

// Source enumerates class-file records.
type Source interface {
	Records(ctx context.Context) ([]abi.Record, error)

	// String describes the source for logs and traces.
	String() string
}

// ErrDuplicate is returned by Multi when two sources produce records
// with the same name.
var ErrDuplicate = errors.New("duplicate class record")

// Directory is a compiler output directory.
type Directory string

// Records walks the directory for *.class files. Record contents are
// read lazily when the fingerprinter opens them.
func (d Directory) Records(ctx context.Context) ([]abi.Record, error) {
	root := string(d)
	var records []abi.Record
	err := filepath.WalkDir(root, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !isClassFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(root, filePath)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relative)
		if strings.HasPrefix(name, "META-INF/") {
			return nil
		}
		records = append(records, abi.Record{
			Name: name,
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return os.Open(filePath) },
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating class directory %s: %w", root, err)
	}
	sortRecords(records)
	return records, nil
}

func (d Directory) String() string { return "directory " + string(d) }

// Archive is a jar or zip file.
type Archive string

// Records reads every class entry of the archive into memory. The
// archive is closed before Records returns, so the records stay valid
// if the file is later replaced.
func (a Archive) Records(ctx context.Context) ([]abi.Record, error) {
	archivePath := string(a)
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	var records []abi.Record
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := path.Clean(file.Name)
		if file.FileInfo().IsDir() || !isClassFile(name) || strings.HasPrefix(name, "META-INF/") {
			continue
		}
		data, err := readArchiveEntry(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s from archive %s: %w", file.Name, archivePath, err)
		}
		records = append(records, abi.RecordFromBytes(name, data))
	}
	sortRecords(records)
	return records, nil
}

func (a Archive) String() string { return "archive " + string(a) }

func readArchiveEntry(file *zip.File) ([]byte, error) {
	entry, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer entry.Close()

	var buffer bytes.Buffer
	buffer.Grow(int(min(file.UncompressedSize64, maxPreallocation)))
	if _, err := buffer.ReadFrom(entry); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// maxPreallocation caps the buffer sized from an archive's own header.
const maxPreallocation = 16 << 20

// Multi concatenates sources in order. Names must be unique across
// sources: a class defined twice on one classpath would make the
// aggregate depend on which copy the compiler happened to see.
type Multi []Source

// Records implements Source.
func (m Multi) Records(ctx context.Context) ([]abi.Record, error) {
	var all []abi.Record
	origin := make(map[string]int)
	for index, source := range m {
		records, err := source.Records(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			if previous, ok := origin[record.Name]; ok {
				return nil, fmt.Errorf("%w: %s in both %s and %s", ErrDuplicate, record.Name, m[previous].String(), source.String())
			}
			origin[record.Name] = index
		}
		all = append(all, records...)
	}
	return all, nil
}

func (m Multi) String() string {
	descriptions := make([]string, len(m))
	for i, source := range m {
		descriptions[i] = source.String()
	}
	return strings.Join(descriptions, ", ")
}

// Open returns a Source for each path: a Directory for directories, an
// Archive for anything else.
func Open(paths ...string) (Source, error) {
	sources := make(Multi, 0, len(paths))
	for _, sourcePath := range paths {
		info, err := os.Stat(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("classpath entry: %w", err)
		}
		if info.IsDir() {
			sources = append(sources, Directory(sourcePath))
		} else {
			sources = append(sources, Archive(sourcePath))
		}
	}
	if len(sources) == 1 {
		return sources[0], nil
	}
	return sources, nil
}

// Listing summarizes an enumeration for the operation log.
type Listing struct {
	Source  string `json:"source"`
	Records int    `json:"records"`
}

type tracked struct {
	source      Source
	displayName string
	executor    operation.Executor
}

// Tracked runs each enumeration of source as a "classpath.records"
// operation under executor.
func Tracked(source Source, displayName string, executor operation.Executor) Source {
	if executor == nil {
		executor = operation.Inline()
	}
	return &tracked{source: source, displayName: displayName, executor: executor}
}

func (t *tracked) Records(ctx context.Context) ([]abi.Record, error) {
	details := operation.Details{
		DisplayName: t.displayName,
		Name:        "classpath.records",
		Descriptor:  t.source.String(),
	}
	return operation.Call(ctx, t.executor, details, func(ctx context.Context, op *operation.Context) ([]abi.Record, error) {
		records, err := t.source.Records(ctx)
		if err != nil {
			return nil, err
		}
		op.SetResult(Listing{Source: t.source.String(), Records: len(records)})
		return records, nil
	})
}

func (t *tracked) String() string { return t.source.String() }

func isClassFile(name string) bool {
	return strings.HasSuffix(name, ".class")
}

func sortRecords(records []abi.Record) {
	slices.SortFunc(records, func(a, b abi.Record) int { return cmp.Compare(a.Name, b.Name) })
}
