// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/sourcegraph/conc/pool"

	"github.com/bureau-foundation/buildavoid/lib/operation"
)

// ErrContentUnavailable is returned when a record's bytes could not be
// read. It aborts the whole pass: nothing meaningful can be hashed
// without the bytes.
var ErrContentUnavailable = errors.New("abi: content unavailable")

// Record is one candidate class file.
type Record struct {
	// Name identifies the record in results and diagnostics, typically
	// a slash-separated path relative to the classpath root.
	Name string

	// Size is the content length in bytes, or -1 when unknown. Used
	// only to size the read buffer.
	Size int64

	// Open returns a fresh reader over the content. The fingerprinter
	// closes it.
	Open func() (io.ReadCloser, error)
}

// RecordFromBytes returns a record over an in-memory buffer.
func RecordFromBytes(name string, data []byte) Record {
	return Record{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Entry is one fingerprinted record.
type Entry struct {
	Name      string    `json:"name" cbor:"name"`
	Signature Signature `json:"signature" cbor:"signature"`

	// Fallback is true when Signature is the digest of the whole file
	// because it did not parse as a class.
	Fallback bool `json:"fallback,omitempty" cbor:"fallback,omitempty"`
}

// Diagnostic reports a record that fell back to whole-file hashing.
type Diagnostic struct {
	Name string
	Err  error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %v", d.Name, d.Err)
}

func (d Diagnostic) Unwrap() error { return d.Err }

// Result is the output of one fingerprinting pass. Entries are in
// input order; records with no surface are absent.
type Result struct {
	Entries     []Entry
	Diagnostics []Diagnostic
}

// Aggregate combines all entries into one signature. Entries are
// sorted by name first, so the aggregate does not depend on the order
// in which records were processed.
func (r *Result) Aggregate() Signature {
	sorted := slices.Clone(r.Entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Name, b.Name) })

	hasher := newHasher(aggregateDomainKey)
	for _, entry := range sorted {
		writeField(hasher, []byte(entry.Name))
		hasher.Write(entry.Signature[:])
	}
	return sum(hasher)
}

// Strict returns the diagnostics joined into one error, or nil when
// every record parsed. Strict builds use it to fail on malformed
// classes instead of falling back.
func (r *Result) Strict() error {
	if len(r.Diagnostics) == 0 {
		return nil
	}
	errs := make([]error, len(r.Diagnostics))
	for i, diagnostic := range r.Diagnostics {
		errs[i] = diagnostic
	}
	return fmt.Errorf("%d malformed class files: %w", len(r.Diagnostics), errors.Join(errs...))
}

// Summary is attached to the fingerprint operation as its result.
type Summary struct {
	Records   int `json:"records"`
	Entries   int `json:"entries"`
	Fallbacks int `json:"fallbacks"`
}

// Fingerprinter runs records through an Extractor.
type Fingerprinter struct {
	extractor *Extractor
	executor  operation.Executor
}

// NewFingerprinter creates a Fingerprinter. A nil executor runs the
// pass untracked.
func NewFingerprinter(extractor *Extractor, executor operation.Executor) *Fingerprinter {
	if executor == nil {
		executor = operation.Inline()
	}
	return &Fingerprinter{extractor: extractor, executor: executor}
}

// recordOutcome is the per-record result; both fields are nil for an
// excluded class.
type recordOutcome struct {
	entry      *Entry
	diagnostic *Diagnostic
}

// Fingerprint processes records in order. It fails only when a record
// cannot be read, or when ctx is cancelled between records.
func (f *Fingerprinter) Fingerprint(ctx context.Context, records []Record) (*Result, error) {
	return f.run(ctx, records, "Fingerprint classpath", func(ctx context.Context) ([]recordOutcome, error) {
		outcomes := make([]recordOutcome, 0, len(records))
		for _, record := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcome, err := f.fingerprintRecord(record)
			if err != nil {
				return nil, err
			}
			outcomes = append(outcomes, outcome)
		}
		return outcomes, nil
	})
}

// FingerprintParallel processes records on up to workers goroutines.
// The result is identical to Fingerprint's: outcomes are reassembled
// in input order before the Result is built.
func (f *Fingerprinter) FingerprintParallel(ctx context.Context, records []Record, workers int) (*Result, error) {
	if workers <= 1 {
		return f.Fingerprint(ctx, records)
	}

	type indexed struct {
		index   int
		outcome recordOutcome
	}
	return f.run(ctx, records, "Fingerprint classpath (parallel)", func(ctx context.Context) ([]recordOutcome, error) {
		tasks := pool.NewWithResults[indexed]().
			WithContext(ctx).
			WithCancelOnError().
			WithMaxGoroutines(workers)
		for index, record := range records {
			tasks.Go(func(ctx context.Context) (indexed, error) {
				if err := ctx.Err(); err != nil {
					return indexed{}, err
				}
				outcome, err := f.fingerprintRecord(record)
				return indexed{index: index, outcome: outcome}, err
			})
		}
		results, err := tasks.Wait()
		if err != nil {
			return nil, err
		}
		slices.SortFunc(results, func(a, b indexed) int { return cmp.Compare(a.index, b.index) })
		outcomes := make([]recordOutcome, len(results))
		for i, result := range results {
			outcomes[i] = result.outcome
		}
		return outcomes, nil
	})
}

// run wraps a pass in a tracked operation and assembles the Result.
func (f *Fingerprinter) run(ctx context.Context, records []Record, displayName string, pass func(context.Context) ([]recordOutcome, error)) (*Result, error) {
	details := operation.Details{
		DisplayName: displayName,
		Name:        "abi.fingerprint",
		Descriptor:  map[string]int{"records": len(records)},
	}
	return operation.Call(ctx, f.executor, details, func(ctx context.Context, op *operation.Context) (*Result, error) {
		outcomes, err := pass(ctx)
		if err != nil {
			return nil, err
		}
		result := &Result{}
		for _, outcome := range outcomes {
			if outcome.entry != nil {
				result.Entries = append(result.Entries, *outcome.entry)
			}
			if outcome.diagnostic != nil {
				result.Diagnostics = append(result.Diagnostics, *outcome.diagnostic)
			}
		}
		op.SetResult(Summary{
			Records:   len(records),
			Entries:   len(result.Entries),
			Fallbacks: len(result.Diagnostics),
		})
		return result, nil
	})
}

func (f *Fingerprinter) fingerprintRecord(record Record) (recordOutcome, error) {
	data, err := readRecord(record)
	if err != nil {
		return recordOutcome{}, err
	}

	image, outcome, err := f.extractor.Extract(data)
	if err != nil {
		return recordOutcome{
			entry:      &Entry{Name: record.Name, Signature: Digest(data), Fallback: true},
			diagnostic: &Diagnostic{Name: record.Name, Err: err},
		}, nil
	}
	if outcome != Extracted {
		return recordOutcome{}, nil
	}
	return recordOutcome{entry: &Entry{Name: record.Name, Signature: Digest(image)}}, nil
}

func readRecord(record Record) ([]byte, error) {
	reader, err := record.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrContentUnavailable, record.Name, err)
	}
	defer reader.Close()

	var buffer bytes.Buffer
	if record.Size > 0 {
		buffer.Grow(int(record.Size))
	}
	if _, err := buffer.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrContentUnavailable, record.Name, err)
	}
	return buffer.Bytes(), nil
}
