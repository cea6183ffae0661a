// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"io"

	"github.com/bureau-foundation/buildavoid/lib/operation"
)

// OperationDescriptor describes a traced cache operation.
type OperationDescriptor struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// LoadResult is attached to a traced load.
type LoadResult struct {
	Hit  bool  `json:"hit"`
	Size int64 `json:"size"`
}

// StoreResult is attached to a traced store.
type StoreResult struct {
	Size int64 `json:"size"`
}

type traced struct {
	Forwarding
	executor operation.Executor
}

// Traced runs every Load and Store of delegate as a tracked operation
// named "buildcache.load" or "buildcache.store". Results and errors
// pass through unchanged.
func Traced(delegate Service, executor operation.Executor) Service {
	return &traced{Forwarding: Forwarding{delegate: delegate}, executor: executor}
}

func (t *traced) descriptor(key Key) OperationDescriptor {
	return OperationDescriptor{Key: key.String(), Description: t.delegate.Description()}
}

func (t *traced) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	details := operation.Details{
		DisplayName: "Load entry " + key.String()[:12] + " from cache",
		Name:        "buildcache.load",
		Descriptor:  t.descriptor(key),
	}
	return operation.Call(ctx, t.executor, details, func(ctx context.Context, op *operation.Context) (bool, error) {
		var counted int64
		hit, err := t.delegate.Load(ctx, key, func(r io.Reader) error {
			counter := &countingReader{reader: r}
			err := reader(counter)
			counted = counter.count
			return err
		})
		op.SetResult(LoadResult{Hit: hit, Size: counted})
		return hit, err
	})
}

func (t *traced) Store(ctx context.Context, key Key, writer EntryWriter) error {
	details := operation.Details{
		DisplayName: "Store entry " + key.String()[:12] + " in cache",
		Name:        "buildcache.store",
		Descriptor:  t.descriptor(key),
	}
	return t.executor.Run(ctx, details, func(ctx context.Context, op *operation.Context) error {
		err := t.delegate.Store(ctx, key, writer)
		op.SetResult(StoreResult{Size: writer.Size()})
		return err
	})
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count += int64(n)
	return n, err
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
