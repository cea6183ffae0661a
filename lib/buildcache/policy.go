// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcache

import (
	"context"
	"fmt"
)

// Policy controls whether a cache may be read from and written to.
type Policy struct {
	Pull bool
	Push bool
}

type policed struct {
	Forwarding
	policy Policy
}

// WithPolicy gates delegate: loads miss without reaching it when Pull
// is false, and stores are dropped when Push is false.
func WithPolicy(delegate Service, policy Policy) Service {
	return &policed{Forwarding: Forwarding{delegate: delegate}, policy: policy}
}

func (p *policed) Load(ctx context.Context, key Key, reader EntryReader) (bool, error) {
	if !p.policy.Pull {
		return false, nil
	}
	return p.delegate.Load(ctx, key, reader)
}

func (p *policed) Store(ctx context.Context, key Key, writer EntryWriter) error {
	if !p.policy.Push {
		return nil
	}
	return p.delegate.Store(ctx, key, writer)
}

func (p *policed) Description() string {
	mode := "read-write"
	switch {
	case p.policy.Pull && !p.policy.Push:
		mode = "read-only"
	case !p.policy.Pull && p.policy.Push:
		mode = "write-only"
	case !p.policy.Pull && !p.policy.Push:
		mode = "disabled"
	}
	return fmt.Sprintf("%s (%s)", p.delegate.Description(), mode)
}
