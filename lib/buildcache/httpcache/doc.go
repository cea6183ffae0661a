// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpcache is the remote build cache backend: a [Client] that
// implements buildcache.Service over plain HTTP, and a [Handler] that
// exposes any buildcache.Service on the same protocol.
//
// The protocol is one resource per key:
//
//	GET <base>/<hex key>   200 with the entry, 404 on a miss
//	HEAD <base>/<hex key>  as GET without the body
//	PUT <base>/<hex key>   2xx once stored, 413 when the entry is too large
//
// It is the protocol of the common HTTP build cache servers, so the
// Client also works against an nginx WebDAV location or similar.
package httpcache
