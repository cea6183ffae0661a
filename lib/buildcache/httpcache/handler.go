// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpcache

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/netutil"
)

// HandlerOptions configures Handler.
type HandlerOptions struct {
	// MaxEntrySize bounds uploads; larger PUTs get 413. Defaults to
	// DefaultMaxEntrySize.
	MaxEntrySize int64

	// ReadOnly rejects every PUT with 405.
	ReadOnly bool

	// Logger defaults to discarding.
	Logger *slog.Logger
}

type handler struct {
	service      buildcache.Service
	maxEntrySize int64
	readOnly     bool
	logger       *slog.Logger
}

// Handler serves service over the protocol Client speaks. Mount it at
// the cache's base path with http.StripPrefix when that is not "/".
//
// Backend failures map to 503 so that clients treat them like any other
// unavailable remote. A corrupt entry is reported as a miss: the
// backend has already discarded it.
func Handler(service buildcache.Service, options HandlerOptions) http.Handler {
	h := &handler{
		service:      service,
		maxEntrySize: options.MaxEntrySize,
		readOnly:     options.ReadOnly,
		logger:       options.Logger,
	}
	if h.maxEntrySize <= 0 {
		h.maxEntrySize = DefaultMaxEntrySize
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mux := http.NewServeMux()
	// GET patterns also match HEAD; the server discards the body.
	mux.HandleFunc("GET /{key}", h.handleGet)
	mux.HandleFunc("PUT /{key}", h.handlePut)
	return mux
}

func (h *handler) parseKey(w http.ResponseWriter, r *http.Request) (buildcache.Key, bool) {
	key, err := buildcache.ParseKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return key, false
	}
	return key, true
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseKey(w, r)
	if !ok {
		return
	}

	var data []byte
	hit, err := h.service.Load(r.Context(), key, buildcache.ReadAll(&data))
	switch {
	case errors.Is(err, buildcache.ErrCorrupt):
		h.logger.Warn("serving corrupt entry as a miss", "key", key, "error", err)
		http.NotFound(w, r)
		return
	case err != nil:
		h.logger.Warn("build cache load failed", "key", key, "error", err)
		http.Error(w, "build cache unavailable", http.StatusServiceUnavailable)
		return
	case !hit:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil && !netutil.IsExpectedCloseError(err) {
		h.logger.Warn("writing build cache entry", "key", key, "error", err)
	}
}

func (h *handler) handlePut(w http.ResponseWriter, r *http.Request) {
	if h.readOnly {
		http.Error(w, "build cache is read-only", http.StatusMethodNotAllowed)
		return
	}
	key, ok := h.parseKey(w, r)
	if !ok {
		return
	}

	data, err := netutil.ReadBody(r.Body, h.maxEntrySize, r.ContentLength)
	if errors.Is(err, netutil.ErrBodyTooLarge) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		if !netutil.IsExpectedCloseError(err) {
			h.logger.Warn("reading uploaded build cache entry", "key", key, "error", err)
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Store(r.Context(), key, buildcache.BytesEntry(data)); err != nil {
		h.logger.Warn("build cache store failed", "key", key, "error", err)
		http.Error(w, "build cache unavailable", http.StatusServiceUnavailable)
		return
	}
	h.logger.Debug("stored build cache entry", "key", key, "size", len(data))
	w.WriteHeader(http.StatusCreated)
}

