// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/netutil"
)

// DefaultMaxEntrySize bounds downloaded entries when Options leaves
// MaxEntrySize unset.
const DefaultMaxEntrySize int64 = 1 << 30

// Options configures a Client.
type Options struct {
	// URL is the base URL; entries live at URL/<hex key>. Required.
	URL string

	// Username and Password enable HTTP basic authentication when
	// Username is non-empty.
	Username string
	Password string

	// Timeout bounds each request. Zero means no timeout beyond the
	// caller's context.
	Timeout time.Duration

	// MaxEntrySize bounds downloaded entries. Larger responses are
	// treated as the server being unavailable. Defaults to
	// DefaultMaxEntrySize.
	MaxEntrySize int64

	// HTTPClient sends requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives warnings about rejected uploads. Defaults to
	// discarding.
	Logger *slog.Logger
}

// Client is a buildcache.Service backed by a remote HTTP cache.
type Client struct {
	baseURL      string
	username     string
	password     string
	timeout      time.Duration
	maxEntrySize int64
	httpClient   *http.Client
	logger       *slog.Logger
}

// New validates options and returns a Client.
func New(options Options) (*Client, error) {
	if options.URL == "" {
		return nil, fmt.Errorf("httpcache: URL is required")
	}
	parsed, err := url.Parse(options.URL)
	if err != nil {
		return nil, fmt.Errorf("httpcache: parsing URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("httpcache: URL scheme must be http or https (got %q)", options.URL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("httpcache: URL has no host (got %q)", options.URL)
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxEntrySize := options.MaxEntrySize
	if maxEntrySize <= 0 {
		maxEntrySize = DefaultMaxEntrySize
	}

	return &Client{
		baseURL:      strings.TrimRight(options.URL, "/"),
		username:     options.Username,
		password:     options.Password,
		timeout:      options.Timeout,
		maxEntrySize: maxEntrySize,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// EntryURL returns the URL of key's entry.
func (c *Client) EntryURL(key buildcache.Key) string {
	return c.baseURL + "/" + key.String()
}

// Load implements buildcache.Service. The entry is downloaded and its
// length checked against Content-Length before reader runs, so a
// dropped connection is reported as ErrUnavailable rather than handed
// to the caller as a truncated entry.
func (c *Client) Load(ctx context.Context, key buildcache.Key, reader buildcache.EntryReader) (bool, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	response, err := c.do(ctx, http.MethodGet, key, nil, 0)
	if err != nil {
		return false, buildcache.Unavailable("load", key, err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, buildcache.Unavailable("load", key, statusError(response))
	}

	data, err := netutil.ReadBody(response.Body, c.maxEntrySize, response.ContentLength)
	if err != nil {
		return false, buildcache.Unavailable("load", key, err)
	}
	return true, reader(bytes.NewReader(data))
}

// Store implements buildcache.Service. A 413 response means the server
// refuses entries this large; it is logged and treated as success,
// since retrying cannot change the answer.
func (c *Client) Store(ctx context.Context, key buildcache.Key, writer buildcache.EntryWriter) error {
	data, err := buildcache.BufferEntry(writer)
	if err != nil {
		return err
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	response, err := c.do(ctx, http.MethodPut, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return buildcache.Unavailable("store", key, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		io.Copy(io.Discard, response.Body)
		return nil
	case response.StatusCode == http.StatusRequestEntityTooLarge:
		c.logger.Warn("remote build cache rejected entry as too large",
			"url", c.EntryURL(key),
			"size", len(data),
		)
		return nil
	default:
		return buildcache.Unavailable("store", key, statusError(response))
	}
}

// Description implements buildcache.Service.
func (c *Client) Description() string {
	return "remote cache at " + c.baseURL
}

// Close implements buildcache.Service. Idle connections belong to the
// shared http.Client and are left alone.
func (c *Client) Close() error { return nil }

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) do(ctx context.Context, method string, key buildcache.Key, body io.Reader, length int64) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.EntryURL(key), body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	if body != nil {
		request.ContentLength = length
		request.Header.Set("Content-Type", "application/octet-stream")
	}
	if c.username != "" {
		request.SetBasicAuth(c.username, c.password)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, c.baseURL, err)
	}
	return response, nil
}

func statusError(response *http.Response) error {
	message := netutil.ErrorBody(response.Body)
	if message == "" {
		return fmt.Errorf("%s %s: HTTP %d", response.Request.Method, response.Request.URL.Redacted(), response.StatusCode)
	}
	return fmt.Errorf("%s %s: HTTP %d: %s", response.Request.Method, response.Request.URL.Redacted(), response.StatusCode, message)
}
