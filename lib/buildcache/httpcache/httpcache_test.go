// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
)

func testKey(name string) buildcache.Key {
	return buildcache.NewKeyBuilder().String(name).Build()
}

func newClient(t *testing.T, options Options) *Client {
	t.Helper()
	client, err := New(options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func serve(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestRoundTripThroughHandler(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := serve(t, http.StripPrefix("/cache", Handler(backend, HandlerOptions{})))
	client := newClient(t, Options{URL: server.URL + "/cache/"})
	ctx := context.Background()

	payload := bytes.Repeat([]byte("class output "), 1000)
	if err := client.Store(ctx, testKey("a"), buildcache.BytesEntry(payload)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("backend holds %d entries, want 1", backend.Len())
	}

	var data []byte
	hit, err := client.Load(ctx, testKey("a"), buildcache.ReadAll(&data))
	if err != nil || !hit {
		t.Fatalf("Load = (%v, %v), want hit", hit, err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("loaded %d bytes, stored %d", len(data), len(payload))
	}

	hit, err = client.Load(ctx, testKey("absent"), buildcache.ReadAll(&data))
	if err != nil || hit {
		t.Errorf("Load(absent) = (%v, %v), want clean miss", hit, err)
	}
}

func TestEmptyEntry(t *testing.T) {
	server := serve(t, Handler(buildcache.NewInMemory(), HandlerOptions{}))
	client := newClient(t, Options{URL: server.URL})
	if err := client.Store(context.Background(), testKey("empty"), buildcache.BytesEntry(nil)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	called := false
	hit, err := client.Load(context.Background(), testKey("empty"), func(r io.Reader) error {
		called = true
		data, _ := io.ReadAll(r)
		if len(data) != 0 {
			t.Errorf("empty entry loaded as %d bytes", len(data))
		}
		return nil
	})
	if err != nil || !hit || !called {
		t.Errorf("Load = (%v, %v), reader called %v", hit, err, called)
	}
}

func TestBasicAuth(t *testing.T) {
	inner := Handler(buildcache.NewInMemory(), HandlerOptions{})
	server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != "builder" || password != "hunter2" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	}))

	authorized := newClient(t, Options{URL: server.URL, Username: "builder", Password: "hunter2"})
	if err := authorized.Store(context.Background(), testKey("k"), buildcache.BytesEntry([]byte("v"))); err != nil {
		t.Fatalf("authorized Store: %v", err)
	}

	anonymous := newClient(t, Options{URL: server.URL})
	_, err := anonymous.Load(context.Background(), testKey("k"), buildcache.ReadAll(new([]byte)))
	if !errors.Is(err, buildcache.ErrUnavailable) {
		t.Fatalf("anonymous Load error = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not mention the status", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	var requests atomic.Int32
	server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "disk on fire", http.StatusInternalServerError)
	}))
	client := newClient(t, Options{URL: server.URL})

	called := false
	hit, err := client.Load(context.Background(), testKey("k"), func(io.Reader) error {
		called = true
		return nil
	})
	if !errors.Is(err, buildcache.ErrUnavailable) || hit || called {
		t.Errorf("Load = (%v, %v), reader called %v", hit, err, called)
	}
	if err := client.Store(context.Background(), testKey("k"), buildcache.BytesEntry([]byte("v"))); !errors.Is(err, buildcache.ErrUnavailable) {
		t.Errorf("Store error = %v, want ErrUnavailable", err)
	}
	if requests.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", requests.Load())
	}
}

func TestTruncatedBodyIsUnavailable(t *testing.T) {
	server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("only ten b"))
	}))
	client := newClient(t, Options{URL: server.URL})

	called := false
	_, err := client.Load(context.Background(), testKey("k"), func(io.Reader) error {
		called = true
		return nil
	})
	if !errors.Is(err, buildcache.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if called {
		t.Error("reader was handed a truncated entry")
	}
}

func TestOversizedDownloadIsUnavailable(t *testing.T) {
	server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	client := newClient(t, Options{URL: server.URL, MaxEntrySize: 16})
	_, err := client.Load(context.Background(), testKey("k"), buildcache.ReadAll(new([]byte)))
	if !errors.Is(err, buildcache.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestTooLargeUploadIsIgnored(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := serve(t, Handler(backend, HandlerOptions{MaxEntrySize: 8}))
	client := newClient(t, Options{URL: server.URL})

	if err := client.Store(context.Background(), testKey("big"), buildcache.BytesEntry(make([]byte, 64))); err != nil {
		t.Errorf("Store of oversized entry = %v, want nil", err)
	}
	if backend.Len() != 0 {
		t.Errorf("backend stored an oversized entry")
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer close(release)
	client := newClient(t, Options{URL: server.URL, Timeout: 20 * time.Millisecond})

	_, err := client.Load(context.Background(), testKey("k"), buildcache.ReadAll(new([]byte)))
	if !errors.Is(err, buildcache.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestConsumerErrorPropagates(t *testing.T) {
	backend := buildcache.NewInMemory()
	backend.Store(context.Background(), testKey("k"), buildcache.BytesEntry([]byte("v")))
	server := serve(t, Handler(backend, HandlerOptions{}))
	client := newClient(t, Options{URL: server.URL})

	sentinel := errors.New("consumer failed")
	_, err := client.Load(context.Background(), testKey("k"), func(io.Reader) error { return sentinel })
	if err != sentinel {
		t.Errorf("err = %v, want the consumer's error unchanged", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	for _, url := range []string{"", "ftp://cache.example", "http://", "://bad"} {
		if _, err := New(Options{URL: url}); err == nil {
			t.Errorf("New(%q) succeeded", url)
		}
	}
	client := newClient(t, Options{URL: "https://cache.example/v1/"})
	key := testKey("k")
	if got, want := client.EntryURL(key), "https://cache.example/v1/"+key.String(); got != want {
		t.Errorf("EntryURL = %q, want %q", got, want)
	}
}

func TestHandlerHead(t *testing.T) {
	backend := buildcache.NewInMemory()
	backend.Store(context.Background(), testKey("k"), buildcache.BytesEntry([]byte("12345")))
	server := serve(t, Handler(backend, HandlerOptions{}))

	response, err := http.Head(server.URL + "/" + testKey("k").String())
	if err != nil {
		t.Fatal(err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK || response.ContentLength != 5 {
		t.Errorf("HEAD = %d with length %d, want 200 with length 5", response.StatusCode, response.ContentLength)
	}

	response, err = http.Head(server.URL + "/" + testKey("absent").String())
	if err != nil {
		t.Fatal(err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Errorf("HEAD of missing entry = %d, want 404", response.StatusCode)
	}
}

func TestHandlerRejectsBadKeys(t *testing.T) {
	server := serve(t, Handler(buildcache.NewInMemory(), HandlerOptions{}))
	response, err := http.Get(server.URL + "/not-a-key")
	if err != nil {
		t.Fatal(err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("GET bad key = %d, want 400", response.StatusCode)
	}
}

func TestHandlerReadOnly(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := serve(t, Handler(backend, HandlerOptions{ReadOnly: true}))
	client := newClient(t, Options{URL: server.URL})
	err := client.Store(context.Background(), testKey("k"), buildcache.BytesEntry([]byte("v")))
	if !errors.Is(err, buildcache.ErrUnavailable) {
		t.Errorf("Store to read-only server = %v, want ErrUnavailable", err)
	}
	if backend.Len() != 0 {
		t.Error("read-only handler stored an entry")
	}
}

// failingService reports every load with a fixed error.
type failingService struct {
	*buildcache.Forwarding
	err error
}

func (f failingService) Load(context.Context, buildcache.Key, buildcache.EntryReader) (bool, error) {
	return false, f.err
}

func TestHandlerMapsBackendErrors(t *testing.T) {
	key := testKey("k")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"corrupt", buildcache.Corrupt("load", key, errors.New("checksum mismatch")), http.StatusNotFound},
		{"unavailable", buildcache.Unavailable("load", key, errors.New("disk gone")), http.StatusServiceUnavailable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			service := failingService{Forwarding: buildcache.NewForwarding(buildcache.NewInMemory()), err: test.err}
			server := serve(t, Handler(service, HandlerOptions{}))
			response, err := http.Get(server.URL + "/" + key.String())
			if err != nil {
				t.Fatal(err)
			}
			response.Body.Close()
			if response.StatusCode != test.want {
				t.Errorf("GET = %d, want %d", response.StatusCode, test.want)
			}
		})
	}
}

func TestClientAsService(t *testing.T) {
	var _ buildcache.Service = (*Client)(nil)
	client := newClient(t, Options{URL: "http://cache.example"})
	if got := client.Description(); got != "remote cache at http://cache.example" {
		t.Errorf("Description = %q", got)
	}
}
