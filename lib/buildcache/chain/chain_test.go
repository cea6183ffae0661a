// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/httpcache"
	"github.com/bureau-foundation/buildavoid/lib/clock"
	"github.com/bureau-foundation/buildavoid/lib/config"
	"github.com/bureau-foundation/buildavoid/lib/operation"
	"github.com/bureau-foundation/buildavoid/lib/sealed"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testKey(name string) buildcache.Key {
	return buildcache.NewKeyBuilder().String(name).Build()
}

// testConfig returns a config with only the local tier, rooted in a
// fresh temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	cfg.Cache.Local.Path = filepath.Join(cfg.Paths.Root, "cache")
	return cfg
}

func withRemote(cfg *config.Config, url string) *config.Config {
	cfg.Cache.Remote.Enabled = true
	cfg.Cache.Remote.URL = url
	return cfg
}

func build(t *testing.T, cfg *config.Config, options Options) *Chain {
	t.Helper()
	if options.Clock == nil {
		options.Clock = clock.Fake(epoch)
	}
	chain, err := Build(context.Background(), cfg, options)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { chain.Close() })
	return chain
}

func remoteServer(t *testing.T, backend buildcache.Service) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(httpcache.Handler(backend, httpcache.HandlerOptions{}))
	t.Cleanup(server.Close)
	return server
}

func load(t *testing.T, service buildcache.Service, key buildcache.Key) ([]byte, bool) {
	t.Helper()
	var data []byte
	hit, err := service.Load(context.Background(), key, buildcache.ReadAll(&data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return data, hit
}

func TestLocalOnly(t *testing.T) {
	chain := build(t, testConfig(t), Options{})
	ctx := context.Background()

	if err := chain.Store(ctx, testKey("a"), buildcache.BytesEntry([]byte("output"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, hit := load(t, chain, testKey("a"))
	if !hit || string(data) != "output" {
		t.Errorf("Load = (%q, %v)", data, hit)
	}
	if _, hit := load(t, chain, testKey("b")); hit {
		t.Error("unexpected hit")
	}

	stats := chain.Stats()
	if stats.Loads != 2 || stats.Hits != 1 || stats.Misses != 1 || stats.Stores != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if chain.Local() == nil {
		t.Error("Local() = nil with the local tier enabled")
	}
	if chain.RemoteDisabled() {
		t.Error("RemoteDisabled() with no remote tier")
	}
	if !strings.HasPrefix(chain.Description(), "local cache at ") {
		t.Errorf("Description = %q", chain.Description())
	}
}

func TestNoTiers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Local.Enabled = false
	chain := build(t, cfg, Options{})

	if err := chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry([]byte("x"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, hit := load(t, chain, testKey("a")); hit {
		t.Error("cache with no tiers produced a hit")
	}
	if chain.Local() != nil {
		t.Error("Local() non-nil with the local tier disabled")
	}
}

func TestReadOnlyLocal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Local.Push = false
	chain := build(t, cfg, Options{})

	chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry([]byte("x")))
	if _, hit := load(t, chain, testKey("a")); hit {
		t.Error("read-only local cache stored an entry")
	}
	if !strings.Contains(chain.Description(), "read-only") {
		t.Errorf("Description = %q, want read-only marker", chain.Description())
	}
}

func TestRemoteSharesEntriesBetweenMachines(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := remoteServer(t, backend)
	ctx := context.Background()

	producer := build(t, withRemote(testConfig(t), server.URL), Options{})
	if err := producer.Store(ctx, testKey("a"), buildcache.BytesEntry([]byte("compiled"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("remote holds %d entries, want 1", backend.Len())
	}

	// A second machine with an empty local cache.
	consumer := build(t, withRemote(testConfig(t), server.URL), Options{})
	data, hit := load(t, consumer, testKey("a"))
	if !hit || string(data) != "compiled" {
		t.Fatalf("Load from remote = (%q, %v)", data, hit)
	}
	// The remote hit populated the consumer's local tier.
	if _, err := consumer.Local().Stat(); err != nil {
		t.Fatal(err)
	}
	usage, _ := consumer.Local().Stat()
	if usage.Entries != 1 {
		t.Errorf("local tier holds %d entries after remote hit, want 1", usage.Entries)
	}
	if !strings.Contains(consumer.Description(), " then remote cache at ") {
		t.Errorf("Description = %q", consumer.Description())
	}
}

func TestRemotePushDisabled(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := remoteServer(t, backend)
	cfg := withRemote(testConfig(t), server.URL)
	cfg.Cache.Remote.Push = false
	chain := build(t, cfg, Options{})

	chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry([]byte("x")))
	if backend.Len() != 0 {
		t.Error("remote received an entry with push disabled")
	}
	if _, hit := load(t, chain, testKey("a")); !hit {
		t.Error("local tier missed an entry it should hold")
	}
}

func TestRemoteFailuresFailOpen(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	cfg := withRemote(testConfig(t), server.URL)
	cfg.Cache.Local.Enabled = false
	cfg.Cache.Remote.Retry.Attempts = 2
	cfg.Cache.Remote.DisableAfterErrors = 2
	fake := clock.Fake(epoch)
	chain := build(t, cfg, Options{Clock: fake})

	for i := range 4 {
		data, hit := load(t, chain, testKey("a"))
		if hit || data != nil {
			t.Fatalf("load %d: unexpected hit", i)
		}
	}
	if !chain.RemoteDisabled() {
		t.Error("remote tier not disabled after repeated failures")
	}
	// Two loads, two attempts each, then nothing.
	if requests.Load() != 4 {
		t.Errorf("server saw %d requests, want 4", requests.Load())
	}
	if waits := fake.Waits(); len(waits) != 2 || waits[0] != time.Second {
		t.Errorf("backoff waits = %v, want two 1s waits", waits)
	}
}

// breakTempDir replaces the local cache's temp directory with a file,
// so every store fails after the chain has been built.
func breakTempDir(t *testing.T, cfg *config.Config) {
	t.Helper()
	tmp := filepath.Join(cfg.Cache.Local.Path, "tmp")
	if err := os.RemoveAll(tmp); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmp, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCorruptLocalEntryIsMiss(t *testing.T) {
	chain := build(t, testConfig(t), Options{})
	ctx := context.Background()
	key := testKey("a")
	if err := chain.Store(ctx, key, buildcache.BytesEntry([]byte("output"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := os.WriteFile(chain.Local().EntryPath(key), []byte("garbage entry bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	called := false
	hit, err := chain.Load(ctx, key, func(io.Reader) error {
		called = true
		return nil
	})
	if err != nil || hit || called {
		t.Errorf("Load of corrupt entry = (%v, %v), reader called %v; want a plain miss", hit, err, called)
	}

	// The corrupt entry was dropped, so the key can be stored again.
	if err := chain.Store(ctx, key, buildcache.BytesEntry([]byte("rebuilt"))); err != nil {
		t.Fatalf("Store after corruption: %v", err)
	}
	if data, hit := load(t, chain, key); !hit || string(data) != "rebuilt" {
		t.Errorf("Load = (%q, %v), want rebuilt entry", data, hit)
	}
}

func TestUnwritableLocalDropsStores(t *testing.T) {
	cfg := testConfig(t)
	chain := build(t, cfg, Options{})
	breakTempDir(t, cfg)

	if err := chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry([]byte("output"))); err != nil {
		t.Fatalf("Store on unwritable local cache = %v, want nil", err)
	}
	if _, hit := load(t, chain, testKey("a")); hit {
		t.Error("dropped store produced a hit")
	}
}

func TestCallerErrorsStillSurface(t *testing.T) {
	chain := build(t, testConfig(t), Options{})
	ctx := context.Background()

	missing := filepath.Join(t.TempDir(), "absent")
	if err := chain.Store(ctx, testKey("a"), buildcache.FileEntry(missing)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Store of missing file = %v, want ErrNotExist", err)
	}

	if err := chain.Store(ctx, testKey("b"), buildcache.BytesEntry([]byte("x"))); err != nil {
		t.Fatal(err)
	}
	consumerErr := errors.New("disk full")
	if _, err := chain.Load(ctx, testKey("b"), func(io.Reader) error { return consumerErr }); !errors.Is(err, consumerErr) {
		t.Errorf("Load with failing reader = %v, want the reader's error", err)
	}
}

func TestLocalRootUnusable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.Paths.Root, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Cache.Local.Path = filepath.Join(blocker, "cache")
	chain := build(t, cfg, Options{})

	if chain.Local() != nil {
		t.Error("Local() non-nil for a root that cannot be created")
	}
	if err := chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry([]byte("x"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, hit := load(t, chain, testKey("a")); hit {
		t.Error("chain without tiers produced a hit")
	}
}

func TestBothTiersWithFailingLocal(t *testing.T) {
	backend := buildcache.NewInMemory()
	server := remoteServer(t, backend)
	cfg := withRemote(testConfig(t), server.URL)
	chain := build(t, cfg, Options{})
	ctx := context.Background()

	// A corrupt local entry and a remote miss is a miss, not an error.
	if err := chain.Local().Store(ctx, testKey("a"), buildcache.BytesEntry([]byte("output"))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(chain.Local().EntryPath(testKey("a")), []byte("garbage entry bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, hit := load(t, chain, testKey("a")); hit {
		t.Error("corrupt local entry produced a hit")
	}

	// A failing local write still reaches the remote tier.
	breakTempDir(t, cfg)
	if err := chain.Store(ctx, testKey("b"), buildcache.BytesEntry([]byte("shared"))); err != nil {
		t.Fatalf("Store = %v, want nil", err)
	}
	if backend.Len() != 1 {
		t.Errorf("remote holds %d entries, want 1", backend.Len())
	}
	if data, hit := load(t, chain, testKey("b")); !hit || string(data) != "shared" {
		t.Errorf("Load = (%q, %v), want remote hit", data, hit)
	}
}

func TestEncryptedRemote(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()
	identityFile := filepath.Join(t.TempDir(), "cache.key")
	if err := sealed.WriteIdentityFile(identityFile, keypair, epoch); err != nil {
		t.Fatal(err)
	}

	backend := buildcache.NewInMemory()
	server := remoteServer(t, backend)
	cfg := withRemote(testConfig(t), server.URL)
	cfg.Cache.Local.Enabled = false
	cfg.Cache.Remote.Encryption.IdentityFile = identityFile
	chain := build(t, cfg, Options{})

	plaintext := []byte("confidential bytecode")
	if err := chain.Store(context.Background(), testKey("a"), buildcache.BytesEntry(plaintext)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var stored []byte
	if hit, _ := backend.Load(context.Background(), testKey("a"), buildcache.ReadAll(&stored)); !hit {
		t.Fatal("remote did not receive the entry")
	}
	if bytes.Contains(stored, plaintext) {
		t.Error("remote entry holds plaintext")
	}

	data, hit := load(t, chain, testKey("a"))
	if !hit || !bytes.Equal(data, plaintext) {
		t.Errorf("Load = (%q, %v)", data, hit)
	}
	if !strings.Contains(chain.Description(), "(encrypted)") {
		t.Errorf("Description = %q", chain.Description())
	}
}

func TestEncryptionMissingIdentity(t *testing.T) {
	cfg := withRemote(testConfig(t), "http://cache.invalid")
	cfg.Cache.Remote.Encryption.IdentityFile = filepath.Join(t.TempDir(), "absent.key")
	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("Build succeeded without the identity file")
	}
}

func TestBadCompression(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Local.Compression = "brotli"
	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("Build accepted an unknown compression")
	}
}

func TestConfigurationIsTracked(t *testing.T) {
	server := remoteServer(t, buildcache.NewInMemory())
	recorder := operation.NewRecorder(clock.Fake(epoch))
	chain := build(t, withRemote(testConfig(t), server.URL), Options{Executor: recorder})

	var steps []string
	for _, finished := range recorder.Named("configure") {
		steps = append(steps, finished.Details.DisplayName)
	}
	want := []string{"Configure local build cache", "Configure remote build cache", "Assemble build cache"}
	if strings.Join(steps, "|") != strings.Join(want, "|") {
		t.Errorf("configure steps = %v, want %v", steps, want)
	}

	load(t, chain, testKey("a"))
	if got := len(recorder.Named("buildcache.load")); got != 1 {
		t.Errorf("recorded %d loads, want 1", got)
	}
}

func TestClose(t *testing.T) {
	chain, err := Build(context.Background(), testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := chain.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = chain.Load(context.Background(), testKey("a"), buildcache.ReadAll(new([]byte)))
	if !errors.Is(err, buildcache.ErrClosed) {
		t.Errorf("Load after Close = %v, want ErrClosed", err)
	}
}
