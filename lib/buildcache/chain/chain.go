// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chain assembles the build cache decorator chain from
// configuration.
//
// The chain is fixed, outermost first:
//
//	Guard → Traced → Metered → Tiered(local', remote')
//	local'  = FailOpen(Policy(local))
//	remote' = FailOpen(Retry(Policy(Encrypted?(http))))
//
// When only one tier is enabled, Tiered is left out and Metered wraps
// that tier directly. With neither, Metered wraps a cache that always
// misses. Both tiers fail open: a corrupt or unreadable entry is a miss
// and a failed write is a dropped store, so the cache never fails a
// build. A local directory that cannot be created leaves the local
// tier out with a warning. Each layer is built as a tracked configuration step, so the
// operation log records how the chain came to be.
package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/httpcache"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/local"
	"github.com/bureau-foundation/buildavoid/lib/clock"
	"github.com/bureau-foundation/buildavoid/lib/config"
	"github.com/bureau-foundation/buildavoid/lib/operation"
	"github.com/bureau-foundation/buildavoid/lib/sealed"
)

// Options supplies the collaborators the chain is built with.
type Options struct {
	// Logger defaults to discarding.
	Logger *slog.Logger

	// Executor tracks configuration steps and cache operations.
	// Defaults to operation.Inline.
	Executor operation.Executor

	// Clock drives retry backoff and local entry timestamps. Defaults
	// to the real clock.
	Clock clock.Clock

	// HTTPClient is passed to the remote backend.
	HTTPClient *http.Client
}

// Chain is the assembled cache. Use it as a buildcache.Service.
type Chain struct {
	buildcache.Service

	metered *buildcache.MeteredService
	local   *local.Cache
	remote  *buildcache.FailOpenService
}

// Stats returns the counters of the Metered layer.
func (c *Chain) Stats() buildcache.Stats { return c.metered.Stats() }

// Local returns the local tier, or nil when it is disabled.
func (c *Chain) Local() *local.Cache { return c.local }

// RemoteDisabled reports whether the remote tier was switched off
// after repeated failures. It is false when there is no remote tier.
func (c *Chain) RemoteDisabled() bool {
	return c.remote != nil && c.remote.Disabled()
}

// Build constructs the chain described by cfg.Cache.
func Build(ctx context.Context, cfg *config.Config, options Options) (*Chain, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Executor == nil {
		options.Executor = operation.Inline()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger.With("component", "buildcache")
	executor := options.Executor
	chain := &Chain{}

	var tiers []buildcache.Service
	if cfg.Cache.Local.Enabled {
		localTier, err := operation.Configure(ctx, executor, operation.Tracked("Configure local build cache"),
			func(ctx context.Context) (buildcache.Service, error) {
				cache, err := buildLocal(cfg.Cache.Local, options.Clock, logger)
				if err != nil {
					return nil, err
				}
				if cache == nil {
					return nil, nil
				}
				chain.local = cache
				policy := buildcache.WithPolicy(cache, buildcache.Policy{Pull: true, Push: cfg.Cache.Local.Push})
				return buildcache.FailOpen(policy, logger, 0), nil
			})
		if err != nil {
			return nil, err
		}
		if localTier != nil {
			tiers = append(tiers, localTier)
		}
	}

	if cfg.Cache.Remote.Enabled {
		remoteTier, err := operation.Configure(ctx, executor, operation.Tracked("Configure remote build cache"),
			func(ctx context.Context) (buildcache.Service, error) {
				remote, err := buildRemote(cfg.Cache.Remote, options, logger)
				if err != nil {
					return nil, err
				}
				chain.remote = remote
				return remote, nil
			})
		if err != nil {
			closeAll(tiers)
			return nil, err
		}
		tiers = append(tiers, remoteTier)
	}

	service, err := operation.Configure(ctx, executor, operation.Tracked("Assemble build cache"),
		func(ctx context.Context) (buildcache.Service, error) {
			var inner buildcache.Service
			switch len(tiers) {
			case 0:
				inner = noCache{}
			case 1:
				inner = tiers[0]
			default:
				inner = buildcache.Tiered(tiers[0], tiers[1])
			}
			chain.metered = buildcache.Metered(inner)
			return buildcache.Guard(buildcache.Traced(chain.metered, executor)), nil
		})
	if err != nil {
		closeAll(tiers)
		return nil, err
	}
	chain.Service = service

	logger.Debug("build cache assembled", "description", service.Description())
	return chain, nil
}

// buildLocal opens the local tier. It returns nil without an error when
// the cache directory cannot be set up.
func buildLocal(settings config.LocalCacheConfig, c clock.Clock, logger *slog.Logger) (*local.Cache, error) {
	compression, err := local.ParseCompression(settings.Compression)
	if err != nil {
		return nil, err
	}
	cache, err := local.Open(local.Options{
		Root:        settings.Path,
		Compression: compression,
		Clock:       c,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("local build cache unavailable, continuing without it",
			"path", settings.Path,
			"error", err,
		)
		return nil, nil
	}
	return cache, nil
}

func buildRemote(settings config.RemoteCacheConfig, options Options, logger *slog.Logger) (*buildcache.FailOpenService, error) {
	client, err := httpcache.New(httpcache.Options{
		URL:          settings.URL,
		Username:     settings.Username,
		Password:     settings.Password(),
		Timeout:      settings.Timeout,
		MaxEntrySize: settings.MaxEntrySize,
		HTTPClient:   options.HTTPClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	var service buildcache.Service = client
	if settings.Encryption.Enabled() {
		keys, err := sealed.LoadIdentity(settings.Encryption.IdentityFile, settings.Encryption.Recipients)
		if err != nil {
			return nil, fmt.Errorf("remote cache encryption: %w", err)
		}
		service = buildcache.Encrypted(service, keys.Identity, keys.Recipients...)
	}
	service = buildcache.WithPolicy(service, buildcache.Policy{Pull: true, Push: settings.Push})
	service = buildcache.Retry(service, buildcache.RetryPolicy{
		Attempts:   settings.Retry.Attempts,
		Backoff:    settings.Retry.Backoff,
		MaxBackoff: settings.Retry.MaxBackoff,
	}, options.Clock)
	return buildcache.FailOpen(service, logger, settings.DisableAfterErrors), nil
}

func closeAll(services []buildcache.Service) {
	for _, service := range services {
		service.Close()
	}
}

// noCache misses every load and drops every store.
type noCache struct{}

func (noCache) Load(context.Context, buildcache.Key, buildcache.EntryReader) (bool, error) {
	return false, nil
}

func (noCache) Store(context.Context, buildcache.Key, buildcache.EntryWriter) error { return nil }

func (noCache) Description() string { return "no cache" }

func (noCache) Close() error { return nil }
