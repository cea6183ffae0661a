// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildavoid/cmd/buildavoid/cli"
	"github.com/bureau-foundation/buildavoid/lib/abi"
	"github.com/bureau-foundation/buildavoid/lib/buildcache"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/httpcache"
	"github.com/bureau-foundation/buildavoid/lib/buildcache/local"
	"github.com/bureau-foundation/buildavoid/lib/classpath"
	"github.com/bureau-foundation/buildavoid/lib/sealed"
)

func cacheCommand(out streams) *cli.Command {
	return &cli.Command{
		Name:    "cache",
		Summary: "Store, fetch, serve, and maintain build cache entries",
		Description: `Use the build cache configured for this environment.

Entries are addressed by 64-character hex keys. Loads try the local
cache first and fall back to the remote cache, copying remote hits into
the local cache. Stores go to every tier whose push setting allows it.`,
		Subcommands: []*cli.Command{
			cacheKeyCommand(out),
			cachePutCommand(out),
			cacheGetCommand(out),
			cacheServeCommand(out),
			cachePruneCommand(out),
			cacheStatsCommand(out),
			cacheKeygenCommand(out),
		},
		Examples: []cli.Example{
			{
				Description: "Key a compile step by its sources and the ABI of its classpath",
				Command:     "buildavoid cache key src/Main.java libs/core.jar",
			},
			{
				Description: "Restore an output, or rebuild on a miss",
				Command:     "buildavoid cache get --key $KEY -o out.jar || make out.jar",
			},
		},
	}
}

// --- key ---

type cacheKeyParams struct {
	GlobalFlags
	Salt []string `flag:"salt" desc:"extra string mixed into the key, such as a compiler version (repeatable)"`
}

func cacheKeyCommand(out streams) *cli.Command {
	var params cacheKeyParams

	return &cli.Command{
		Name:    "key",
		Summary: "Derive a cache key from build inputs",
		Usage:   "buildavoid cache key INPUT... [flags]",
		Description: `Derive a cache key from build inputs and print it.

Directories and .jar or .zip archives are classpath entries and
contribute their ABI fingerprint, so an implementation-only change in a
dependency keeps the key stable. Any other file contributes a digest of
its content. Inputs are keyed in the order given.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("key", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one input is required")
			}
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			key, err := deriveKey(ctx, s, params.Salt, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(s.streams.stdout, key)
			return nil
		},
	}
}

func deriveKey(ctx context.Context, s *session, salts, inputs []string) (buildcache.Key, error) {
	builder := buildcache.NewKeyBuilder()
	builder.Int(int64(len(salts)))
	for _, salt := range salts {
		builder.String(salt)
	}

	fingerprinter := abi.NewFingerprinter(abi.NewExtractor(abi.Options{
		IgnoredPackages:       s.config.ABI.IgnoredPackages,
		IncludePackagePrivate: s.config.ABI.IncludePackagePrivate,
	}), s.executor)

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return buildcache.Key{}, err
		}
		if info.IsDir() || isArchive(input) {
			records, err := classpath.Tracked(classpathSource(input, info), "List "+input, s.executor).Records(ctx)
			if err != nil {
				return buildcache.Key{}, err
			}
			result, err := fingerprinter.Fingerprint(ctx, records)
			if err != nil {
				return buildcache.Key{}, err
			}
			builder.String("abi").String(filepath.Base(input)).Digest(result.Aggregate())
			continue
		}

		data, err := os.ReadFile(input)
		if err != nil {
			return buildcache.Key{}, err
		}
		builder.String("file").String(filepath.Base(input)).Digest(abi.Digest(data))
	}
	return builder.Build(), nil
}

func classpathSource(path string, info os.FileInfo) classpath.Source {
	if info.IsDir() {
		return classpath.Directory(path)
	}
	return classpath.Archive(path)
}

func isArchive(path string) bool {
	extension := strings.ToLower(filepath.Ext(path))
	return extension == ".jar" || extension == ".zip"
}

// --- put ---

type cachePutParams struct {
	GlobalFlags
	Key string `flag:"key,k" desc:"entry key (64 hex characters)"`
}

func cachePutCommand(out streams) *cli.Command {
	var params cachePutParams

	return &cli.Command{
		Name:    "put",
		Summary: "Store a file under a key",
		Usage:   "buildavoid cache put --key KEY FILE",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("put", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one file is required")
			}
			key, err := parseKeyFlag(params.Key)
			if err != nil {
				return err
			}
			// The cache may drop the store without reading the file, so
			// a missing input is caught here.
			if info, err := os.Stat(args[0]); err != nil {
				return err
			} else if info.IsDir() {
				return fmt.Errorf("%s is a directory", args[0])
			}
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			cache, err := s.buildCache(ctx)
			if err != nil {
				return err
			}
			defer cache.Close()

			if err := cache.Store(ctx, key, buildcache.FileEntry(args[0])); err != nil {
				return err
			}
			s.logger.Debug("stored entry", "key", key, "file", args[0])
			return nil
		},
	}
}

// --- get ---

// exitNotCached is the exit status of "cache get" on a miss. Failures
// exit 1, so scripts can tell a miss from a broken cache invocation.
const exitNotCached = 3

type cacheGetParams struct {
	GlobalFlags
	Key    string `flag:"key,k" desc:"entry key (64 hex characters)"`
	Output string `flag:"output,o" desc:"write the entry to this file instead of stdout"`
}

func cacheGetCommand(out streams) *cli.Command {
	var params cacheGetParams

	return &cli.Command{
		Name:    "get",
		Summary: "Fetch the entry stored under a key",
		Usage:   "buildavoid cache get --key KEY [-o FILE]",
		Description: `Fetch an entry and write it to stdout or to the --output file.

Exits with status 3 and writes nothing when the key is not cached. The
output file is only created once the entry has been read completely.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			key, err := parseKeyFlag(params.Key)
			if err != nil {
				return err
			}
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			cache, err := s.buildCache(ctx)
			if err != nil {
				return err
			}
			defer cache.Close()

			var reader buildcache.EntryReader
			if params.Output == "" {
				reader = func(r io.Reader) error {
					_, err := io.Copy(s.streams.stdout, r)
					return err
				}
			} else {
				reader = func(r io.Reader) error {
					return writeFileAtomic(params.Output, r)
				}
			}

			found, err := cache.Load(ctx, key, reader)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(s.streams.stderr, "%s: not cached\n", key)
				return &cli.ExitError{Code: exitNotCached}
			}
			return nil
		},
	}
}

func parseKeyFlag(text string) (buildcache.Key, error) {
	if text == "" {
		return buildcache.Key{}, fmt.Errorf("--key is required")
	}
	return buildcache.ParseKey(text)
}

// writeFileAtomic copies r to path through a temp file in the same
// directory and renames it into place.
func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// --- serve ---

type cacheServeParams struct {
	GlobalFlags
	Listen       string `flag:"listen,l" desc:"address to listen on" default:"127.0.0.1:5071"`
	ReadOnly     bool   `flag:"read-only" desc:"reject uploads"`
	MaxEntrySize int64  `flag:"max-entry-size" desc:"largest accepted upload in bytes (default 1 GiB)"`
}

func cacheServeCommand(out streams) *cli.Command {
	var params cacheServeParams

	return &cli.Command{
		Name:    "serve",
		Summary: "Serve the build cache over HTTP",
		Usage:   "buildavoid cache serve [--listen ADDR] [flags]",
		Description: `Serve the configured cache as a remote build cache.

Clients configure cache.remote.url to point here. GET and HEAD fetch
entries, PUT stores them. Entries that fail their integrity check are
reported as missing and dropped. Runs until interrupted.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			cache, err := s.buildCache(ctx)
			if err != nil {
				return err
			}
			defer cache.Close()

			listener, err := net.Listen("tcp", params.Listen)
			if err != nil {
				return err
			}
			return serve(ctx, s, listener, httpcache.Handler(cache, httpcache.HandlerOptions{
				MaxEntrySize: params.MaxEntrySize,
				ReadOnly:     params.ReadOnly,
				Logger:       s.logger,
			}))
		},
	}
}

// serve runs handler on listener until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, s *session, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(s.streams.stdout, "serving build cache on http://%s\n", listener.Addr())
	s.logger.Info("serving build cache", "address", listener.Addr().String())

	errs := make(chan error, 1)
	go func() { errs <- server.Serve(listener) }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("build cache server stopped")
	return nil
}

// --- prune ---

type cachePruneParams struct {
	GlobalFlags
	cli.JSONOutput
	MaxAge time.Duration `flag:"max-age" desc:"delete entries unused for longer than this (default cache.local.max_age)"`
}

func cachePruneCommand(out streams) *cli.Command {
	var params cachePruneParams

	return &cli.Command{
		Name:    "prune",
		Summary: "Delete local entries that have not been used recently",
		Usage:   "buildavoid cache prune [--max-age DURATION]",
		Description: `Delete local cache entries not stored or loaded within the
maximum age, and print what remains.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("prune", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			localCache, err := openLocal(s)
			if err != nil {
				return err
			}
			defer localCache.Close()

			maxAge := params.MaxAge
			if maxAge == 0 {
				maxAge = s.config.Cache.Local.MaxAge
			}
			if maxAge <= 0 {
				return fmt.Errorf("--max-age must be positive")
			}

			before, err := localCache.Stat()
			if err != nil {
				return err
			}
			after, err := localCache.Prune(maxAge)
			if err != nil {
				return err
			}
			result := pruneOutput{
				Removed:      before.Entries - after.Entries,
				BytesRemoved: before.Bytes - after.Bytes,
				Remaining:    after,
			}
			if done, err := params.EmitJSON(s.streams.stdout, result); done {
				return err
			}
			fmt.Fprintf(s.streams.stdout, "removed %d entries (%s), %d entries (%s) remain\n",
				result.Removed, formatSize(result.BytesRemoved), after.Entries, formatSize(after.Bytes))
			return nil
		},
	}
}

type pruneOutput struct {
	Removed      int         `json:"removed"`
	BytesRemoved int64       `json:"bytes_removed"`
	Remaining    local.Usage `json:"remaining"`
}

// openLocal opens only the local tier; maintenance commands never touch
// the remote cache.
func openLocal(s *session) (*local.Cache, error) {
	settings := s.config.Cache.Local
	if !settings.Enabled {
		return nil, fmt.Errorf("local cache is disabled in the configuration")
	}
	compression, err := local.ParseCompression(settings.Compression)
	if err != nil {
		return nil, err
	}
	return local.Open(local.Options{
		Root:        settings.Path,
		Compression: compression,
		Clock:       s.clock,
		Logger:      s.logger,
	})
}

// --- stats ---

type cacheStatsParams struct {
	GlobalFlags
	cli.JSONOutput
}

type statsOutput struct {
	Environment string       `json:"environment"`
	Local       *localStats  `json:"local,omitempty"`
	Remote      *remoteStats `json:"remote,omitempty"`
}

type localStats struct {
	Path    string `json:"path"`
	Push    bool   `json:"push"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

type remoteStats struct {
	URL       string `json:"url"`
	Push      bool   `json:"push"`
	Encrypted bool   `json:"encrypted"`
}

func cacheStatsCommand(out streams) *cli.Command {
	var params cacheStatsParams

	return &cli.Command{
		Name:    "stats",
		Summary: "Show the configured tiers and local cache usage",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("stats", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			settings := s.config.Cache
			result := statsOutput{Environment: string(s.config.Environment)}
			if settings.Local.Enabled {
				localCache, err := openLocal(s)
				if err != nil {
					return err
				}
				defer localCache.Close()
				usage, err := localCache.Stat()
				if err != nil {
					return err
				}
				result.Local = &localStats{
					Path:    settings.Local.Path,
					Push:    settings.Local.Push,
					Entries: usage.Entries,
					Bytes:   usage.Bytes,
				}
			}
			if settings.Remote.Enabled {
				result.Remote = &remoteStats{
					URL:       settings.Remote.URL,
					Push:      settings.Remote.Push,
					Encrypted: settings.Remote.Encryption.Enabled(),
				}
			}

			if done, err := params.EmitJSON(s.streams.stdout, result); done {
				return err
			}
			w := s.streams.stdout
			fmt.Fprintf(w, "environment: %s\n", result.Environment)
			if result.Local == nil {
				fmt.Fprintln(w, "local:       disabled")
			} else {
				fmt.Fprintf(w, "local:       %s (%d entries, %s, push=%t)\n",
					result.Local.Path, result.Local.Entries, formatSize(result.Local.Bytes), result.Local.Push)
			}
			if result.Remote == nil {
				fmt.Fprintln(w, "remote:      disabled")
			} else {
				fmt.Fprintf(w, "remote:      %s (push=%t, encrypted=%t)\n",
					result.Remote.URL, result.Remote.Push, result.Remote.Encrypted)
			}
			return nil
		},
	}
}

// --- keygen ---

type cacheKeygenParams struct {
	GlobalFlags
	Output string `flag:"output,o" desc:"identity file to create (default cache.remote.encryption.identity_file)"`
}

func cacheKeygenCommand(out streams) *cli.Command {
	var params cacheKeygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Create an identity for encrypting remote cache entries",
		Usage:   "buildavoid cache keygen [-o FILE]",
		Description: `Generate an X25519 identity for remote cache encryption and write
it with mode 0600. The public key is printed; add it to the recipients
of every machine that shares the cache. An existing file is never
overwritten.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("keygen", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			s, err := params.open(out)
			if err != nil {
				return err
			}
			defer s.close()

			path := params.Output
			if path == "" {
				path = s.config.Cache.Remote.Encryption.IdentityFile
			}
			if path == "" {
				return fmt.Errorf("no identity file: pass --output or set cache.remote.encryption.identity_file")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if err := sealed.WriteIdentityFile(path, keypair, s.clock.Now()); err != nil {
				return err
			}
			s.logger.Info("created identity", "path", path)
			fmt.Fprintln(s.streams.stdout, keypair.PublicKey)
			return nil
		},
	}
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
