// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents where the build runs.
type Environment string

const (
	// Development is a developer workstation.
	Development Environment = "development"
	// CI is a continuous integration runner, typically the only
	// environment that pushes to the remote cache.
	CI Environment = "ci"
	// Production is a release build.
	Production Environment = "production"
)

// EnvVar names the environment variable holding the configuration
// file path.
const EnvVar = "BUILDAVOID_CONFIG"

// Config is the master configuration for buildavoid.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Cache configures the build cache tiers.
	Cache CacheConfig `yaml:"cache"`

	// ABI configures class surface extraction and fingerprinting.
	ABI ABIConfig `yaml:"abi"`

	// Per-environment overrides, merged over the base values after
	// loading. Only the keys present in a section are changed.
	Development *Section `yaml:"development,omitempty"`
	CI          *Section `yaml:"ci,omitempty"`
	Production  *Section `yaml:"production,omitempty"`
}

// Section is an environment override section. It is kept as raw YAML
// until the environment is known, then decoded over the base values.
type Section struct {
	node yaml.Node
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (s *Section) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: environment section must be a mapping", value.Line)
	}
	s.node = *value
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (s *Section) MarshalYAML() (any, error) {
	return &s.node, nil
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for buildavoid data. Other paths
	// default to locations under it via ${BUILDAVOID_ROOT}.
	Root string `yaml:"root"`
}

// CacheConfig configures the build cache.
type CacheConfig struct {
	Local  LocalCacheConfig  `yaml:"local"`
	Remote RemoteCacheConfig `yaml:"remote"`
}

// LocalCacheConfig configures the directory cache.
type LocalCacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the cache directory.
	// Default: ${BUILDAVOID_ROOT}/cache
	Path string `yaml:"path"`

	// Push stores new entries. When false the cache is read-only.
	Push bool `yaml:"push"`

	// Compression for new entries: none, lz4, zstd, or auto.
	// Default: auto
	Compression string `yaml:"compression"`

	// MaxAge is the age beyond which unused entries are pruned.
	// Default: 168h
	MaxAge time.Duration `yaml:"max_age"`
}

// RemoteCacheConfig configures the HTTP cache.
type RemoteCacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the cache base URL. Entries live at URL/<hex key>.
	URL string `yaml:"url"`

	// Push stores new entries remotely.
	// Default: true, except false in production unless a production
	// section says otherwise.
	Push bool `yaml:"push"`

	// Username enables basic authentication.
	Username string `yaml:"username"`

	// PasswordEnv names the environment variable holding the password.
	// The password itself never appears in the file.
	PasswordEnv string `yaml:"password_env"`

	// Timeout bounds each request.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxEntrySize bounds downloaded entries in bytes.
	// Default: 1 GiB
	MaxEntrySize int64 `yaml:"max_entry_size"`

	// Retry configures retries of unavailable-server errors.
	Retry RetryConfig `yaml:"retry"`

	// DisableAfterErrors turns the remote cache off for the rest of
	// the build after this many failed operations. Zero keeps it on.
	// Default: 3
	DisableAfterErrors int `yaml:"disable_after_errors"`

	// Encryption seals remote entries with age.
	Encryption EncryptionConfig `yaml:"encryption"`
}

// Password returns the basic-auth password from PasswordEnv.
func (r RemoteCacheConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// RetryConfig configures remote retries.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 3
	Attempts int `yaml:"attempts"`

	// Backoff is the wait before the first retry; it doubles after
	// each further failure.
	// Default: 1s
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the wait.
	// Default: 10s
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// EncryptionConfig configures age encryption of remote entries.
type EncryptionConfig struct {
	// IdentityFile is an age identity file. Encryption is enabled when
	// it is set.
	IdentityFile string `yaml:"identity_file"`

	// Recipients are additional age recipients entries are sealed to,
	// so that other machines' identities can read them. The identity's
	// own recipient is always included.
	Recipients []string `yaml:"recipients"`
}

// Enabled reports whether remote entries are encrypted.
func (e EncryptionConfig) Enabled() bool { return e.IdentityFile != "" }

// ABIConfig configures fingerprinting.
type ABIConfig struct {
	// IgnoredPackages lists dot-separated packages whose classes are
	// excluded. A trailing ".*" also excludes sub-packages.
	IgnoredPackages []string `yaml:"ignored_packages"`

	// IncludePackagePrivate keeps package-private classes and members
	// in the surface. Enable it when consumers share packages with the
	// library (split packages, tests compiled alongside).
	IncludePackagePrivate bool `yaml:"include_package_private"`

	// Parallelism is the number of fingerprinting workers. Zero uses
	// GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`

	// Strict fails the build on malformed class files instead of
	// falling back to content digests.
	// Default: false, except true in production unless a production
	// section says otherwise.
	Strict bool `yaml:"strict"`
}

// Default returns the default configuration. Path fields hold
// ${BUILDAVOID_ROOT} references resolved by Expand, so a file that only
// sets paths.root moves everything.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root: filepath.Join(homeDir, ".cache", "buildavoid"),
		},
		Cache: CacheConfig{
			Local: LocalCacheConfig{
				Enabled:     true,
				Path:        "${BUILDAVOID_ROOT}/cache",
				Push:        true,
				Compression: "auto",
				MaxAge:      7 * 24 * time.Hour,
			},
			Remote: RemoteCacheConfig{
				Enabled:      false,
				Push:         true,
				Timeout:      30 * time.Second,
				MaxEntrySize: 1 << 30,
				Retry: RetryConfig{
					Attempts:   3,
					Backoff:    time.Second,
					MaxBackoff: 10 * time.Second,
				},
				DisableAfterErrors: 3,
			},
		},
	}
}

// Load loads configuration from the file named by BUILDAVOID_CONFIG.
//
// There are no fallbacks: if BUILDAVOID_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("BUILDAVOID_CONFIG environment variable not set; " +
			"set it to the path of your buildavoid.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// section for the configured environment, and expands variables.
//
// Unknown keys are errors: a misspelled option must not silently fall
// back to its default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Expand()

	return cfg, nil
}

// loadFile decodes a configuration file over the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// overridable aliases the sections an environment section may change.
// Decoding a node into it writes through to the Config and leaves keys
// the node does not mention untouched.
type overridable struct {
	Paths *PathsConfig `yaml:"paths"`
	Cache *CacheConfig `yaml:"cache"`
	ABI   *ABIConfig   `yaml:"abi"`
}

// applyEnvironmentOverrides merges the section for c.Environment. The
// other sections are decoded into scratch values so their keys are
// checked too.
func (c *Config) applyEnvironmentOverrides() error {
	sections := []struct {
		environment Environment
		section     *Section
	}{
		{Development, c.Development},
		{CI, c.CI},
		{Production, c.Production},
	}

	var active *Section
	for _, entry := range sections {
		if entry.section == nil {
			continue
		}
		if entry.environment == c.Environment {
			active = entry.section
			continue
		}
		var scratch overridable
		if err := entry.section.decode(&scratch); err != nil {
			return fmt.Errorf("%s section: %w", entry.environment, err)
		}
	}

	if active == nil {
		// Production defaults: never publish from release builds and
		// never paper over malformed classes.
		if c.Environment == Production {
			c.Cache.Remote.Push = false
			c.ABI.Strict = true
		}
		return nil
	}
	target := overridable{Paths: &c.Paths, Cache: &c.Cache, ABI: &c.ABI}
	if err := active.decode(&target); err != nil {
		return fmt.Errorf("applying %s section: %w", c.Environment, err)
	}
	return nil
}

// decode writes the section over target, rejecting unknown keys like
// the rest of the file. The node is re-encoded because only a Decoder
// can check keys.
func (s *Section) decode(target *overridable) error {
	data, err := yaml.Marshal(&s.node)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Expand resolves ${VAR} and ${VAR:-default} patterns in path-like
// fields. ${BUILDAVOID_ROOT} refers to the (expanded) paths.root.
// LoadFile calls it; callers using Default directly must call it
// themselves.
func (c *Config) Expand() {
	vars := map[string]string{
		"BUILDAVOID_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BUILDAVOID_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Cache.Local.Path = expandVars(c.Cache.Local.Path, vars)
	c.Cache.Remote.URL = expandVars(c.Cache.Remote.URL, vars)
	c.Cache.Remote.Encryption.IdentityFile = expandVars(c.Cache.Remote.Encryption.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var compressionValues = []string{"none", "lz4", "zstd", "auto"}

// packagePattern matches "com.example" and "com.example.*".
var packagePattern = regexp.MustCompile(`^[\p{L}_$][\p{L}\p{N}_$]*(\.[\p{L}_$][\p{L}\p{N}_$]*)*(\.\*)?$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != CI && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	local := c.Cache.Local
	if local.Enabled {
		if local.Path == "" {
			errs = append(errs, fmt.Errorf("cache.local.path is required when the local cache is enabled"))
		}
		if !slices.Contains(compressionValues, local.Compression) {
			errs = append(errs, fmt.Errorf("cache.local.compression must be one of: %v", compressionValues))
		}
	}
	if local.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cache.local.max_age must not be negative"))
	}

	remote := c.Cache.Remote
	if remote.Enabled {
		if remote.URL == "" {
			errs = append(errs, fmt.Errorf("cache.remote.url is required when the remote cache is enabled"))
		} else if !strings.HasPrefix(remote.URL, "http://") && !strings.HasPrefix(remote.URL, "https://") {
			errs = append(errs, fmt.Errorf("cache.remote.url must be an http or https URL (got %q)", remote.URL))
		}
		if remote.Retry.Attempts < 1 {
			errs = append(errs, fmt.Errorf("cache.remote.retry.attempts must be at least 1"))
		}
	}
	if remote.Timeout < 0 {
		errs = append(errs, fmt.Errorf("cache.remote.timeout must not be negative"))
	}
	if remote.Retry.Backoff < 0 || remote.Retry.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("cache.remote.retry backoffs must not be negative"))
	}
	if remote.DisableAfterErrors < 0 {
		errs = append(errs, fmt.Errorf("cache.remote.disable_after_errors must not be negative"))
	}
	if len(remote.Encryption.Recipients) > 0 && !remote.Encryption.Enabled() {
		errs = append(errs, fmt.Errorf("cache.remote.encryption.recipients requires identity_file"))
	}
	if remote.Username == "" && remote.PasswordEnv != "" {
		errs = append(errs, fmt.Errorf("cache.remote.password_env requires username"))
	}

	if c.ABI.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("abi.parallelism must not be negative"))
	}
	for _, pattern := range c.ABI.IgnoredPackages {
		if !packagePattern.MatchString(pattern) {
			errs = append(errs, fmt.Errorf("abi.ignored_packages: %q is not a package name or package.* pattern", pattern))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root}
	if c.Cache.Local.Enabled {
		paths = append(paths, c.Cache.Local.Path)
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
