// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for buildavoid.
//
// Configuration is loaded from a single file specified by either the
// BUILDAVOID_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic file search. This keeps
// cache keys and cache placement auditable: the file is the only
// input.
//
// The configuration file supports environment-specific sections
// (development, ci, production) merged over the base values when
// [Config].Environment matches. Only keys present in the section
// change. Production defaults are stricter: without a production
// section, remote pushes are disabled and malformed class files fail
// the build.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${BUILDAVOID_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values;
// the remote cache password is read from the variable named by
// password_env so that it never appears in the file.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Cache, ABI
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other buildavoid packages.
package config
