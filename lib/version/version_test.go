// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestResolveWithoutBuildInfo(t *testing.T) {
	build := resolve(nil)
	if build.String() != "devel (unknown, unknown)" {
		t.Errorf("String() = %q", build.String())
	}
}

func TestResolveFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := resolve(info).String()
	want := "v1.2.3 (0123456789ab-dirty, 2026-03-01T10:00:00Z)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestInjectedValuesWin(t *testing.T) {
	saved := [3]string{Version, GitCommit, BuildTime}
	t.Cleanup(func() { Version, GitCommit, BuildTime = saved[0], saved[1], saved[2] })
	Version, GitCommit, BuildTime = "v9.0.0", "feedbee", "2026-01-01T00:00:00Z"

	info := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0000000000000000"}},
	}
	got := resolve(info).String()
	if got != "v9.0.0 (feedbee, 2026-01-01T00:00:00Z)" {
		t.Errorf("String() = %q", got)
	}
}

func TestFull(t *testing.T) {
	if !strings.Contains(Full(), "Platform: ") {
		t.Errorf("Full() = %q", Full())
	}
}
