// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
)

// Build with, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/genop/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the release version, set by hand for releases.
	Version = "0.1.0-dev"
)

// Info returns "version (commit[-dirty], build time)". The agent
// reports it in status responses.
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Full is Info followed by the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "name Full()" to stdout, for --version flags.
func Print(name string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", name, Full())
}
