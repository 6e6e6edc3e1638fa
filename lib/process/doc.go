// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the exit path for genop binaries: errors that
// escape run() are reported on stderr, where the structured logger may
// not exist yet, and turned into an exit status.
package process
