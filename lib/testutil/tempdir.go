// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketDir creates a short-named temporary directory in /tmp,
// removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "genop-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// SocketPath returns a fresh socket path inside a new SocketDir.
func SocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(SocketDir(t), "agent.sock")
}
