// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] and [SocketPath] place Unix sockets under /tmp, because
// sun_path is limited to 108 bytes and t.TempDir() paths can exceed
// it.
//
// [RequireReceive] and [RequireClosed] bound channel
// waits with a wall-clock timeout so a broken test fails instead of
// hanging. They are the only real-time waits in the test suite; every
// other time-dependent test drives lib/clock's fake.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
