// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the agent's session table.
//
// A session is one client's execution context. It is opened
// explicitly, holds a set of resources (registered by it or shared
// with it), and ends either on an explicit close or when the reaper
// finds it idle for longer than the configured grace period. Both
// paths run the same teardown: the session is removed from the table
// first, so no new holding can attach, and then every holding is
// dropped through the [Releaser], cascading destruction of resources
// nobody else holds.
//
// Session identifiers come from a process-lifetime counter and are
// never reused. Operations in flight pin a session against reaping;
// idle time counts only while nothing is running.
package session
