// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the genop agent service.
//
// [New] builds one instance of every shared component from the
// configuration: the resource registry, the session manager, the blob
// staging area, the worker pool, the plugin set, and a dispatcher with
// every enabled backend registered. Nothing is process-global; two
// agents in one process share no state.
//
// [Agent.Run] serves the socket actions in package api, the optional
// Prometheus endpoint, and a reaper that closes sessions idle past
// session_grace_period and discards staged blobs past their TTL. When
// the context ends the agent drains in-flight operations, closes every
// session, and reports any resource still live afterwards as a leak.
//
// Actions that name a session hold it in flight for their duration,
// so a session is never reaped while one of its calls is running.
package agent
