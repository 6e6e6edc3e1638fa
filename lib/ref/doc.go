// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifiers for the
// objects an agent hands across the process boundary: sessions,
// resources, and staged blobs.
//
// Session and resource identifiers are allocated by the agent from
// monotonically increasing counters and are never reused for the life
// of the agent process. Their canonical text forms carry a prefix so
// that an identifier pasted into a log line or an error message says
// what it refers to:
//
//   - Session:  sess-<decimal>   (e.g., "sess-12")
//   - Resource: res-<decimal>    (e.g., "res-4031")
//   - Blob:     blob-<uuid>      (e.g., "blob-0b5e...")
//
// Blob identifiers are random rather than sequential because a staged
// blob is addressed only by the client that uploaded it and carries no
// ordering meaning.
//
// All types implement encoding.TextMarshaler, so lib/codec serializes
// them as CBOR text strings in their canonical form.
package ref
