// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the agent-wide table of resources: models,
// shared objects, images, tensors, and scratch buffers registered by
// sessions or produced by operations.
//
// Every resource carries an immutable type tag, an owning session, a
// grant table of sessions it has been shared with, and a reference
// count. Each session holding the resource (the owner plus every
// grantee) contributes one reference, and each in-progress operation
// that acquired the resource contributes one more. When the count
// reaches zero the type's destructor runs and the slot is removed.
//
// The table is split into shards, each with its own lock, so that
// unrelated sessions never contend on a single mutex. The existence
// check and the increment in [Registry.Acquire] happen under the same
// shard lock, which closes the window in which a concurrent release
// could destroy a resource between lookup and use.
//
// Resource identifiers are allocated from a process-lifetime counter
// and never reused. That lets [Registry.Release] tell an identifier
// that was never issued ([fault.UnknownResource]) from one whose
// resource has already been destroyed ([fault.DoubleRelease]).
package registry
