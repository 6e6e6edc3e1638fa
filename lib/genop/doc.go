// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package genop is the generic operation layer: typed argument
// values, operation signatures, the [Handler] interface backends
// implement, and the [Dispatcher] that routes requests to handlers.
//
// Every backend (generic compute, image classification, each ML
// framework) contributes handlers keyed by an [OperationKind]. A
// handler declares its [Signature]: the positional arguments it
// takes, the resource types it consumes, and the values and resource
// types it produces. The dispatcher checks a request against that
// declaration before anything runs, so validation failures never
// reach a backend.
//
// Dispatch is all-or-nothing with respect to resource references.
// Inputs are acquired in order; if any acquisition fails, everything
// already acquired is released before the error returns. After the
// handler runs, inputs are released on both the success and failure
// paths, and produced resources are registered under the calling
// session. A handler that produces outputs contradicting its own
// signature gets a BackendError with code [CodeContractViolation] and
// its outputs are destroyed.
//
// Handlers run on the configured [Executor], off the caller's
// goroutine. Cancellation is cooperative: when the caller's context
// ends, Dispatch returns fault.Cancelled immediately, the handler
// runs to completion, and any resources it produced are released
// instead of being handed to the session.
package genop
