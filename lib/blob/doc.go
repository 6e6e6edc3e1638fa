// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob moves variable-size binary payloads (encoded images,
// serialized models, tensor bytes) between client and agent.
//
// A payload no larger than the chunk size travels as one chunk. A
// larger payload is split into ordered chunks, each carrying its
// sequence number, the total chunk count, and the declared total
// length. Every chunk is compressed independently (LZ4, zstd, or
// byte-grouped LZ4 for float tensors) and carries the BLAKE3 digest
// of its uncompressed bytes.
//
// The receiving [Assembler] enforces ordering: a chunk whose sequence
// number is not the next expected one (a gap, a reorder, or a
// duplicate) fails with fault.BlobCorrupt, as does a digest or
// decompression mismatch. A stream that ends before the declared
// length has arrived fails with fault.BlobIncomplete.
//
// On the agent, uploaded blobs wait in a [Staging] area until an
// operation consumes them through a blob argument. Staged blobs
// belong to the uploading session, expire after a TTL, and count
// against an agent-wide byte cap.
package blob
