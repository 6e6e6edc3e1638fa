// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the agent's single CBOR configuration.
//
// Every message that crosses the client/agent boundary (requests,
// responses, blob chunks, session tokens) is CBOR. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2) so the same logical value
// always produces the same bytes; this is what makes token signatures
// and chunk digests stable.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types carry `cbor` struct tags. Identifier types from lib/ref
// implement encoding.TextMarshaler and serialize as their canonical
// text form.
package codec
