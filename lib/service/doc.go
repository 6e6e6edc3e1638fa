// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the socket and HTTP scaffolding of the
// genop agent.
//
// Every request is one CBOR map carrying an "action" field, sent on a
// fresh connection. The server answers with a single [Response]
// envelope: ok, error, a fault code, an optional backend code, and
// the action's result encoded as CBOR in data. Failed requests carry
// the [fault.Kind] code so [Client] can rebuild an error that matches
// the fault sentinels under errors.Is.
//
// Two action shapes exist. Plain actions ([SocketServer.Handle]) read
// the request and return a result. Stream actions
// ([SocketServer.HandleStream]) keep the connection open after the
// request: uploads send CBOR frames after the request and the server
// replies once they have all arrived; downloads receive the response
// first, via [Stream.Reply], and then read frames until the server
// closes.
//
// The package also carries the agent's logger construction and a
// small HTTP server used for the Prometheus endpoint.
package service
