// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api defines the agent's socket actions and their messages.
//
// Every request is a CBOR map whose "action" field names one of the
// Action constants; the remaining fields are the action's request
// struct. Responses carry the action's response struct in the
// envelope's data field.
package api

import (
	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/session"
)

// Socket actions.
const (
	ActionStatus   = "status"
	ActionDescribe = "describe"
	ActionDevices  = "devices"

	ActionOpenSession  = "session/open"
	ActionCloseSession = "session/close"
	ActionPing         = "session/ping"
	ActionSessionInfo  = "session/info"

	ActionRegister = "resource/register"
	ActionRelease  = "resource/release"
	ActionShare    = "resource/share"
	ActionInfo     = "resource/info"

	ActionDispatch = "dispatch"

	// Streaming actions.
	ActionUpload = "blob/upload"
	ActionRead   = "resource/read"
)

// StatusResponse is the agent's health summary.
type StatusResponse struct {
	Version        string                `cbor:"version"`
	UptimeSeconds  float64               `cbor:"uptime_seconds"`
	Sessions       int                   `cbor:"sessions"`
	Resources      map[registry.Type]int `cbor:"resources"`
	Workers        int                   `cbor:"workers"`
	WorkersRunning int                   `cbor:"workers_running"`
	StagedBlobs    int                   `cbor:"staged_blobs"`
	StagedBytes    int64                 `cbor:"staged_bytes"`
	Plugins        []string              `cbor:"plugins"`
	Operations     []genop.OperationKind `cbor:"operations"`
}

// DescribeResponse lists every operation the agent can dispatch.
type DescribeResponse struct {
	Operations []genop.Signature `cbor:"operations"`
}

// OpenSessionRequest opens a session. Token is required when the
// agent verifies session tokens.
type OpenSessionRequest struct {
	Profiling bool   `cbor:"profiling,omitempty"`
	Label     string `cbor:"label,omitempty"`
	Token     []byte `cbor:"token,omitempty"`
}

// OpenSessionResponse carries the new session's ID.
type OpenSessionResponse struct {
	Session ref.Session `cbor:"session"`
}

// SessionRequest names a session. It is the request of session/close,
// session/ping, and session/info.
type SessionRequest struct {
	Session ref.Session `cbor:"session"`
}

// SessionInfoResponse describes a session.
type SessionInfoResponse = session.Info

// RegisterRequest registers a resource from bytes, either inline in
// Data or from a blob staged by blob/upload.
type RegisterRequest struct {
	Session ref.Session   `cbor:"session"`
	Type    registry.Type `cbor:"type"`
	Data    []byte        `cbor:"data,omitempty"`
	Blob    *ref.Blob     `cbor:"blob,omitempty"`
}

// RegisterResponse carries the new resource's ID.
type RegisterResponse struct {
	Resource ref.Resource `cbor:"resource"`
}

// ResourceRequest names a resource visible to a session. It is the
// request of resource/release and resource/info.
type ResourceRequest struct {
	Session  ref.Session  `cbor:"session"`
	Resource ref.Resource `cbor:"resource"`
}

// ShareRequest grants Target a holding on Resource.
type ShareRequest struct {
	Session  ref.Session  `cbor:"session"`
	Resource ref.Resource `cbor:"resource"`
	Target   ref.Session  `cbor:"target"`
}

// ShareResponse reports whether a new grant was made. False means
// the target already held the resource.
type ShareResponse struct {
	Granted bool `cbor:"granted"`
}

// InfoResponse describes a resource.
type InfoResponse = registry.Info

// DispatchRequest is one operation call.
type DispatchRequest = genop.Request

// DispatchResponse is a successful operation's result.
type DispatchResponse = genop.Result

// UploadRequest opens a blob upload. Chunk frames follow the request.
type UploadRequest struct {
	Session ref.Session `cbor:"session"`
}

// UploadResponse names the staged blob. Digest is blob.HashBlob of
// the reassembled bytes, for the sender to compare with its own.
type UploadResponse struct {
	Blob   ref.Blob    `cbor:"blob"`
	Size   int         `cbor:"size"`
	Digest blob.Digest `cbor:"digest"`
}

// ReadRequest reads a resource's payload back. Compression is a
// policy name as accepted by blob.ParseCompression; empty means auto.
type ReadRequest struct {
	Session     ref.Session  `cbor:"session"`
	Resource    ref.Resource `cbor:"resource"`
	Compression string       `cbor:"compression,omitempty"`
}

// ReadResponse precedes the payload's chunk frames.
type ReadResponse struct {
	Blob ref.Blob      `cbor:"blob"`
	Type registry.Type `cbor:"type"`
	Size int           `cbor:"size"`
}
