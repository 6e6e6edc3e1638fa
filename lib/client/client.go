// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the synchronous API applications use to run work
// on a genop agent.
//
// A [Client] talks to one agent endpoint. [Client.OpenSession] returns
// a [Session] through which resources are registered, shared, read
// back, and released, and operations are dispatched. Payloads larger
// than the chunk size are uploaded as chunked blobs before they are
// referenced; smaller ones travel inline. Errors match the fault
// sentinels:
//
//	if errors.Is(err, fault.ErrResourceTypeMismatch) { ... }
//
// Each method makes one connection, so a Client and its Sessions are
// safe for concurrent use.
package client

import (
	"context"

	"github.com/bureau-foundation/genop/lib/accel"
	"github.com/bureau-foundation/genop/lib/api"
	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/transport"
)

// Options tune blob transfer. The zero value uses the blob defaults
// and automatic compression.
type Options struct {
	// ChunkSize is the inline threshold and upload chunk size. Zero
	// means blob.DefaultChunkSize.
	ChunkSize int

	// Compression is the upload chunk policy. Nil means
	// blob.CompressionAuto.
	Compression *blob.Compression
}

// Client is a connection factory for one agent.
type Client struct {
	service *service.Client
	options Options
}

// New creates a client for endpoint ("unix:///run/genop/agent.sock",
// "tcp://host:port", or a bare socket path). No connection is made
// until the first call.
func New(endpoint string, options Options) (*Client, error) {
	parsed, err := transport.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if options.ChunkSize <= 0 {
		options.ChunkSize = blob.DefaultChunkSize
	}
	options.ChunkSize = min(options.ChunkSize, blob.MaxChunkSize)
	if options.Compression == nil {
		auto := blob.CompressionAuto
		options.Compression = &auto
	}
	return &Client{service: service.NewClient(parsed), options: options}, nil
}

// Status returns the agent's health summary.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var response api.StatusResponse
	if err := c.service.Call(ctx, api.ActionStatus, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Describe lists every operation the agent can dispatch.
func (c *Client) Describe(ctx context.Context) ([]genop.Signature, error) {
	var response api.DescribeResponse
	if err := c.service.Call(ctx, api.ActionDescribe, nil, &response); err != nil {
		return nil, err
	}
	return response.Operations, nil
}

// Devices returns the agent host's accelerator inventory.
func (c *Client) Devices(ctx context.Context) (*accel.Inventory, error) {
	var response accel.Inventory
	if err := c.service.Call(ctx, api.ActionDevices, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SessionOptions are fixed when a session opens.
type SessionOptions struct {
	// Profiling attaches a profiling record to every result.
	Profiling bool

	// Label names the session in agent logs and status.
	Label string

	// Token is a signed session token, required by agents that
	// verify them.
	Token []byte
}

// OpenSession opens a session on the agent.
func (c *Client) OpenSession(ctx context.Context, options SessionOptions) (*Session, error) {
	var response api.OpenSessionResponse
	fields := map[string]any{"profiling": options.Profiling}
	if options.Label != "" {
		fields["label"] = options.Label
	}
	if len(options.Token) > 0 {
		fields["token"] = options.Token
	}
	if err := c.service.Call(ctx, api.ActionOpenSession, fields, &response); err != nil {
		return nil, err
	}
	return &Session{client: c, id: response.Session}, nil
}
