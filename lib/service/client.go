// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/transport"
)

// dialTimeout bounds the connect phase only.
const dialTimeout = 5 * time.Second

// defaultResponseTimeout bounds waiting for a response when the
// caller's context has no deadline. Operations run on accelerators,
// so this is generous.
const defaultResponseTimeout = 5 * time.Minute

// maxResponseSize bounds a response that no frames follow. Bulk data
// comes back as streamed frames.
const maxResponseSize = 4 << 20

// ServiceError is returned when the server responds with ok=false.
// It unwraps to a *fault.Error rebuilt from the response code, so
// errors.Is(err, fault.ErrUnknownSession) works across the socket.
type ServiceError struct {
	Action string
	Fault  *fault.Error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Fault.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Fault
}

func responseError(action string, response *Response) error {
	return &ServiceError{
		Action: action,
		Fault: &fault.Error{
			Kind:    fault.ParseKind(response.Code),
			Message: response.Error,
			Code:    response.BackendCode,
		},
	}
}

// Client sends requests to a socket server. Every call opens a new
// connection, matching the server's one-request-per-connection model.
type Client struct {
	endpoint transport.Endpoint
	dialer   transport.Dialer
}

// NewClient creates a client for endpoint.
func NewClient(endpoint transport.Endpoint) *Client {
	return &Client{endpoint: endpoint, dialer: transport.Dialer{Timeout: dialTimeout}}
}

// Endpoint returns the server endpoint.
func (c *Client) Endpoint() transport.Endpoint {
	return c.endpoint
}

// Call sends a request and decodes the response data into result
// (when both are non-nil). fields must not contain "action".
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	return c.exchange(ctx, action, fields, nil, false, func(response *Response, _ *codec.Decoder) error {
		return decodeData(action, response, result)
	})
}

// Upload sends a request followed by the frames written by send, then
// decodes the response into result.
func (c *Client) Upload(ctx context.Context, action string, fields map[string]any, send func(*codec.Encoder) error, result any) error {
	return c.exchange(ctx, action, fields, send, false, func(response *Response, _ *codec.Decoder) error {
		return decodeData(action, response, result)
	})
}

// Download sends a request, decodes the response into header, and
// then hands the connection's decoder to receive for the frames that
// follow a successful response.
func (c *Client) Download(ctx context.Context, action string, fields map[string]any, header any, receive func(*codec.Decoder) error) error {
	return c.exchange(ctx, action, fields, nil, true, func(response *Response, decoder *codec.Decoder) error {
		if err := decodeData(action, response, header); err != nil {
			return err
		}
		return receive(decoder)
	})
}

func decodeData(action string, response *Response, result any) error {
	if result == nil || len(response.Data) == 0 {
		return nil
	}
	if err := codec.Unmarshal(response.Data, result); err != nil {
		return fmt.Errorf("decoding response data for %q: %w", action, err)
	}
	return nil
}

// exchange runs one connection: request, optional frames, response,
// and, on success, whatever done reads after it. Unless frames follow
// the response, the response is bounded by maxResponseSize.
func (c *Client) exchange(ctx context.Context, action string, fields map[string]any, send func(*codec.Encoder) error, framesFollow bool, done func(*Response, *codec.Decoder) error) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	conn, err := c.dialer.DialContext(ctx, c.endpoint)
	if err != nil {
		return fault.New(fault.TransportError, "connecting to %s: %v", c.endpoint, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultResponseTimeout)
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(request); err != nil {
		return c.transportError(ctx, action, "writing request", err)
	}
	if send != nil {
		if err := send(encoder); err != nil {
			// The server may have rejected the request and closed
			// before reading every frame; prefer its verdict.
			var response Response
			if decodeErr := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); decodeErr == nil && !response.OK {
				return responseError(action, &response)
			}
			return c.transportError(ctx, action, "writing frames", err)
		}
	}
	transport.CloseWrite(conn)

	var reader io.Reader = conn
	if !framesFollow {
		reader = io.LimitReader(conn, maxResponseSize)
	}
	decoder := codec.NewDecoder(reader)
	var response Response
	if err := decoder.Decode(&response); err != nil {
		return c.transportError(ctx, action, "reading response", err)
	}
	if !response.OK {
		return responseError(action, &response)
	}
	return done(&response, decoder)
}

func (c *Client) transportError(ctx context.Context, action, phase string, err error) error {
	if ctx.Err() != nil {
		return fault.New(fault.Cancelled, "%s %q: %v", phase, action, ctx.Err())
	}
	if classified := fault.KindOf(err); classified != fault.Unclassified {
		return err
	}
	return fault.New(fault.TransportError, "%s %q on %s: %v", phase, action, c.endpoint, err)
}
