// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport parses agent endpoints and opens the stream
// connections that carry the socket protocol.
//
// An endpoint is "unix://<path>" or "tcp://<host>:<port>". A bare
// path (no scheme) is shorthand for a Unix socket. Unix sockets are
// the normal deployment: the agent and its clients share a host, and
// filesystem permissions on the socket decide who may connect. TCP
// exists for containers and remote test rigs.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Networks.
const (
	Unix = "unix"
	TCP  = "tcp"
)

// Endpoint is a parsed agent address.
type Endpoint struct {
	Network string
	Address string
}

// Parse parses an endpoint string.
func Parse(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, errors.New("empty endpoint")
	}
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return Endpoint{Network: Unix, Address: raw}, nil
	}
	switch scheme {
	case Unix:
		if rest == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q has no socket path", raw)
		}
		return Endpoint{Network: Unix, Address: rest}, nil
	case TCP:
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: %w", raw, err)
		}
		return Endpoint{Network: TCP, Address: rest}, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q has unsupported scheme %q (want unix or tcp)", raw, scheme)
	}
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Endpoint {
	endpoint, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return endpoint
}

// String returns the endpoint in scheme form.
func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// Listen binds the endpoint. A stale Unix socket file at the path is
// removed first; the caller removes it again on shutdown via Cleanup.
func Listen(endpoint Endpoint) (net.Listener, error) {
	if endpoint.Network == Unix {
		if err := os.Remove(endpoint.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", endpoint.Address, err)
		}
	}
	listener, err := net.Listen(endpoint.Network, endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", endpoint, err)
	}
	return listener, nil
}

// Cleanup removes the socket file of a Unix endpoint.
func Cleanup(endpoint Endpoint) {
	if endpoint.Network == Unix {
		os.Remove(endpoint.Address)
	}
}

// Dialer opens connections to endpoints.
type Dialer struct {
	// Timeout bounds the connect phase. Zero means only the context
	// deadline applies.
	Timeout time.Duration
}

// DialContext connects to endpoint.
func (d Dialer) DialContext(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, endpoint.Network, endpoint.Address)
}

// CloseWrite half-closes conn when the network supports it, so the
// peer sees EOF after the last request frame.
func CloseWrite(conn net.Conn) {
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		closer.CloseWrite()
	}
}
