// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves HTTP on a TCP listener. The agent uses it for the
// Prometheus /metrics endpoint when metrics.address is configured.
//
// Serve(ctx) blocks until the context is cancelled and active requests
// drain, like SocketServer.
type HTTPServer struct {
	config HTTPServerConfig
	ready  chan struct{}
	addr   net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address ("127.0.0.1:9464", ":0").
	Address string
	Handler http.Handler

	// ShutdownTimeout bounds the graceful drain. Zero means 10s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// NewHTTPServer validates config and creates the server. Address,
// Handler, and Logger are required.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve listens and serves until ctx is cancelled, then shuts down
// gracefully within ShutdownTimeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logger := s.config.Logger
	logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
