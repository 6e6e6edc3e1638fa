// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func TestHTTPServerLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		fmt.Fprintf(writer, "metrics for %s", request.URL.Path)
	})
	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 2 * time.Second,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
	case <-t.Context().Done():
		t.Fatal("server did not become ready before test deadline")
	}

	response, err := http.Get("http://" + server.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != http.StatusOK || string(body) != "metrics for /metrics" {
		t.Errorf("GET /metrics = %d %q", response.StatusCode, body)
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-t.Context().Done():
		t.Fatal("server did not shut down before test deadline")
	}
}

func TestHTTPServerPanicsOnMissingConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name   string
		config HTTPServerConfig
	}{
		{"missing_address", HTTPServerConfig{Handler: handler, Logger: logger}},
		{"missing_handler", HTTPServerConfig{Address: ":0", Logger: logger}},
		{"missing_logger", HTTPServerConfig{Address: ":0", Handler: handler}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewHTTPServer did not panic")
				}
			}()
			NewHTTPServer(test.config)
		})
	}
}
