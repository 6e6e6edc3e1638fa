// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/genop/lib/testutil"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Endpoint
		wantErr bool
	}{
		{raw: "unix:///run/genop/agent.sock", want: Endpoint{Unix, "/run/genop/agent.sock"}},
		{raw: "/run/genop/agent.sock", want: Endpoint{Unix, "/run/genop/agent.sock"}},
		{raw: "tcp://127.0.0.1:7800", want: Endpoint{TCP, "127.0.0.1:7800"}},
		{raw: "tcp://[::1]:0", want: Endpoint{TCP, "[::1]:0"}},
		{raw: "", wantErr: true},
		{raw: "unix://", wantErr: true},
		{raw: "tcp://localhost", wantErr: true},
		{raw: "http://localhost:80", wantErr: true},
	}
	for _, test := range tests {
		got, err := Parse(test.raw)
		if test.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", test.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", test.raw, err)
			continue
		}
		if got != test.want {
			t.Errorf("Parse(%q) = %+v, want %+v", test.raw, got, test.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, raw := range []string{"unix:///tmp/a.sock", "tcp://127.0.0.1:9"} {
		if got := MustParse(raw).String(); got != raw {
			t.Errorf("String() = %q, want %q", got, raw)
		}
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	endpoint := Endpoint{Network: Unix, Address: testutil.SocketPath(t)}
	if err := os.WriteFile(endpoint.Address, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}
	listener, err := Listen(endpoint)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer Cleanup(endpoint)
	defer listener.Close()

	accepted := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		accepted <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dialer{Timeout: time.Second}.DialContext(ctx, endpoint)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Write([]byte("hello"))
	CloseWrite(conn)
	defer conn.Close()

	if got := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accepted data"); string(got) != "hello" {
		t.Errorf("server read %q", got)
	}
}
