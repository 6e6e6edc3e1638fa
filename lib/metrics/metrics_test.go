// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/genop/lib/registry"
)

func TestObserverCounters(t *testing.T) {
	m := New()
	m.ResourceCreated(registry.TypeTensor)
	m.ResourceCreated(registry.TypeTensor)
	m.ResourceDestroyed(registry.TypeTensor)
	m.SessionOpened()
	m.SessionClosed("idle")
	m.OperationCompleted("compute.add", "ok", 3*time.Millisecond)
	m.OperationCompleted("compute.add", "invalid_argument", time.Millisecond)
	m.BlobReceived(4096)
	m.BlobSent(1024)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"created", testutil.ToFloat64(m.resourcesCreated.WithLabelValues("tensor")), 2},
		{"destroyed", testutil.ToFloat64(m.resourcesDestroyed.WithLabelValues("tensor")), 1},
		{"opened", testutil.ToFloat64(m.sessionsOpened), 1},
		{"closed", testutil.ToFloat64(m.sessionsClosed.WithLabelValues("idle")), 1},
		{"ok", testutil.ToFloat64(m.operations.WithLabelValues("compute.add", "ok")), 1},
		{"failed", testutil.ToFloat64(m.operations.WithLabelValues("compute.add", "invalid_argument")), 1},
		{"blob in", testutil.ToFloat64(m.blobBytes.WithLabelValues("in")), 4096},
		{"blob out", testutil.ToFloat64(m.blobBytes.WithLabelValues("out")), 1024},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %v, want %v", check.name, check.got, check.want)
		}
	}
	if count := testutil.CollectAndCount(m.operationSeconds); count != 1 {
		t.Errorf("duration histogram has %d series, want 1", count)
	}
}

func TestWatchGauges(t *testing.T) {
	m := New()
	live := map[registry.Type]int{registry.TypeModel: 1, registry.TypeImage: 3}
	m.Watch(Gauges{
		Resources:      func() map[registry.Type]int { return live },
		Sessions:       func() int { return 2 },
		StagedBytes:    func() int64 { return 512 },
		WorkersRunning: func() int { return 1 },
	})

	count, err := testutil.GatherAndCount(m.Gather(),
		"genop_registry_resources_live",
		"genop_session_open",
		"genop_blob_staged_bytes",
		"genop_dispatch_workers_running",
	)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 5 {
		t.Errorf("gathered %d series, want 5", count)
	}

	expected := `
# HELP genop_registry_resources_live Resources currently registered, by type.
# TYPE genop_registry_resources_live gauge
genop_registry_resources_live{type="image"} 3
genop_registry_resources_live{type="model"} 1
`
	if err := testutil.GatherAndCompare(m.Gather(), strings.NewReader(expected), "genop_registry_resources_live"); err != nil {
		t.Error(err)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()
	server := httptest.NewServer(m.Handler())
	defer server.Close()

	response, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	for _, want := range []string{"genop_session_opened_total 1", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition lacks %q", want)
		}
	}
}
