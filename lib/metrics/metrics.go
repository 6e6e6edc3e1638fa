// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports the agent's counters to Prometheus. A
// [Metrics] value is the observer the registry, the session manager,
// and the dispatcher report into; live gauges are read on scrape
// through [Metrics.Watch].
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/registry"
)

const namespace = "genop"

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	resourcesCreated   *prometheus.CounterVec
	resourcesDestroyed *prometheus.CounterVec
	sessionsOpened     prometheus.Counter
	sessionsClosed     *prometheus.CounterVec
	operations         *prometheus.CounterVec
	operationSeconds   *prometheus.HistogramVec
	blobBytes          *prometheus.CounterVec
}

// New creates the collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		resourcesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "resources_created_total",
			Help:      "Resources registered, by type.",
		}, []string{"type"}),
		resourcesDestroyed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "resources_destroyed_total",
			Help:      "Resources whose payload was destroyed, by type.",
		}, []string{"type"}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Sessions opened.",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Sessions closed, by reason.",
		}, []string{"reason"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "operations_total",
			Help:      "Dispatched operations, by kind and outcome.",
		}, []string{"operation", "outcome"}),
		operationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of dispatched operations, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"operation"}),
		blobBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "bytes_total",
			Help:      "Blob payload bytes moved over the socket, by direction.",
		}, []string{"direction"}),
	}
}

// ResourceCreated implements registry.Observer.
func (m *Metrics) ResourceCreated(typ registry.Type) {
	m.resourcesCreated.WithLabelValues(string(typ)).Inc()
}

// ResourceDestroyed implements registry.Observer.
func (m *Metrics) ResourceDestroyed(typ registry.Type) {
	m.resourcesDestroyed.WithLabelValues(string(typ)).Inc()
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed(reason string) {
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

// OperationCompleted implements genop.Observer.
func (m *Metrics) OperationCompleted(operation genop.OperationKind, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(string(operation), outcome).Inc()
	m.operationSeconds.WithLabelValues(string(operation)).Observe(elapsed.Seconds())
}

// BlobReceived counts uploaded payload bytes.
func (m *Metrics) BlobReceived(bytes int) {
	m.blobBytes.WithLabelValues("in").Add(float64(bytes))
}

// BlobSent counts downloaded payload bytes.
func (m *Metrics) BlobSent(bytes int) {
	m.blobBytes.WithLabelValues("out").Add(float64(bytes))
}

// Gauges are read at scrape time. Nil fields are not exported.
type Gauges struct {
	Resources      func() map[registry.Type]int
	Sessions       func() int
	StagedBytes    func() int64
	WorkersRunning func() int
}

// Watch registers the live gauges. Call it once.
func (m *Metrics) Watch(gauges Gauges) {
	factory := promauto.With(m.registry)
	if gauges.Sessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open",
			Help:      "Sessions currently open.",
		}, func() float64 { return float64(gauges.Sessions()) })
	}
	if gauges.StagedBytes != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "staged_bytes",
			Help:      "Bytes held by uploaded blobs not yet consumed.",
		}, func() float64 { return float64(gauges.StagedBytes()) })
	}
	if gauges.WorkersRunning != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "workers_running",
			Help:      "Worker pool slots in use.",
		}, func() float64 { return float64(gauges.WorkersRunning()) })
	}
	if gauges.Resources != nil {
		m.registry.MustRegister(&liveResources{count: gauges.Resources})
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gather exposes the registry for tests and embedding.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}

var liveResourcesDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "registry", "resources_live"),
	"Resources currently registered, by type.",
	[]string{"type"}, nil,
)

// liveResources reports one gauge per resource type at scrape time.
type liveResources struct {
	count func() map[registry.Type]int
}

func (c *liveResources) Describe(descriptions chan<- *prometheus.Desc) {
	descriptions <- liveResourcesDesc
}

func (c *liveResources) Collect(metrics chan<- prometheus.Metric) {
	for typ, count := range c.count() {
		metrics <- prometheus.MustNewConstMetric(liveResourcesDesc, prometheus.GaugeValue, float64(count), string(typ))
	}
}
