// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile produces per-operation timing records.
//
// A [Collector] hands out a [Timer] per operation when profiling is
// enabled for the session, and nil otherwise. Every Timer method is a
// no-op on a nil receiver, so the dispatch path calls them
// unconditionally and a disabled session pays for one nil check.
// Records are attached to operation results and never stored here.
package profile

import (
	"maps"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
)

// Sampler reports device-level counters (utilization, temperature,
// power) at the moment of the call.
type Sampler interface {
	Sample() map[string]float64
}

// Record is the profiling data for one operation.
type Record struct {
	Operation string    `cbor:"operation"`
	Started   time.Time `cbor:"started"`

	// Wall is the time from dispatch start to completion.
	Wall time.Duration `cbor:"wall_ns"`

	// Queue is the time spent waiting for a worker.
	Queue time.Duration `cbor:"queue_ns"`

	// Execute is the time spent inside the backend handler.
	Execute time.Duration `cbor:"execute_ns"`

	// Counters holds backend-reported counters and, when a sampler is
	// configured, device counters prefixed with "device.".
	Counters map[string]float64 `cbor:"counters,omitempty"`
}

// Collector creates timers.
type Collector struct {
	clock   clock.Clock
	sampler Sampler
}

// NewCollector returns a Collector. A nil sampler disables device
// counters.
func NewCollector(source clock.Clock, sampler Sampler) *Collector {
	if source == nil {
		source = clock.Real()
	}
	return &Collector{clock: source, sampler: sampler}
}

// Start begins timing an operation. Returns nil when enabled is false.
func (c *Collector) Start(operation string, enabled bool) *Timer {
	if c == nil || !enabled {
		return nil
	}
	now := c.clock.Now()
	return &Timer{collector: c, operation: operation, started: now}
}

// Timer accumulates the phases of one operation.
type Timer struct {
	collector *Collector
	operation string
	started   time.Time
	executing time.Time
	executed  time.Time
}

// Executing marks the moment a worker picked up the operation.
func (t *Timer) Executing() {
	if t == nil {
		return
	}
	t.executing = t.collector.clock.Now()
}

// Executed marks the moment the handler returned.
func (t *Timer) Executed() {
	if t == nil {
		return
	}
	t.executed = t.collector.clock.Now()
}

// Stop finishes timing and builds the record. counters are the
// backend-reported counters, possibly nil.
func (t *Timer) Stop(counters map[string]float64) *Record {
	if t == nil {
		return nil
	}
	now := t.collector.clock.Now()
	record := &Record{
		Operation: t.operation,
		Started:   t.started,
		Wall:      now.Sub(t.started),
	}
	if !t.executing.IsZero() {
		record.Queue = t.executing.Sub(t.started)
		if !t.executed.IsZero() {
			record.Execute = t.executed.Sub(t.executing)
		}
	}
	if len(counters) > 0 {
		record.Counters = maps.Clone(counters)
	}
	if t.collector.sampler != nil {
		device := t.collector.sampler.Sample()
		if len(device) > 0 && record.Counters == nil {
			record.Counters = make(map[string]float64, len(device))
		}
		for name, value := range device {
			record.Counters["device."+name] = value
		}
	}
	return record
}
