// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the two time operations the agent depends
// on: reading the current time (session idle tracking, staged blob
// expiry, profiling) and periodic ticks (the reaper sweep).
//
// Production code receives [Real]. Tests receive [Fake], whose time
// stands still until Advance is called, so reaping and expiry are
// exercised deterministically without sleeping.
package clock
