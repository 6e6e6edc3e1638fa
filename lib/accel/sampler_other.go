// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package accel

import "log/slog"

// Sampler reports no readings outside Linux.
type Sampler struct{}

func NewSampler(*slog.Logger) *Sampler { return &Sampler{} }

func (s *Sampler) Sample() map[string]float64 { return nil }

func (s *Sampler) Devices() int { return 0 }

func (s *Sampler) Close() {}
