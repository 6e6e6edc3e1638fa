// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the boundary between backend handlers and
// the native acceleration plugins that execute work.
//
// A [Plugin] executes named kernels on tensors and, when it supports
// an ML framework, loads serialized models of that framework. Status
// failures are reported as *[Status] values carrying a plugin status
// code; [Fault] converts them into fault.BackendError for the
// dispatcher.
//
// The agent always carries the built-in [CPU] plugin. Further plugins
// are shared objects built with -buildmode=plugin and loaded by
// [Open].
package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Plugin status codes. Plugins may use other positive codes.
const (
	StatusUnsupported  = 2
	StatusInvalidInput = 3
	StatusInternal     = 13
)

// Status is a plugin failure.
type Status struct {
	Code    int
	Message string
}

func (s *Status) Error() string {
	return fmt.Sprintf("plugin status %d: %s", s.Code, s.Message)
}

// Statusf builds a *Status with a formatted message.
func Statusf(code int, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Fault converts a plugin error into the dispatcher's vocabulary:
// *Status becomes a BackendError carrying the same code, *fault.Error
// passes through, and anything else becomes a BackendError with
// StatusInternal.
func Fault(err error) error {
	if err == nil {
		return nil
	}
	var status *Status
	if errors.As(err, &status) {
		return fault.Backend(status.Code, status.Message)
	}
	var classified *fault.Error
	if errors.As(err, &classified) {
		return err
	}
	return fault.Backend(StatusInternal, err.Error())
}

// Invocation is a backend-specific request to run one kernel.
type Invocation struct {
	Kernel string
	Inputs []*tensor.Tensor

	// Params are scalar kernel parameters ("factor", "axis").
	Params map[string]float64
}

// Output is a kernel's or model's result.
type Output struct {
	Tensors  []*tensor.Tensor
	Counters map[string]float64
}

// Source locates a serialized model: either bytes or a filesystem
// path, never both.
type Source struct {
	Data []byte
	Path string
}

// Model is a model loaded by a plugin.
type Model interface {
	Framework() string
	Run(ctx context.Context, inputs []*tensor.Tensor) (*Output, error)
	Close() error
}

// Plugin is a native acceleration plugin.
type Plugin interface {
	Name() string

	// Kernels lists the kernels Execute accepts.
	Kernels() []string

	// Frameworks lists the ML frameworks Load accepts.
	Frameworks() []string

	Execute(ctx context.Context, invocation Invocation) (*Output, error)
	Load(ctx context.Context, framework string, source Source) (Model, error)
}

// Set is the agent's collection of plugins. Lookups return the first
// plugin, in insertion order, that supports the kernel or framework.
type Set struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewSet returns a set holding plugins.
func NewSet(plugins ...Plugin) *Set {
	return &Set{plugins: plugins}
}

// Add appends a plugin. Names must be unique.
func (s *Set) Add(plugin Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.plugins {
		if existing.Name() == plugin.Name() {
			return fmt.Errorf("plugin %q is already loaded", plugin.Name())
		}
	}
	s.plugins = append(s.plugins, plugin)
	return nil
}

// ForKernel returns the plugin executing kernel.
func (s *Set) ForKernel(kernel string) (Plugin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, plugin := range s.plugins {
		if slices.Contains(plugin.Kernels(), kernel) {
			return plugin, true
		}
	}
	return nil, false
}

// ForFramework returns the plugin loading framework's models.
func (s *Set) ForFramework(framework string) (Plugin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, plugin := range s.plugins {
		if slices.Contains(plugin.Frameworks(), framework) {
			return plugin, true
		}
	}
	return nil, false
}

// Execute runs a kernel on the first plugin supporting it.
func (s *Set) Execute(ctx context.Context, invocation Invocation) (*Output, error) {
	plugin, ok := s.ForKernel(invocation.Kernel)
	if !ok {
		return nil, Statusf(StatusUnsupported, "no plugin implements kernel %q", invocation.Kernel)
	}
	return plugin.Execute(ctx, invocation)
}

// Names returns the loaded plugin names in order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.plugins))
	for index, plugin := range s.plugins {
		names[index] = plugin.Name()
	}
	return names
}
