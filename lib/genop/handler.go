// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package genop

import (
	"context"

	"github.com/bureau-foundation/genop/lib/profile"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
)

// Backend status codes the dispatcher assigns itself. Backends use
// positive codes of their own.
const (
	// CodeContractViolation reports a handler whose outcome
	// contradicted its signature.
	CodeContractViolation = -1

	// CodePanic reports a handler that panicked.
	CodePanic = -2

	// CodeUnclassified wraps a plain error returned by a handler.
	CodeUnclassified = 1
)

// Handler executes one operation kind. Handlers never touch session
// or registry bookkeeping: the dispatcher acquires inputs, registers
// outputs, and releases everything.
type Handler interface {
	Signature() Signature

	// Execute runs the operation. The context is detached from the
	// caller's cancellation. Errors of type *fault.Error are returned
	// to the caller unchanged; any other error becomes a
	// BackendError with CodeUnclassified.
	Execute(ctx context.Context, call *Call) (*Outcome, error)
}

// Func adapts a function to the Handler interface.
func Func(signature Signature, execute func(ctx context.Context, call *Call) (*Outcome, error)) Handler {
	return funcHandler{signature: signature, execute: execute}
}

type funcHandler struct {
	signature Signature
	execute   func(ctx context.Context, call *Call) (*Outcome, error)
}

func (h funcHandler) Signature() Signature { return h.signature }

func (h funcHandler) Execute(ctx context.Context, call *Call) (*Outcome, error) {
	return h.execute(ctx, call)
}

// Call is a validated operation invocation.
type Call struct {
	Session   ref.Session
	Operation OperationKind

	// Args holds one value per declared argument, in declaration
	// order. Omitted optional arguments are zero.
	Args []Value

	// Resources holds the acquired inputs in request order.
	Resources []registry.Handle

	signature Signature
}

// Arg returns the named argument, and false when it was omitted or is
// not declared.
func (c *Call) Arg(name string) (Value, bool) {
	for index, spec := range c.signature.Args {
		if spec.Name == name {
			value := c.Args[index]
			return value, !value.IsZero()
		}
	}
	return Value{}, false
}

// Int returns the named int argument, or fallback when omitted.
func (c *Call) Int(name string, fallback int64) int64 {
	if value, ok := c.Arg(name); ok {
		return value.Int
	}
	return fallback
}

// Float returns the named float argument, or fallback when omitted.
func (c *Call) Float(name string, fallback float64) float64 {
	if value, ok := c.Arg(name); ok {
		return value.AsFloat()
	}
	return fallback
}

// Text returns the named string argument, or fallback when omitted.
func (c *Call) Text(name string, fallback string) string {
	if value, ok := c.Arg(name); ok {
		return value.Text
	}
	return fallback
}

// Bytes returns the named bytes argument, or nil when omitted.
func (c *Call) Bytes(name string) []byte {
	value, _ := c.Arg(name)
	return value.Bytes
}

// Bool returns the named bool argument, or fallback when omitted.
func (c *Call) Bool(name string, fallback bool) bool {
	if value, ok := c.Arg(name); ok {
		return value.Bool
	}
	return fallback
}

// Ints returns the named ints argument, or nil when omitted.
func (c *Call) Ints(name string) []int64 {
	value, _ := c.Arg(name)
	return value.Ints
}

// Floats returns the named floats argument, or nil when omitted.
func (c *Call) Floats(name string) []float64 {
	value, _ := c.Arg(name)
	return value.Floats
}

// Produced is a resource created by an operation, registered by the
// dispatcher under the calling session.
type Produced struct {
	Type    registry.Type
	Payload any
}

// Outcome is what a handler returns.
type Outcome struct {
	Values    []Value
	Resources []Produced

	// Counters are backend-reported profiling counters, attached to
	// the result when the session has profiling enabled.
	Counters map[string]float64
}

// Request is one dispatch request.
type Request struct {
	Session   ref.Session    `cbor:"session"`
	Operation OperationKind  `cbor:"operation"`
	Args      []Value        `cbor:"args,omitempty"`
	Resources []ref.Resource `cbor:"resources,omitempty"`
}

// Result is a successful operation's output. Values follow the
// declared output order and Resources the declared produced order.
type Result struct {
	Values    []Value         `cbor:"values,omitempty"`
	Resources []ref.Resource  `cbor:"resources,omitempty"`
	Profile   *profile.Record `cbor:"profile,omitempty"`
}
