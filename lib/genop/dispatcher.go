// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package genop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/profile"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/session"
)

// Sessions is the slice of the session table the dispatcher uses.
type Sessions interface {
	Begin(id ref.Session) (func(), error)
	Options(id ref.Session) (session.Options, error)
	Attach(id ref.Session, resource ref.Resource) error
	Detach(id ref.Session, resource ref.Resource) (bool, error)
}

// Resources is the slice of the resource registry the dispatcher
// uses.
type Resources interface {
	AcquireFor(session ref.Session, id ref.Resource, want registry.Type) (registry.Handle, error)
	Release(id ref.Resource) error
	Register(owner ref.Session, typ registry.Type, payload any) (ref.Resource, error)
	Drop(session ref.Session, id ref.Resource) error
	Discard(typ registry.Type, payload any)
}

// Blobs resolves staged blob references. Take consumes the blob.
type Blobs interface {
	Take(session ref.Session, id ref.Blob) ([]byte, error)
}

// Executor runs handler jobs off the caller's goroutine.
// workerpool.Pool implements it.
type Executor interface {
	Submit(ctx context.Context, job func()) error
}

// Observer is told how every dispatch ended. outcome is "ok" or the
// fault kind's wire code.
type Observer interface {
	OperationCompleted(operation OperationKind, outcome string, elapsed time.Duration)
}

// Config holds the dispatcher's collaborators. Sessions and
// Resources are required. A nil Executor runs handlers on the
// caller's goroutine. A nil Blobs rejects blob arguments.
type Config struct {
	Sessions  Sessions
	Resources Resources
	Blobs     Blobs
	Executor  Executor
	Profiler  *profile.Collector
	Observer  Observer
	Logger    *slog.Logger
	Clock     clock.Clock
}

// Dispatcher routes operation requests to registered handlers.
type Dispatcher struct {
	config Config
	logger *slog.Logger
	clock  clock.Clock

	mu       sync.RWMutex
	handlers map[OperationKind]Handler
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher(config Config) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Profiler == nil {
		config.Profiler = profile.NewCollector(config.Clock, nil)
	}
	return &Dispatcher{
		config:   config,
		logger:   config.Logger,
		clock:    config.Clock,
		handlers: make(map[OperationKind]Handler),
	}
}

// Register adds a handler under its signature's operation kind. Each
// kind may be registered once.
func (d *Dispatcher) Register(handler Handler) error {
	signature := handler.Signature()
	if err := signature.Validate(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[signature.Kind]; exists {
		return fmt.Errorf("operation %q is already registered", signature.Kind)
	}
	d.handlers[signature.Kind] = handler
	return nil
}

// Handler returns the handler registered for kind.
func (d *Dispatcher) Handler(kind OperationKind) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[kind]
	return handler, ok
}

// Describe returns every registered signature, sorted by kind.
func (d *Dispatcher) Describe() []Signature {
	d.mu.RLock()
	signatures := make([]Signature, 0, len(d.handlers))
	for _, handler := range d.handlers {
		signatures = append(signatures, handler.Signature())
	}
	d.mu.RUnlock()
	sort.Slice(signatures, func(i, j int) bool { return signatures[i].Kind < signatures[j].Kind })
	return signatures
}

// Kinds returns the registered operation kinds, sorted.
func (d *Dispatcher) Kinds() []OperationKind {
	signatures := d.Describe()
	kinds := make([]OperationKind, len(signatures))
	for index, signature := range signatures {
		kinds[index] = signature.Kind
	}
	return kinds
}

// Dispatch validates a request, runs its handler, and returns the
// result. Every failure is a *fault.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, request Request) (result *Result, err error) {
	started := d.clock.Now()
	defer func() {
		if d.config.Observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = fault.KindOf(err).Code()
		}
		d.config.Observer.OperationCompleted(request.Operation, outcome, d.clock.Now().Sub(started))
	}()

	done, err := d.config.Sessions.Begin(request.Session)
	if err != nil {
		return nil, d.rejected(request, err)
	}
	submitted := false
	defer func() {
		if !submitted {
			done()
		}
	}()

	options, err := d.config.Sessions.Options(request.Session)
	if err != nil {
		return nil, d.rejected(request, err)
	}
	handler, ok := d.Handler(request.Operation)
	if !ok {
		return nil, d.rejected(request, fault.New(fault.UnsupportedOperation, "no handler for operation %q", request.Operation))
	}
	signature := handler.Signature()
	args, err := signature.bindArgs(request.Args)
	if err != nil {
		return nil, d.rejected(request, err)
	}
	types, err := signature.resourceTypes(len(request.Resources))
	if err != nil {
		return nil, d.rejected(request, err)
	}
	handles, err := d.acquireAll(request.Session, request.Resources, types)
	if err != nil {
		return nil, d.rejected(request, err)
	}
	if err := d.resolveBlobs(request.Session, args); err != nil {
		d.releaseAll(handles)
		return nil, d.rejected(request, err)
	}

	call := &Call{
		Session:   request.Session,
		Operation: request.Operation,
		Args:      args,
		Resources: handles,
		signature: signature,
	}
	timer := d.config.Profiler.Start(string(request.Operation), options.Profiling)
	waiter := newPending()
	job := func() {
		defer done()
		d.run(context.WithoutCancel(ctx), handler, call, timer, waiter)
	}

	if d.config.Executor == nil {
		submitted = true
		job()
	} else if err := d.config.Executor.Submit(ctx, job); err != nil {
		d.releaseAll(handles)
		if ctx.Err() != nil {
			return nil, fault.New(fault.Cancelled, "%s: cancelled while waiting for a worker", request.Operation)
		}
		return nil, fault.New(fault.TransportError, "%s: submitting to worker pool: %v", request.Operation, err)
	} else {
		submitted = true
	}
	return waiter.wait(ctx, request.Operation)
}

// rejected logs a validation failure and returns it.
func (d *Dispatcher) rejected(request Request, err error) error {
	d.logger.Debug("dispatch rejected",
		"session", request.Session,
		"operation", request.Operation,
		"error", err,
	)
	return err
}

// acquireAll acquires every reference in order. On failure everything
// already acquired is released, leaving refcounts as they were.
func (d *Dispatcher) acquireAll(session ref.Session, ids []ref.Resource, types []registry.Type) ([]registry.Handle, error) {
	handles := make([]registry.Handle, 0, len(ids))
	for index, id := range ids {
		handle, err := d.config.Resources.AcquireFor(session, id, types[index])
		if err != nil {
			d.releaseAll(handles)
			return nil, fmt.Errorf("resource %d: %w", index, err)
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func (d *Dispatcher) releaseAll(handles []registry.Handle) {
	for _, handle := range handles {
		if err := d.config.Resources.Release(handle.ID); err != nil {
			d.logger.Error("releasing acquired resource", "resource", handle.ID, "error", err)
			panic(fmt.Sprintf("genop: acquired %s could not be released: %v", handle.ID, err))
		}
	}
}

// resolveBlobs replaces blob references with their staged bytes.
func (d *Dispatcher) resolveBlobs(session ref.Session, args []Value) error {
	for index, value := range args {
		if value.Kind != KindBlob {
			continue
		}
		if d.config.Blobs == nil {
			return fault.New(fault.InvalidArgument, "argument %d: blob references are not supported", index)
		}
		data, err := d.config.Blobs.Take(session, *value.Blob)
		if err != nil {
			return fmt.Errorf("argument %d: %w", index, err)
		}
		args[index] = Bytes(data)
	}
	return nil
}

// run executes the handler on a worker and hands the result to the
// waiting caller, or rolls it back if the caller has gone.
func (d *Dispatcher) run(ctx context.Context, handler Handler, call *Call, timer *profile.Timer, waiter *pending) {
	timer.Executing()
	outcome, err := d.invoke(ctx, handler, call)
	timer.Executed()
	d.releaseAll(call.Resources)

	if err != nil {
		var classified *fault.Error
		if !errors.As(err, &classified) {
			err = fault.Backend(CodeUnclassified, err.Error())
		}
		d.logger.Warn("operation failed",
			"session", call.Session,
			"operation", call.Operation,
			"error", err,
		)
		waiter.deliver(nil, err)
		return
	}

	if err := call.signature.checkOutcome(outcome); err != nil {
		d.discard(outcome.Resources)
		d.logger.Error("handler violated its signature", "operation", call.Operation, "error", err)
		waiter.deliver(nil, fault.Backend(CodeContractViolation, err.Error()))
		return
	}

	ids, err := d.adopt(call.Session, outcome.Resources)
	if err != nil {
		waiter.deliver(nil, err)
		return
	}
	result := &Result{
		Values:    outcome.Values,
		Resources: ids,
		Profile:   timer.Stop(outcome.Counters),
	}
	if !waiter.deliver(result, nil) {
		d.logger.Info("caller abandoned operation, releasing its outputs",
			"session", call.Session,
			"operation", call.Operation,
			"resources", len(ids),
		)
		d.disown(call.Session, ids)
	}
}

// invoke calls the handler, converting a panic into a BackendError.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, call *Call) (outcome *Outcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("handler panicked",
				"operation", call.Operation,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			outcome, err = nil, fault.Backend(CodePanic, fmt.Sprintf("handler panicked: %v", recovered))
		}
	}()
	outcome, err = handler.Execute(ctx, call)
	if err == nil && outcome == nil {
		outcome = &Outcome{}
	}
	return outcome, err
}

// adopt registers produced resources under session and attaches them.
// On any failure every produced resource is destroyed.
func (d *Dispatcher) adopt(session ref.Session, produced []Produced) ([]ref.Resource, error) {
	if len(produced) == 0 {
		return nil, nil
	}
	ids := make([]ref.Resource, 0, len(produced))
	for index, item := range produced {
		id, err := d.config.Resources.Register(session, item.Type, item.Payload)
		if err != nil {
			d.disown(session, ids)
			d.discard(produced[index:])
			if fault.KindOf(err) == fault.InvalidPayload {
				return nil, fault.Backend(CodeContractViolation, fmt.Sprintf("produced resource %d: %v", index, err))
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := d.config.Sessions.Attach(session, id); err != nil {
			d.disown(session, ids)
			return nil, err
		}
	}
	return ids, nil
}

// disown drops session's holding on resources it was about to
// receive.
func (d *Dispatcher) disown(session ref.Session, ids []ref.Resource) {
	for _, id := range ids {
		d.config.Sessions.Detach(session, id)
		if err := d.config.Resources.Drop(session, id); err != nil {
			d.logger.Debug("dropping produced resource", "session", session, "resource", id, "error", err)
		}
	}
}

func (d *Dispatcher) discard(produced []Produced) {
	for _, item := range produced {
		d.config.Resources.Discard(item.Type, item.Payload)
	}
}

// pending hands one result from a worker to the dispatching caller.
// Exactly one of deliver and abandonment wins.
type pending struct {
	mu        sync.Mutex
	abandoned bool
	delivered bool
	result    *Result
	err       error
	ready     chan struct{}
}

func newPending() *pending {
	return &pending{ready: make(chan struct{})}
}

// deliver publishes the outcome. Returns false when the caller has
// already abandoned the operation.
func (p *pending) deliver(result *Result, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.result, p.err = result, err
	p.delivered = true
	close(p.ready)
	return true
}

func (p *pending) wait(ctx context.Context, operation OperationKind) (*Result, error) {
	select {
	case <-p.ready:
		return p.result, p.err
	case <-ctx.Done():
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delivered {
		return p.result, p.err
	}
	p.abandoned = true
	return nil, fault.New(fault.Cancelled, "%s: %v", operation, ctx.Err())
}
