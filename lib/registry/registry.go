// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

const shardCount = 32

// Observer receives resource lifecycle notifications. Calls happen
// outside registry locks.
type Observer interface {
	ResourceCreated(Type)
	ResourceDestroyed(Type)
}

// Config holds the registry's collaborators. Zero-valued fields get
// defaults: slog.Default, the real clock, BuiltinTypes, no observer.
type Config struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Observer Observer
	Types    []TypeInfo
}

// Registry is the agent-wide resource table.
type Registry struct {
	logger   *slog.Logger
	clock    clock.Clock
	observer Observer

	typesMu sync.RWMutex
	types   map[Type]TypeInfo

	// nextID is the last allocated resource number. IDs at or below
	// it have been issued at some point.
	nextID atomic.Uint64

	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[ref.Resource]*entry
}

type entry struct {
	id      ref.Resource
	typ     Type
	payload any
	created time.Time

	// owner is the registering session, or zero once the owner has
	// dropped its holding while grantees keep the resource alive.
	owner ref.Session

	// grants holds sessions the resource was shared with.
	grants map[ref.Session]struct{}

	// dropped records sessions that held the resource and gave it up,
	// so a second drop reports DoubleRelease instead of
	// UnknownResource.
	dropped map[ref.Session]struct{}

	refs int64
}

func (e *entry) holds(session ref.Session) bool {
	if session.IsZero() {
		return false
	}
	if e.owner == session {
		return true
	}
	_, granted := e.grants[session]
	return granted
}

// Handle is a resolved resource reference, valid until the matching
// Release.
type Handle struct {
	ID      ref.Resource
	Type    Type
	Payload any
}

// Info is a point-in-time description of one resource.
type Info struct {
	ID       ref.Resource  `cbor:"id"`
	Type     Type          `cbor:"type"`
	Owner    ref.Session   `cbor:"owner,omitempty"`
	Grantees []ref.Session `cbor:"grantees,omitempty"`
	Refs     int64         `cbor:"refs"`
	Size     int64         `cbor:"size"`
	Created  time.Time     `cbor:"created"`
}

// New creates an empty registry.
func New(config Config) *Registry {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Types == nil {
		config.Types = BuiltinTypes(Limits{})
	}
	registry := &Registry{
		logger:   config.Logger,
		clock:    config.Clock,
		observer: config.Observer,
		types:    make(map[Type]TypeInfo, len(config.Types)),
	}
	for index := range registry.shards {
		registry.shards[index].entries = make(map[ref.Resource]*entry)
	}
	for _, info := range config.Types {
		registry.types[info.Type] = info
	}
	return registry
}

// RegisterType adds or replaces a resource type description. Intended
// for agent startup, before sessions exist.
func (r *Registry) RegisterType(info TypeInfo) {
	r.typesMu.Lock()
	r.types[info.Type] = info
	r.typesMu.Unlock()
}

// TypeInfo returns the description of a registered type.
func (r *Registry) TypeInfo(typ Type) (TypeInfo, bool) {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()
	info, ok := r.types[typ]
	return info, ok
}

func (r *Registry) shardFor(id ref.Resource) *shard {
	return &r.shards[id.Uint64()%shardCount]
}

// issued reports whether id was allocated by this registry.
func (r *Registry) issued(id ref.Resource) bool {
	return !id.IsZero() && id.Uint64() <= r.nextID.Load()
}

func (r *Registry) missing(id ref.Resource) error {
	if r.issued(id) {
		return fault.New(fault.DoubleRelease, "%s has already been destroyed", id)
	}
	return fault.New(fault.UnknownResource, "%s does not exist", id)
}

// Register validates payload against typ, stores it with one
// reference held by owner, and returns the new resource's ID.
func (r *Registry) Register(owner ref.Session, typ Type, payload any) (ref.Resource, error) {
	if owner.IsZero() {
		return ref.Resource{}, fault.New(fault.UnknownSession, "resource owner is not set")
	}
	info, ok := r.TypeInfo(typ)
	if !ok {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "unknown resource type %q", typ)
	}
	if payload == nil {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "%s payload is nil", typ)
	}
	if info.Validate != nil {
		if err := info.Validate(payload); err != nil {
			return ref.Resource{}, fault.New(fault.InvalidPayload, "%s payload: %v", typ, err)
		}
	}

	id, err := ref.NewResource(r.nextID.Add(1))
	if err != nil {
		return ref.Resource{}, err
	}
	created := &entry{
		id:      id,
		typ:     typ,
		payload: payload,
		created: r.clock.Now(),
		owner:   owner,
		refs:    1,
	}
	shard := r.shardFor(id)
	shard.mu.Lock()
	shard.entries[id] = created
	shard.mu.Unlock()

	if r.observer != nil {
		r.observer.ResourceCreated(typ)
	}
	r.logger.Debug("resource registered", "resource", id, "type", typ, "session", owner)
	return id, nil
}

// RegisterBytes decodes raw wire bytes with the type's decoder and
// registers the result.
func (r *Registry) RegisterBytes(owner ref.Session, typ Type, raw []byte) (ref.Resource, error) {
	info, ok := r.TypeInfo(typ)
	if !ok {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "unknown resource type %q", typ)
	}
	if info.Decode == nil {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "%s resources cannot be registered from bytes", typ)
	}
	payload, err := info.Decode(raw)
	if err != nil {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "%s payload: %v", typ, err)
	}
	return r.Register(owner, typ, payload)
}

// Acquire takes one reference to a resource for the duration of an
// operation. Every successful Acquire must be matched by one Release.
func (r *Registry) Acquire(id ref.Resource) (Handle, error) {
	return r.acquire(ref.Session{}, id, "")
}

// AcquireFor is Acquire restricted to resources visible to session
// (owned by it or shared with it). A non-empty want must equal the
// stored type tag, otherwise ResourceTypeMismatch is returned and the
// reference count is unchanged.
func (r *Registry) AcquireFor(session ref.Session, id ref.Resource, want Type) (Handle, error) {
	if session.IsZero() {
		return Handle{}, fault.New(fault.UnknownSession, "session is not set")
	}
	return r.acquire(session, id, want)
}

func (r *Registry) acquire(session ref.Session, id ref.Resource, want Type) (Handle, error) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	found, ok := shard.entries[id]
	if !ok || (!session.IsZero() && !found.holds(session)) {
		return Handle{}, fault.New(fault.UnknownResource, "%s does not exist", id)
	}
	if want != "" && found.typ != want {
		return Handle{}, fault.New(fault.ResourceTypeMismatch, "%s is %s, want %s", id, found.typ, want)
	}
	found.refs++
	return Handle{ID: id, Type: found.typ, Payload: found.payload}, nil
}

// Release drops one reference. At zero the type's destructor runs and
// the slot is removed.
func (r *Registry) Release(id ref.Resource) error {
	shard := r.shardFor(id)
	shard.mu.Lock()
	found, ok := shard.entries[id]
	if !ok {
		shard.mu.Unlock()
		return r.missing(id)
	}
	destroyed := r.decrementLocked(shard, found)
	shard.mu.Unlock()

	if destroyed {
		r.destroy(found)
	}
	return nil
}

// Share grants target a holding on a resource that holder can see.
// The grantee contributes one reference; ownership is unchanged.
// Returns false without error when target already holds the resource.
func (r *Registry) Share(holder ref.Session, id ref.Resource, target ref.Session) (bool, error) {
	if target.IsZero() {
		return false, fault.New(fault.UnknownSession, "share target is not set")
	}
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	found, ok := shard.entries[id]
	if !ok || !found.holds(holder) {
		return false, fault.New(fault.UnknownResource, "%s does not exist", id)
	}
	info, _ := r.TypeInfo(found.typ)
	if !info.Shareable {
		return false, fault.New(fault.TypeNotShareable, "%s resources cannot be shared", found.typ)
	}
	if found.holds(target) {
		return false, nil
	}
	if found.grants == nil {
		found.grants = make(map[ref.Session]struct{})
	}
	found.grants[target] = struct{}{}
	delete(found.dropped, target)
	found.refs++
	return true, nil
}

// Drop gives up session's holding on a resource: the owner's or a
// grantee's. Other holders keep the resource alive.
func (r *Registry) Drop(session ref.Session, id ref.Resource) error {
	shard := r.shardFor(id)
	shard.mu.Lock()
	found, ok := shard.entries[id]
	if !ok {
		shard.mu.Unlock()
		return r.missing(id)
	}

	switch {
	case !session.IsZero() && found.owner == session:
		found.owner = ref.Session{}
	case found.holds(session):
		delete(found.grants, session)
	default:
		_, previously := found.dropped[session]
		shard.mu.Unlock()
		if previously {
			return fault.New(fault.DoubleRelease, "%s was already released by %s", id, session)
		}
		return fault.New(fault.UnknownResource, "%s does not exist", id)
	}
	if found.dropped == nil {
		found.dropped = make(map[ref.Session]struct{})
	}
	found.dropped[session] = struct{}{}
	destroyed := r.decrementLocked(shard, found)
	shard.mu.Unlock()

	if destroyed {
		r.destroy(found)
	}
	return nil
}

// decrementLocked drops one reference and removes the slot at zero.
// Returns true when the caller must run the destructor.
func (r *Registry) decrementLocked(shard *shard, found *entry) bool {
	found.refs--
	if found.refs < 0 {
		r.logger.Error("resource refcount underflow", "resource", found.id, "type", found.typ, "refs", found.refs)
		panic(fmt.Sprintf("registry: refcount of %s went negative", found.id))
	}
	if found.refs > 0 {
		return false
	}
	delete(shard.entries, found.id)
	return true
}

func (r *Registry) destroy(found *entry) {
	if err := r.runDestructor(found.typ, found.payload); err != nil {
		r.logger.Warn("resource destructor failed", "resource", found.id, "type", found.typ, "error", err)
	}
	if r.observer != nil {
		r.observer.ResourceDestroyed(found.typ)
	}
	r.logger.Debug("resource destroyed", "resource", found.id, "type", found.typ)
}

func (r *Registry) runDestructor(typ Type, payload any) error {
	info, _ := r.TypeInfo(typ)
	if info.Destroy != nil {
		return info.Destroy(payload)
	}
	if closer, ok := payload.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Discard runs the destructor for a payload that was never
// registered, such as the output of an operation whose result was
// rejected.
func (r *Registry) Discard(typ Type, payload any) {
	if payload == nil {
		return
	}
	if err := r.runDestructor(typ, payload); err != nil {
		r.logger.Warn("discarding unregistered payload", "type", typ, "error", err)
	}
}

// Info describes a resource visible to session. A zero session skips
// the visibility check.
func (r *Registry) Info(session ref.Session, id ref.Resource) (Info, error) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	found, ok := shard.entries[id]
	if !ok || (!session.IsZero() && !found.holds(session)) {
		return Info{}, fault.New(fault.UnknownResource, "%s does not exist", id)
	}
	return r.describeLocked(found), nil
}

func (r *Registry) describeLocked(found *entry) Info {
	info := Info{
		ID:      found.id,
		Type:    found.typ,
		Owner:   found.owner,
		Refs:    found.refs,
		Created: found.created,
	}
	for grantee := range found.grants {
		info.Grantees = append(info.Grantees, grantee)
	}
	sort.Slice(info.Grantees, func(i, j int) bool {
		return info.Grantees[i].Uint64() < info.Grantees[j].Uint64()
	})
	if typeInfo, ok := r.TypeInfo(found.typ); ok && typeInfo.Size != nil {
		info.Size = typeInfo.Size(found.payload)
	}
	return info
}

// Encode renders a resource visible to session as bytes for
// read-back. The payload is pinned by a reference while it encodes.
func (r *Registry) Encode(session ref.Session, id ref.Resource) ([]byte, Type, error) {
	handle, err := r.AcquireFor(session, id, "")
	if err != nil {
		return nil, "", err
	}
	defer r.Release(id)

	info, _ := r.TypeInfo(handle.Type)
	if info.Encode == nil {
		return nil, handle.Type, fault.New(fault.UnsupportedOperation, "%s resources cannot be read back", handle.Type)
	}
	data, err := info.Encode(handle.Payload)
	if err != nil {
		return nil, handle.Type, fault.New(fault.InvalidPayload, "encoding %s: %v", id, err)
	}
	return data, handle.Type, nil
}

// Len returns the number of live resources.
func (r *Registry) Len() int {
	total := 0
	for index := range r.shards {
		shard := &r.shards[index]
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// CountByType returns the number of live resources of each type.
func (r *Registry) CountByType() map[Type]int {
	counts := make(map[Type]int)
	for index := range r.shards {
		shard := &r.shards[index]
		shard.mu.Lock()
		for _, found := range shard.entries {
			counts[found.typ]++
		}
		shard.mu.Unlock()
	}
	return counts
}

// Live describes every live resource, sorted by ID. Used by agent
// teardown to report leaks.
func (r *Registry) Live() []Info {
	var live []Info
	for index := range r.shards {
		shard := &r.shards[index]
		shard.mu.Lock()
		for _, found := range shard.entries {
			live = append(live, r.describeLocked(found))
		}
		shard.mu.Unlock()
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].ID.Uint64() < live[j].ID.Uint64()
	})
	return live
}
