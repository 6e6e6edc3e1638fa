// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

const shardCount = 16

// Close reasons passed to observers and close hooks.
const (
	ReasonClosed   = "closed"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// Releaser gives up a session's holding on a resource. The resource
// registry implements it.
type Releaser interface {
	Drop(session ref.Session, id ref.Resource) error
}

// Observer receives session lifecycle notifications.
type Observer interface {
	SessionOpened()
	SessionClosed(reason string)
}

// Config configures a Manager.
type Config struct {
	// MaxSessions caps concurrently open sessions. Zero means no cap.
	MaxSessions int

	// GracePeriod is how long a session may sit idle with nothing in
	// flight before Reap closes it. Zero disables reaping.
	GracePeriod time.Duration

	Releaser Releaser
	Observer Observer
	Logger   *slog.Logger
	Clock    clock.Clock

	// OnClose runs after a session's holdings have been dropped.
	OnClose func(id ref.Session, reason string)
}

// Options are fixed when a session opens.
type Options struct {
	// Profiling attaches a profiling record to every operation
	// result of the session.
	Profiling bool `cbor:"profiling"`

	// Label is a free-form client-supplied name for logs and status.
	Label string `cbor:"label,omitempty"`

	// Subject is the authenticated identity that opened the session,
	// empty when the agent runs without authentication.
	Subject string `cbor:"subject,omitempty"`
}

// Info is a point-in-time description of a session.
type Info struct {
	ID         ref.Session    `cbor:"id"`
	Options    Options        `cbor:"options"`
	Created    time.Time      `cbor:"created"`
	LastActive time.Time      `cbor:"last_active"`
	InFlight   int            `cbor:"in_flight"`
	Holdings   []ref.Resource `cbor:"holdings,omitempty"`
}

// Manager owns the set of live sessions.
type Manager struct {
	config Config
	logger *slog.Logger
	clock  clock.Clock

	nextID atomic.Uint64
	open   atomic.Int64

	shards [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	sessions map[ref.Session]*entry
}

type entry struct {
	id      ref.Session
	options Options
	created time.Time

	mu         sync.Mutex
	closed     bool
	lastActive time.Time
	inFlight   int
	holdings   map[ref.Resource]struct{}
}

// NewManager creates an empty session table.
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	manager := &Manager{config: config, logger: config.Logger, clock: config.Clock}
	for index := range manager.shards {
		manager.shards[index].sessions = make(map[ref.Session]*entry)
	}
	return manager
}

func (m *Manager) shardFor(id ref.Session) *shard {
	return &m.shards[id.Uint64()%shardCount]
}

func unknown(id ref.Session) error {
	return fault.New(fault.UnknownSession, "%s is not open", id)
}

// lookup returns the live entry for id, or nil.
func (m *Manager) lookup(id ref.Session) *entry {
	shard := m.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.sessions[id]
}

// Open creates a session with an empty holdings set.
func (m *Manager) Open(options Options) (ref.Session, error) {
	if limit := int64(m.config.MaxSessions); limit > 0 {
		if m.open.Add(1) > limit {
			m.open.Add(-1)
			return ref.Session{}, fault.New(fault.TooManySessions, "agent already has %d open sessions", limit)
		}
	} else {
		m.open.Add(1)
	}

	id, err := ref.NewSession(m.nextID.Add(1))
	if err != nil {
		m.open.Add(-1)
		return ref.Session{}, err
	}
	now := m.clock.Now()
	created := &entry{
		id:         id,
		options:    options,
		created:    now,
		lastActive: now,
		holdings:   make(map[ref.Resource]struct{}),
	}
	shard := m.shardFor(id)
	shard.mu.Lock()
	shard.sessions[id] = created
	shard.mu.Unlock()

	if m.config.Observer != nil {
		m.config.Observer.SessionOpened()
	}
	m.logger.Info("session opened", "session", id, "label", options.Label, "subject", options.Subject, "profiling", options.Profiling)
	return id, nil
}

// Validate fails with UnknownSession unless id is open.
func (m *Manager) Validate(id ref.Session) error {
	if m.lookup(id) == nil {
		return unknown(id)
	}
	return nil
}

// Options returns the options a session was opened with.
func (m *Manager) Options(id ref.Session) (Options, error) {
	found := m.lookup(id)
	if found == nil {
		return Options{}, unknown(id)
	}
	return found.options, nil
}

// Touch records activity on a session, resetting its idle timer.
func (m *Manager) Touch(id ref.Session) error {
	found := m.lookup(id)
	if found == nil {
		return unknown(id)
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	if found.closed {
		return unknown(id)
	}
	found.lastActive = m.clock.Now()
	return nil
}

// Begin marks an operation in flight on a session. The session cannot
// be reaped until the returned function is called. Explicit Close is
// still allowed.
func (m *Manager) Begin(id ref.Session) (func(), error) {
	found := m.lookup(id)
	if found == nil {
		return nil, unknown(id)
	}
	found.mu.Lock()
	if found.closed {
		found.mu.Unlock()
		return nil, unknown(id)
	}
	found.inFlight++
	found.lastActive = m.clock.Now()
	found.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			found.mu.Lock()
			found.inFlight--
			found.lastActive = m.clock.Now()
			found.mu.Unlock()
		})
	}, nil
}

// Attach records that a session holds a resource. Fails with
// UnknownSession when the session has closed, in which case the
// caller must give the holding back itself.
func (m *Manager) Attach(id ref.Session, resource ref.Resource) error {
	found := m.lookup(id)
	if found == nil {
		return unknown(id)
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	if found.closed {
		return unknown(id)
	}
	found.holdings[resource] = struct{}{}
	return nil
}

// Detach forgets a holding. Returns false when the session did not
// hold the resource.
func (m *Manager) Detach(id ref.Session, resource ref.Resource) (bool, error) {
	found := m.lookup(id)
	if found == nil {
		return false, unknown(id)
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	if found.closed {
		return false, unknown(id)
	}
	_, held := found.holdings[resource]
	delete(found.holdings, resource)
	return held, nil
}

// Holds reports whether an open session holds a resource.
func (m *Manager) Holds(id ref.Session, resource ref.Resource) bool {
	found := m.lookup(id)
	if found == nil {
		return false
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	_, held := found.holdings[resource]
	return !found.closed && held
}

// Info describes an open session.
func (m *Manager) Info(id ref.Session) (Info, error) {
	found := m.lookup(id)
	if found == nil {
		return Info{}, unknown(id)
	}
	found.mu.Lock()
	defer found.mu.Unlock()
	info := Info{
		ID:         found.id,
		Options:    found.options,
		Created:    found.created,
		LastActive: found.lastActive,
		InFlight:   found.inFlight,
	}
	for resource := range found.holdings {
		info.Holdings = append(info.Holdings, resource)
	}
	sort.Slice(info.Holdings, func(i, j int) bool {
		return info.Holdings[i].Uint64() < info.Holdings[j].Uint64()
	})
	return info, nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int { return int(m.open.Load()) }

// List returns the IDs of every open session in ascending order.
func (m *Manager) List() []ref.Session {
	var ids []ref.Session
	for index := range m.shards {
		shard := &m.shards[index]
		shard.mu.RLock()
		for id := range shard.sessions {
			ids = append(ids, id)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Uint64() < ids[j].Uint64() })
	return ids
}

// Close ends a session and drops every resource it holds. A second
// Close of the same ID fails with UnknownSession.
func (m *Manager) Close(id ref.Session) error {
	return m.closeIf(id, ReasonClosed, nil)
}

// closeIf removes a session when approve (if non-nil) accepts it, then
// tears it down. The check, the closed flag, and the removal happen
// under the shard and session locks so that Begin and Attach cannot
// slip in between.
func (m *Manager) closeIf(id ref.Session, reason string, approve func(*entry) bool) error {
	shard := m.shardFor(id)
	shard.mu.Lock()
	found, ok := shard.sessions[id]
	if !ok {
		shard.mu.Unlock()
		return unknown(id)
	}
	found.mu.Lock()
	if approve != nil && !approve(found) {
		found.mu.Unlock()
		shard.mu.Unlock()
		return unknown(id)
	}
	found.closed = true
	holdings := found.holdings
	found.holdings = nil
	found.mu.Unlock()
	delete(shard.sessions, id)
	shard.mu.Unlock()

	m.open.Add(-1)
	m.teardown(found, holdings, reason)
	return nil
}

func (m *Manager) teardown(found *entry, holdings map[ref.Resource]struct{}, reason string) {
	if m.config.Releaser != nil {
		for resource := range holdings {
			if err := m.config.Releaser.Drop(found.id, resource); err != nil {
				// Resources can already be gone when an operation
				// released the last reference directly.
				m.logger.Debug("dropping session holding", "session", found.id, "resource", resource, "error", err)
			}
		}
	}
	if m.config.OnClose != nil {
		m.config.OnClose(found.id, reason)
	}
	if m.config.Observer != nil {
		m.config.Observer.SessionClosed(reason)
	}
	m.logger.Info("session closed", "session", found.id, "reason", reason, "resources_dropped", len(holdings))
}

// Reap closes every session idle for at least the grace period at
// now with nothing in flight, and returns their IDs. A zero grace
// period disables reaping.
func (m *Manager) Reap(now time.Time) []ref.Session {
	grace := m.config.GracePeriod
	if grace <= 0 {
		return nil
	}
	idle := func(candidate *entry) bool {
		return candidate.inFlight == 0 && now.Sub(candidate.lastActive) >= grace
	}

	var reaped []ref.Session
	for _, id := range m.List() {
		if err := m.closeIf(id, ReasonIdle, idle); err == nil {
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// CloseAll closes every open session. Used at agent shutdown.
func (m *Manager) CloseAll() int {
	closed := 0
	for _, id := range m.List() {
		if m.closeIf(id, ReasonShutdown, nil) == nil {
			closed++
		}
	}
	return closed
}
