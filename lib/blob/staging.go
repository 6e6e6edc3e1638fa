// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

// StagingConfig configures a Staging area.
type StagingConfig struct {
	// MaxBytes caps the bytes staged across all sessions. Zero means
	// no cap.
	MaxBytes int64

	// TTL is how long an unconsumed blob is kept. Zero keeps blobs
	// until consumed or their session closes.
	TTL time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Staging holds uploaded blobs until an operation consumes them.
type Staging struct {
	config StagingConfig
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	blobs map[ref.Blob]*staged
	bytes int64
}

type staged struct {
	owner   ref.Session
	data    []byte
	expires time.Time
}

// NewStaging creates an empty staging area.
func NewStaging(config StagingConfig) *Staging {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Staging{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		blobs:  make(map[ref.Blob]*staged),
	}
}

// Put stages data under id for owner. Fails with InvalidPayload when
// the agent-wide cap would be exceeded, and BlobCorrupt when id is
// already staged.
func (s *Staging) Put(owner ref.Session, id ref.Blob, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[id]; exists {
		return fault.New(fault.BlobCorrupt, "%s is already staged", id)
	}
	size := int64(len(data))
	if s.config.MaxBytes > 0 && s.bytes+size > s.config.MaxBytes {
		return fault.New(fault.InvalidPayload, "staging %s (%d bytes) would exceed the %d byte staging limit", id, size, s.config.MaxBytes)
	}
	entry := &staged{owner: owner, data: data}
	if s.config.TTL > 0 {
		entry.expires = s.clock.Now().Add(s.config.TTL)
	}
	s.blobs[id] = entry
	s.bytes += size
	return nil
}

// Take removes and returns a blob staged by owner. A blob that was
// never fully uploaded, expired, or belongs to another session fails
// with BlobIncomplete.
func (s *Staging) Take(owner ref.Session, id ref.Blob) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.blobs[id]
	if !ok || entry.owner != owner {
		return nil, fault.New(fault.BlobIncomplete, "%s is not staged for %s", id, owner)
	}
	delete(s.blobs, id)
	s.bytes -= int64(len(entry.data))
	return entry.data, nil
}

// DiscardSession drops every blob staged by owner and returns how
// many were dropped.
func (s *Staging) DiscardSession(owner ref.Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, entry := range s.blobs {
		if entry.owner == owner {
			delete(s.blobs, id)
			s.bytes -= int64(len(entry.data))
			dropped++
		}
	}
	return dropped
}

// Sweep drops blobs whose TTL has passed at now.
func (s *Staging) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, entry := range s.blobs {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(s.blobs, id)
			s.bytes -= int64(len(entry.data))
			dropped++
			s.logger.Debug("staged blob expired", "blob", id, "session", entry.owner)
		}
	}
	return dropped
}

// Bytes returns the total staged bytes.
func (s *Staging) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Len returns the number of staged blobs.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
