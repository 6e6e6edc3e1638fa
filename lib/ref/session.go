// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strconv"
	"strings"
)

const sessionPrefix = "sess-"

// Session identifies one client session on an agent. The zero value
// is never allocated and means "no session".
type Session struct {
	id uint64
}

// NewSession wraps a raw allocation counter value. Zero is rejected
// because the zero Session is reserved for "unset".
func NewSession(id uint64) (Session, error) {
	if id == 0 {
		return Session{}, fmt.Errorf("session ID must be non-zero")
	}
	return Session{id: id}, nil
}

// ParseSession parses the canonical "sess-N" text form.
func ParseSession(raw string) (Session, error) {
	if !strings.HasPrefix(raw, sessionPrefix) {
		return Session{}, fmt.Errorf("session ID must start with %q: %q", sessionPrefix, raw)
	}
	value, err := strconv.ParseUint(raw[len(sessionPrefix):], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("invalid session ID %q: %w", raw, err)
	}
	return NewSession(value)
}

// MustParseSession is like ParseSession but panics on error. Use in
// tests where the input is known-valid.
func MustParseSession(raw string) Session {
	session, err := ParseSession(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseSession(%q): %v", raw, err))
	}
	return session
}

// Uint64 returns the raw counter value.
func (s Session) Uint64() uint64 { return s.id }

// IsZero reports whether the Session is the zero value.
func (s Session) IsZero() bool { return s.id == 0 }

// String returns the canonical text form.
func (s Session) String() string {
	if s.id == 0 {
		return ""
	}
	return sessionPrefix + strconv.FormatUint(s.id, 10)
}

// MarshalText implements encoding.TextMarshaler.
func (s Session) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (s *Session) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = Session{}
		return nil
	}
	parsed, err := ParseSession(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
