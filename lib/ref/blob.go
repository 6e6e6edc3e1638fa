// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const blobPrefix = "blob-"

// Blob identifies a staged blob transfer. Unlike sessions and
// resources, blob IDs are random: a staged blob is consumed exactly
// once by the client that uploaded it.
type Blob struct {
	id uuid.UUID
}

// NewBlob allocates a fresh random blob ID.
func NewBlob() Blob {
	return Blob{id: uuid.New()}
}

// ParseBlob parses the canonical "blob-<uuid>" text form.
func ParseBlob(raw string) (Blob, error) {
	if !strings.HasPrefix(raw, blobPrefix) {
		return Blob{}, fmt.Errorf("blob ID must start with %q: %q", blobPrefix, raw)
	}
	parsed, err := uuid.Parse(raw[len(blobPrefix):])
	if err != nil {
		return Blob{}, fmt.Errorf("invalid blob ID %q: %w", raw, err)
	}
	if parsed == uuid.Nil {
		return Blob{}, fmt.Errorf("blob ID must not be the nil UUID")
	}
	return Blob{id: parsed}, nil
}

// IsZero reports whether the Blob is the zero value.
func (b Blob) IsZero() bool { return b.id == uuid.Nil }

// String returns the canonical text form.
func (b Blob) String() string {
	if b.IsZero() {
		return ""
	}
	return blobPrefix + b.id.String()
}

// MarshalText implements encoding.TextMarshaler.
func (b Blob) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (b *Blob) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*b = Blob{}
		return nil
	}
	parsed, err := ParseBlob(string(data))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
