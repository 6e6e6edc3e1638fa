// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strconv"
	"strings"
)

const resourcePrefix = "res-"

// Resource identifies one registered resource (model, shared object,
// image, tensor) on an agent. The zero value means "no resource".
type Resource struct {
	id uint64
}

// NewResource wraps a raw allocation counter value. Zero is rejected.
func NewResource(id uint64) (Resource, error) {
	if id == 0 {
		return Resource{}, fmt.Errorf("resource ID must be non-zero")
	}
	return Resource{id: id}, nil
}

// ParseResource parses the canonical "res-N" text form.
func ParseResource(raw string) (Resource, error) {
	if !strings.HasPrefix(raw, resourcePrefix) {
		return Resource{}, fmt.Errorf("resource ID must start with %q: %q", resourcePrefix, raw)
	}
	value, err := strconv.ParseUint(raw[len(resourcePrefix):], 10, 64)
	if err != nil {
		return Resource{}, fmt.Errorf("invalid resource ID %q: %w", raw, err)
	}
	return NewResource(value)
}

// MustParseResource is like ParseResource but panics on error.
func MustParseResource(raw string) Resource {
	resource, err := ParseResource(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseResource(%q): %v", raw, err))
	}
	return resource
}

// Uint64 returns the raw counter value.
func (r Resource) Uint64() uint64 { return r.id }

// IsZero reports whether the Resource is the zero value.
func (r Resource) IsZero() bool { return r.id == 0 }

// String returns the canonical text form.
func (r Resource) String() string {
	if r.id == 0 {
		return ""
	}
	return resourcePrefix + strconv.FormatUint(r.id, 10)
}

// MarshalText implements encoding.TextMarshaler.
func (r Resource) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (r *Resource) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = Resource{}
		return nil
	}
	parsed, err := ParseResource(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
