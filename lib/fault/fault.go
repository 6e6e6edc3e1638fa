// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error vocabulary shared by every layer of
// the agent and by the client façade.
//
// Each failure belongs to exactly one [Kind]. The kind is what crosses
// the transport: the agent writes Kind.Code() into the response
// envelope and the client reconstructs an *Error of the same kind, so
// callers on either side of the socket test errors the same way:
//
//	if errors.Is(err, fault.ErrUnknownSession) { ... }
//
// Validation kinds (session, resource, type, argument, unsupported
// operation) indicate a caller contract violation and are never
// retried. BackendError carries the backend's own status code and
// message verbatim.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	// Unclassified is the kind of any error that did not originate
	// as an *Error (I/O failures, encoding bugs).
	Unclassified Kind = iota
	UnknownSession
	TooManySessions
	UnknownResource
	DoubleRelease
	InvalidPayload
	TypeNotShareable
	ResourceTypeMismatch
	UnsupportedOperation
	InvalidArgument
	BackendError
	BlobIncomplete
	BlobCorrupt
	TransportError
	// Cancelled reports that the caller stopped waiting for an
	// operation. The operation itself may still run to completion.
	Cancelled
)

var kindCodes = [...]string{
	Unclassified:         "unclassified",
	UnknownSession:       "unknown_session",
	TooManySessions:      "too_many_sessions",
	UnknownResource:      "unknown_resource",
	DoubleRelease:        "double_release",
	InvalidPayload:       "invalid_payload",
	TypeNotShareable:     "type_not_shareable",
	ResourceTypeMismatch: "resource_type_mismatch",
	UnsupportedOperation: "unsupported_operation",
	InvalidArgument:      "invalid_argument",
	BackendError:         "backend_error",
	BlobIncomplete:       "blob_incomplete",
	BlobCorrupt:          "blob_corrupt",
	TransportError:       "transport_error",
	Cancelled:            "cancelled",
}

// Code returns the wire code for the kind (snake_case).
func (k Kind) Code() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return fmt.Sprintf("kind_%d", k)
}

// String returns the wire code.
func (k Kind) String() string { return k.Code() }

// ParseKind maps a wire code back to a Kind. Unrecognized codes map
// to Unclassified so that a newer agent never breaks an older client.
func ParseKind(code string) Kind {
	for kind, candidate := range kindCodes {
		if candidate == code {
			return Kind(kind)
		}
	}
	return Unclassified
}

// Error is a classified failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the human-readable detail. Never includes payload
	// bytes.
	Message string

	// Code is the backend status code for BackendError. Zero for
	// every other kind.
	Code int
}

func (e *Error) Error() string {
	if e.Kind == BackendError {
		return fmt.Sprintf("%s (code %d): %s", e.Kind.Code(), e.Code, e.Message)
	}
	if e.Message == "" {
		return e.Kind.Code()
	}
	return e.Kind.Code() + ": " + e.Message
}

// Is matches any *Error of the same kind, so the Err* sentinels below
// work with errors.Is regardless of message or code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinels for errors.Is. Never returned directly; New produces
// errors that match them.
var (
	ErrUnknownSession       = &Error{Kind: UnknownSession}
	ErrTooManySessions      = &Error{Kind: TooManySessions}
	ErrUnknownResource      = &Error{Kind: UnknownResource}
	ErrDoubleRelease        = &Error{Kind: DoubleRelease}
	ErrInvalidPayload       = &Error{Kind: InvalidPayload}
	ErrTypeNotShareable     = &Error{Kind: TypeNotShareable}
	ErrResourceTypeMismatch = &Error{Kind: ResourceTypeMismatch}
	ErrUnsupportedOperation = &Error{Kind: UnsupportedOperation}
	ErrInvalidArgument      = &Error{Kind: InvalidArgument}
	ErrBackend              = &Error{Kind: BackendError}
	ErrBlobIncomplete       = &Error{Kind: BlobIncomplete}
	ErrBlobCorrupt          = &Error{Kind: BlobCorrupt}
	ErrTransport            = &Error{Kind: TransportError}
	ErrCancelled            = &Error{Kind: Cancelled}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Backend returns a BackendError carrying a backend status code.
func Backend(code int, message string) *Error {
	return &Error{Kind: BackendError, Message: message, Code: code}
}

// KindOf returns the kind of the first *Error in err's chain, or
// Unclassified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unclassified
}

// BackendCode returns the backend status code of the first *Error in
// err's chain. Zero when err is not a BackendError.
func BackendCode(err error) int {
	var classified *Error
	if errors.As(err, &classified) && classified.Kind == BackendError {
		return classified.Code
	}
	return 0
}

// IsValidation reports whether err is a caller contract violation
// detected before any backend invocation.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case UnknownSession, UnknownResource, DoubleRelease, InvalidPayload,
		TypeNotShareable, ResourceTypeMismatch, UnsupportedOperation,
		InvalidArgument:
		return true
	default:
		return false
	}
}
