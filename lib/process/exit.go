// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/genop/lib/fault"
)

// Exit statuses beyond the generic failure.
const (
	// ExitUsage is returned for configuration and argument errors.
	ExitUsage = 2

	// ExitUnavailable is returned when the agent socket cannot be
	// reached or bound.
	ExitUnavailable = 69
)

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	return ExitCode(err)
}

// ExitCode maps an error to a process exit status. Errors may choose
// their own status by implementing ExitCode() int.
func ExitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	switch fault.KindOf(err) {
	case fault.InvalidArgument:
		return ExitUsage
	case fault.TransportError:
		return ExitUnavailable
	default:
		return 1
	}
}
