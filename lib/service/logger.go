// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// NewLogger creates the agent logger on stderr: a text handler when
// stderr is a terminal, JSON otherwise. It also becomes the slog
// default so third-party slog calls share the handler.
func NewLogger(level slog.Level) *slog.Logger {
	logger := newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level)
	slog.SetDefault(logger)
	return logger
}

func newLogger(output io.Writer, terminal bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}

// ParseLevel parses "debug", "info", "warn", or "error".
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
