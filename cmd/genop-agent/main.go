// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// genop-agent runs a genop agent: it owns the resource registry and
// the session table on one machine and executes operations for local
// and remote clients over a Unix or TCP socket.
//
// Usage:
//
//	genop-agent [--config path] [--endpoint addr] [--log-level level]
//	genop-agent keygen <private-key-path>
//	genop-agent token --key <private-key-path> --subject <name> [--ttl 1h] --out <path>
//	genop-agent status [--endpoint addr]
//
// Without --config the configuration comes from the file named by
// GENOP_CONFIG, or the built-in defaults when that is unset.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/genop/lib/agent"
	"github.com/bureau-foundation/genop/lib/config"
	"github.com/bureau-foundation/genop/lib/process"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "keygen":
			return runKeygen(args[1:], stdout)
		case "token":
			return runToken(args[1:], stdout)
		case "status":
			return runStatus(args[1:], stdout)
		}
	}
	return runAgent(args)
}

func runAgent(args []string) error {
	var (
		configPath  string
		endpoint    string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("genop-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML or JSONC configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&endpoint, "endpoint", "", "listen address, overriding the configuration (unix:///path or tcp://host:port)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level, overriding the configuration (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("genop-agent")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := service.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := service.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance, err := agent.New(cfg, agent.Options{Logger: logger})
	if err != nil {
		return err
	}
	logger.Info("genop agent starting",
		"version", version.Info(),
		"endpoint", cfg.Endpoint,
		"workers", cfg.Workers,
		"max_sessions", cfg.MaxSessions,
	)
	if err := instance.Run(ctx); err != nil {
		return err
	}
	logger.Info("genop agent stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvironmentVariable) == "" {
		return config.Default(), nil
	}
	return config.Load()
}
