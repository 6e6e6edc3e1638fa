// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/genop/lib/client"
	"github.com/bureau-foundation/genop/lib/config"
)

// statusView is the YAML rendering of a status response.
type statusView struct {
	Version        string         `yaml:"version"`
	Uptime         string         `yaml:"uptime"`
	Sessions       int            `yaml:"sessions"`
	Resources      map[string]int `yaml:"resources,omitempty"`
	Workers        int            `yaml:"workers"`
	WorkersRunning int            `yaml:"workers_running"`
	StagedBlobs    int            `yaml:"staged_blobs"`
	StagedBytes    int64          `yaml:"staged_bytes"`
	Plugins        []string       `yaml:"plugins"`
	Operations     int            `yaml:"operations"`
}

// runStatus queries a running agent and prints its status as YAML.
func runStatus(args []string, stdout io.Writer) error {
	var (
		endpoint string
		timeout  time.Duration
	)
	flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
	flagSet.StringVar(&endpoint, "endpoint", config.Default().Endpoint, "agent address")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the agent")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	c, err := client.New(endpoint, client.Options{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}

	view := statusView{
		Version:        status.Version,
		Uptime:         time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second).String(),
		Sessions:       status.Sessions,
		Workers:        status.Workers,
		WorkersRunning: status.WorkersRunning,
		StagedBlobs:    status.StagedBlobs,
		StagedBytes:    status.StagedBytes,
		Plugins:        status.Plugins,
		Operations:     len(status.Operations),
	}
	if len(status.Resources) > 0 {
		view.Resources = make(map[string]int, len(status.Resources))
		for typ, count := range status.Resources {
			view.Resources[string(typ)] = count
		}
	}
	encoder := yaml.NewEncoder(stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(view); err != nil {
		return err
	}
	return encoder.Close()
}
