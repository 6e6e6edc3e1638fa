// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/genop/lib/token"
)

// runKeygen writes a fresh signing keypair. The agent is configured
// with the ".pub" half; the private half mints session tokens.
func runKeygen(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("usage: genop-agent keygen <private-key-path>")
	}
	privatePath := flagSet.Arg(0)
	if _, err := os.Stat(privatePath); err == nil {
		return fmt.Errorf("%s already exists", privatePath)
	}

	public, private, err := token.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := token.WriteKeypair(privatePath, public, private); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "private key: %s\npublic key:  %s.pub\n", privatePath, privatePath)
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	var (
		keyPath  string
		subject  string
		audience string
		output   string
		ttl      time.Duration
	)
	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&keyPath, "key", "", "private key written by keygen (required)")
	flagSet.StringVar(&subject, "subject", "", "caller identity recorded on sessions (required)")
	flagSet.StringVar(&audience, "audience", token.DefaultAudience, "agent audience the token is valid for")
	flagSet.StringVar(&output, "out", "", "file to write the token to (required)")
	flagSet.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if keyPath == "" || subject == "" || output == "" {
		return errors.New("--key, --subject, and --out are required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}

	private, err := token.LoadPrivateKey(keyPath)
	if err != nil {
		return err
	}
	id, err := token.NewID()
	if err != nil {
		return err
	}
	now := time.Now()
	raw, err := token.Mint(private, &token.Token{
		Subject:   subject,
		Audience:  audience,
		ID:        id,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, raw, 0600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	fmt.Fprintf(stdout, "token %s for %s expires %s\n", id, subject, now.Add(ttl).UTC().Format(time.RFC3339))
	return nil
}
