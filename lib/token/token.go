// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package token implements the Ed25519-signed bearer tokens presented
// when opening a session on an agent that has authentication enabled.
//
// A token is raw bytes: the CBOR-encoded [Token] followed by a 64-byte
// Ed25519 signature over those bytes. The split point is always
// len(token) - 64.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bureau-foundation/genop/lib/codec"
)

// DefaultAudience is the audience agents expect when none is
// configured.
const DefaultAudience = "genop"

const signatureSize = ed25519.SignatureSize

// Token is the signed payload.
type Token struct {
	// Subject identifies the caller. The agent stores it on the
	// session for status reporting.
	Subject string `cbor:"1,keyasint"`

	// Audience names the agent deployment the token is for.
	Audience string `cbor:"2,keyasint"`

	// ID is a unique token identifier (hex).
	ID string `cbor:"3,keyasint"`

	// IssuedAt and ExpiresAt are Unix timestamps in seconds.
	IssuedAt  int64 `cbor:"4,keyasint"`
	ExpiresAt int64 `cbor:"5,keyasint"`
}

// Errors returned by Verify.
var (
	ErrTooShort         = errors.New("token: too short for signature")
	ErrInvalidSignature = errors.New("token: invalid Ed25519 signature")
	ErrExpired          = errors.New("token: expired")
	ErrNotYetValid      = errors.New("token: issued in the future")
	ErrAudienceMismatch = errors.New("token: audience does not match")
)

// Mint signs token and returns its wire bytes.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("token: encoding payload: %w", err)
	}
	signed := make([]byte, len(payload), len(payload)+signatureSize)
	copy(signed, payload)
	return append(signed, ed25519.Sign(privateKey, payload)...), nil
}

// NewID returns a random 16-byte hex token ID.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("token: generating ID: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Verify checks the signature, the validity window at now, and the
// audience, and returns the decoded token.
func Verify(publicKey ed25519.PublicKey, raw []byte, audience string, now time.Time) (*Token, error) {
	if len(raw) <= signatureSize {
		return nil, ErrTooShort
	}
	split := len(raw) - signatureSize
	payload, signature := raw[:split], raw[split:]
	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("token: decoding payload: %w", err)
	}
	if now.Unix() >= token.ExpiresAt {
		return nil, ErrExpired
	}
	if token.IssuedAt > now.Unix() {
		return nil, ErrNotYetValid
	}
	if token.Audience != audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, audience)
	}
	return &token, nil
}

// GenerateKeypair creates a signing keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// WriteKeypair writes the private key (0600) and public key (0644) as
// hex to privatePath and privatePath+".pub".
func WriteKeypair(privatePath string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(privatePath, []byte(hex.EncodeToString(private)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(privatePath+".pub", []byte(hex.EncodeToString(public)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadPublicKey reads a hex-encoded Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := readHexKey(path, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

// LoadPrivateKey reads a hex-encoded Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := readHexKey(path, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(raw), nil
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding key %s: %w", path, err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("key %s has %d bytes, want %d", path, len(raw), size)
	}
	return raw, nil
}
