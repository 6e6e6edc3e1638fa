// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/transport"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "GENOP_CONFIG"

// Config is the agent configuration.
type Config struct {
	// Endpoint is where the agent listens: a Unix socket path,
	// unix://path, or tcp://host:port.
	// Default: unix:///run/genop/agent.sock
	Endpoint string `yaml:"endpoint"`

	// LogLevel is debug, info, warn, or error.
	// Default: info
	LogLevel string `yaml:"log_level"`

	// MaxSessions caps concurrently open sessions. Zero means no cap.
	MaxSessions int `yaml:"max_sessions"`

	// SessionGracePeriod is how long a session may sit idle before it
	// is reaped as abandoned. There is no default: empty or zero
	// disables reaping.
	SessionGracePeriod Duration `yaml:"session_grace_period"`

	// ReapInterval is how often the reaper checks for idle sessions
	// and expired staged blobs.
	// Default: 10s
	ReapInterval Duration `yaml:"reap_interval"`

	// Workers bounds concurrently running backend calls.
	// Default: number of CPUs
	Workers int `yaml:"workers"`

	Blob      BlobConfig      `yaml:"blob"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	Backends  BackendsConfig  `yaml:"backends"`

	// Plugins are native acceleration plugins loaded at startup, in
	// order. The built-in cpu plugin is always present.
	Plugins []PluginConfig `yaml:"plugins"`

	// ModelRoots are the directories model load operations may read
	// by path. Empty disables loading by path.
	ModelRoots []string `yaml:"model_roots"`
}

// BlobConfig configures blob transfer.
type BlobConfig struct {
	// ChunkSize is the split threshold for outgoing blobs.
	// Default: 1 MiB
	ChunkSize int `yaml:"chunk_size"`

	// MaxBlobBytes caps the bytes staged across all sessions, and the
	// size of any one upload.
	// Default: 1 GiB
	MaxBlobBytes int64 `yaml:"max_blob_bytes"`

	// StagingTTL discards staged blobs nobody consumed.
	// Default: 5m
	StagingTTL Duration `yaml:"staging_ttl"`

	// Compression is none, lz4, zstd, bg4_lz4, or auto.
	// Default: auto
	Compression string `yaml:"compression"`
}

// ProfilingConfig configures profiling.
type ProfilingConfig struct {
	// DeviceCounters adds accelerator sensor readings to profiling
	// samples when the host exposes them.
	DeviceCounters bool `yaml:"device_counters"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the HTTP listen address for /metrics. Empty disables
	// the endpoint.
	Address string `yaml:"address"`
}

// AuthConfig configures session-open tokens.
type AuthConfig struct {
	// PublicKeyFile holds the hex Ed25519 key tokens are verified
	// against. Empty disables authentication.
	PublicKeyFile string `yaml:"public_key_file"`

	// Audience is the audience tokens must name.
	// Default: genop
	Audience string `yaml:"audience"`
}

// BackendsConfig enables the built-in backends. Model framework
// backends are enabled by the plugins that support them.
type BackendsConfig struct {
	Compute bool `yaml:"compute"`
	Image   bool `yaml:"image"`

	// ImageCacheSize is how many decoded images the image backend
	// keeps. Default: 64
	ImageCacheSize int `yaml:"image_cache_size"`

	// ImageMaxPixels is the largest width*height accepted for an image
	// resource and for preprocess output. Default: 67108864
	ImageMaxPixels int64 `yaml:"image_max_pixels"`
}

// PluginConfig names a plugin shared object.
type PluginConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses "30s", "5m", and the like. An empty string is
// zero.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	if text == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration every file is loaded on top of.
func Default() *Config {
	return &Config{
		Endpoint:     "unix:///run/genop/agent.sock",
		LogLevel:     "info",
		ReapInterval: Duration(10 * time.Second),
		Workers:      runtime.NumCPU(),
		Blob: BlobConfig{
			ChunkSize:    blob.DefaultChunkSize,
			MaxBlobBytes: service.DefaultMaxStreamBytes,
			StagingTTL:   Duration(5 * time.Minute),
			Compression:  "auto",
		},
		Auth: AuthConfig{
			Audience: "genop",
		},
		Backends: BackendsConfig{
			Compute:        true,
			Image:          true,
			ImageCacheSize: 64,
			ImageMaxPixels: registry.DefaultImageMaxPixels,
		},
	}
}

// Load loads configuration from the GENOP_CONFIG file.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your agent config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of [Default]. Files
// ending in .json or .jsonc are read as JSON with comments; anything
// else as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one set of field tags serves
		// both formats.
		data = jsonc.ToJSON(data)
	}
	if err := cfg.parse(data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// Parse reads a YAML document on top of [Default].
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	c.Endpoint = expandVars(c.Endpoint)
	c.Auth.PublicKeyFile = expandVars(c.Auth.PublicKeyFile)
	for index := range c.Plugins {
		c.Plugins[index].Path = expandVars(c.Plugins[index].Path)
	}
	for index := range c.ModelRoots {
		c.ModelRoots[index] = expandVars(c.ModelRoots[index])
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := transport.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	}
	if _, err := service.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("max_sessions must not be negative"))
	}
	if c.SessionGracePeriod < 0 {
		errs = append(errs, fmt.Errorf("session_grace_period must not be negative"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("reap_interval must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive"))
	}
	if c.Blob.ChunkSize <= 0 || c.Blob.ChunkSize > blob.MaxChunkSize {
		errs = append(errs, fmt.Errorf("blob.chunk_size must be between 1 and %d", blob.MaxChunkSize))
	}
	if c.Blob.MaxBlobBytes <= 0 {
		errs = append(errs, fmt.Errorf("blob.max_blob_bytes must be positive"))
	}
	if c.Blob.StagingTTL < 0 {
		errs = append(errs, fmt.Errorf("blob.staging_ttl must not be negative"))
	}
	if _, err := blob.ParseCompression(c.Blob.Compression); err != nil {
		errs = append(errs, fmt.Errorf("blob.compression: %w", err))
	}
	if c.Backends.Image && c.Backends.ImageCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("backends.image_cache_size must be positive"))
	}
	if c.Backends.ImageMaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("backends.image_max_pixels must be positive"))
	}
	for index, plugin := range c.Plugins {
		if plugin.Path == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: path is required", index))
		}
	}
	for index, root := range c.ModelRoots {
		if !filepath.IsAbs(root) {
			errs = append(errs, fmt.Errorf("model_roots[%d]: %q is not absolute", index, root))
		}
	}
	if c.Auth.PublicKeyFile != "" && c.Auth.Audience == "" {
		errs = append(errs, fmt.Errorf("auth.audience is required with auth.public_key_file"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
