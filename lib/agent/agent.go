// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/genop/lib/accel"
	"github.com/bureau-foundation/genop/lib/backend/compute"
	"github.com/bureau-foundation/genop/lib/backend/imageclass"
	"github.com/bureau-foundation/genop/lib/backend/tf"
	"github.com/bureau-foundation/genop/lib/backend/tflite"
	"github.com/bureau-foundation/genop/lib/backend/torch"
	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/config"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/metrics"
	"github.com/bureau-foundation/genop/lib/plugin"
	"github.com/bureau-foundation/genop/lib/profile"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/session"
	"github.com/bureau-foundation/genop/lib/token"
	"github.com/bureau-foundation/genop/lib/transport"
	"github.com/bureau-foundation/genop/lib/workerpool"
)

// Options are the collaborators New does not build from the
// configuration file. Every field is optional.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// Plugins are added after the built-in cpu plugin and before the
	// plugins the configuration loads from disk.
	Plugins []plugin.Plugin

	// Sampler replaces the accelerator sampler that
	// profiling.device_counters would open.
	Sampler profile.Sampler

	// Probe replaces accel.Probe for the devices action.
	Probe func() accel.Inventory
}

// Agent owns the registry, the session table, and everything that
// serves them. Construct it with New, serve with Run.
type Agent struct {
	config    *config.Config
	logger    *slog.Logger
	clock     clock.Clock
	startedAt time.Time

	registry   *registry.Registry
	sessions   *session.Manager
	staging    *blob.Staging
	pool       *workerpool.Pool
	plugins    *plugin.Set
	dispatcher *genop.Dispatcher
	metrics    *metrics.Metrics
	server     *service.SocketServer

	publicKey   ed25519.PublicKey
	compression blob.Compression
	probe       func() accel.Inventory
	sampler     *accel.Sampler

	closeOnce sync.Once
	closeErr  error
}

// New builds an agent from a validated configuration. Plugins named
// in the configuration are loaded here, so a missing shared object
// fails startup rather than the first call that needs it.
func New(cfg *config.Config, options Options) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	endpoint, err := transport.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	compression, err := blob.ParseCompression(cfg.Blob.Compression)
	if err != nil {
		return nil, err
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Probe == nil {
		options.Probe = accel.Probe
	}
	logger := options.Logger

	a := &Agent{
		config:      cfg,
		logger:      logger,
		clock:       options.Clock,
		startedAt:   options.Clock.Now(),
		metrics:     metrics.New(),
		compression: compression,
		probe:       options.Probe,
	}

	if cfg.Auth.PublicKeyFile != "" {
		a.publicKey, err = token.LoadPublicKey(cfg.Auth.PublicKeyFile)
		if err != nil {
			return nil, err
		}
	}

	a.plugins = plugin.NewSet(plugin.CPU{})
	for _, extra := range options.Plugins {
		if err := a.plugins.Add(extra); err != nil {
			return nil, err
		}
	}
	for _, entry := range cfg.Plugins {
		loaded, err := plugin.Open(entry.Path)
		if err != nil {
			return nil, err
		}
		if entry.Name != "" && loaded.Name() != entry.Name {
			return nil, fmt.Errorf("plugin %s is named %q, configuration expects %q", entry.Path, loaded.Name(), entry.Name)
		}
		if err := a.plugins.Add(loaded); err != nil {
			return nil, err
		}
		logger.Info("plugin loaded", "plugin", loaded.Name(), "path", entry.Path, "frameworks", loaded.Frameworks())
	}

	a.registry = registry.New(registry.Config{
		Logger:   logger,
		Clock:    a.clock,
		Observer: a.metrics,
		Types:    registry.BuiltinTypes(registry.Limits{ImageMaxPixels: cfg.Backends.ImageMaxPixels}),
	})
	a.staging = blob.NewStaging(blob.StagingConfig{
		MaxBytes: cfg.Blob.MaxBlobBytes,
		TTL:      cfg.Blob.StagingTTL.Std(),
		Clock:    a.clock,
		Logger:   logger,
	})
	a.sessions = session.NewManager(session.Config{
		MaxSessions: cfg.MaxSessions,
		GracePeriod: cfg.SessionGracePeriod.Std(),
		Releaser:    a.registry,
		Observer:    a.metrics,
		Logger:      logger,
		Clock:       a.clock,
		OnClose: func(id ref.Session, _ string) {
			if dropped := a.staging.DiscardSession(id); dropped > 0 {
				logger.Debug("discarded staged blobs of closed session", "session", id, "blobs", dropped)
			}
		},
	})
	a.pool = workerpool.New(cfg.Workers)

	sampler := options.Sampler
	if sampler == nil && cfg.Profiling.DeviceCounters {
		a.sampler = accel.NewSampler(logger)
		if a.sampler.Devices() == 0 {
			logger.Info("no accelerator sensors found; profiling records carry timings only")
		}
		sampler = a.sampler
	}

	a.dispatcher = genop.NewDispatcher(genop.Config{
		Sessions:  a.sessions,
		Resources: a.registry,
		Blobs:     a.staging,
		Executor:  a.pool,
		Profiler:  profile.NewCollector(a.clock, sampler),
		Observer:  a.metrics,
		Logger:    logger,
		Clock:     a.clock,
	})
	if err := a.registerBackends(); err != nil {
		a.pool.Close()
		return nil, err
	}

	a.metrics.Watch(metrics.Gauges{
		Resources:      a.registry.CountByType,
		Sessions:       a.sessions.Len,
		StagedBytes:    a.staging.Bytes,
		WorkersRunning: a.pool.Running,
	})

	a.server = service.NewSocketServer(service.SocketServerConfig{
		Endpoint:       endpoint,
		MaxStreamBytes: streamLimit(cfg.Blob.MaxBlobBytes),
		Logger:         logger,
	})
	a.registerActions(a.server)
	return a, nil
}

// streamLimit bounds the bytes read from one stream. Chunk frames add
// CBOR framing and digests to the payload, and a chunk that does not
// compress travels raw.
func streamLimit(maxBlob int64) int64 {
	return maxBlob + maxBlob/8 + 64<<10
}

func (a *Agent) registerBackends() error {
	var handlers []genop.Handler
	if a.config.Backends.Compute {
		handlers = append(handlers, compute.Handlers(a.plugins)...)
	}
	if a.config.Backends.Image {
		backend, err := imageclass.New(a.plugins, imageclass.Config{
			CacheSize: a.config.Backends.ImageCacheSize,
			MaxPixels: a.config.Backends.ImageMaxPixels,
		})
		if err != nil {
			return err
		}
		handlers = append(handlers, backend.Handlers()...)
	}
	// Framework backends register only when a plugin can load their
	// models.
	handlers = append(handlers, tf.Handlers(a.plugins, a.config.ModelRoots)...)
	handlers = append(handlers, tflite.Handlers(a.plugins, a.config.ModelRoots)...)
	handlers = append(handlers, torch.Handlers(a.plugins, a.config.ModelRoots)...)

	for _, handler := range handlers {
		if err := a.dispatcher.Register(handler); err != nil {
			return fmt.Errorf("registering %s: %w", handler.Signature().Kind, err)
		}
	}
	a.logger.Info("backends registered", "operations", len(handlers), "plugins", a.plugins.Names())
	return nil
}

// Run serves the socket, the metrics endpoint when configured, and
// the reaper until ctx is cancelled, then closes the agent.
func (a *Agent) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Serve(groupCtx)
	})
	if a.config.Metrics.Address != "" {
		httpServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: a.config.Metrics.Address,
			Handler: a.metrics.Handler(),
			Logger:  a.logger,
		})
		group.Go(func() error {
			return httpServer.Serve(groupCtx)
		})
	}
	group.Go(func() error {
		a.reapLoop(groupCtx)
		return nil
	})

	err := group.Wait()
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Ready is closed once the socket is accepting connections.
func (a *Agent) Ready() <-chan struct{} {
	return a.server.Ready()
}

// Metrics returns the agent's Prometheus collectors.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *Agent) reapLoop(ctx context.Context) {
	ticker := a.clock.NewTicker(a.config.ReapInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.reap(now)
		}
	}
}

// reap closes abandoned sessions and discards staged blobs nobody
// consumed.
func (a *Agent) reap(now time.Time) {
	for _, id := range a.sessions.Reap(now) {
		a.logger.Info("reaped idle session", "session", id, "grace_period", a.config.SessionGracePeriod.Std())
	}
	if dropped := a.staging.Sweep(now); dropped > 0 {
		a.logger.Info("discarded expired staged blobs", "blobs", dropped)
	}
}

// Close waits for running operations, closes every session, and
// checks that no resource outlived them. It is safe to call more than
// once; only the first call does anything.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.pool.Close()
		closed := a.sessions.CloseAll()
		if live := a.registry.Live(); len(live) > 0 {
			for _, info := range live {
				a.logger.Error("resource leaked at shutdown",
					"resource", info.ID,
					"type", info.Type,
					"refs", info.Refs,
				)
			}
			a.closeErr = fmt.Errorf("%d resources outlived every session", len(live))
		}
		if a.sampler != nil {
			a.sampler.Close()
		}
		a.logger.Info("agent stopped", "sessions_closed", closed)
	})
	return a.closeErr
}
