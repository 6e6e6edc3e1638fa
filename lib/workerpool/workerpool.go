// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerpool runs blocking backend calls on a bounded number
// of goroutines, off the socket server's connection handlers.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool is closed")

// Pool bounds concurrent jobs.
type Pool struct {
	size    int
	slots   *semaphore.Weighted
	running atomic.Int64

	mu     sync.Mutex
	closed bool
	jobs   sync.WaitGroup
}

// New creates a pool running at most size jobs at once. Sizes below
// one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, slots: semaphore.NewWeighted(int64(size))}
}

// Submit waits for a free slot and starts job on its own goroutine.
// It returns once the job has started, not when it finishes. When ctx
// ends before a slot frees up, the job never runs and ctx's error is
// returned.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.jobs.Add(1)
	p.mu.Unlock()

	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.jobs.Done()
		return err
	}
	p.running.Add(1)
	go func() {
		defer p.jobs.Done()
		defer p.slots.Release(1)
		defer p.running.Add(-1)
		job()
	}()
	return nil
}

// Size returns the maximum number of concurrent jobs.
func (p *Pool) Size() int { return p.size }

// Running returns the number of jobs currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Close rejects new jobs and waits for running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.jobs.Wait()
}
