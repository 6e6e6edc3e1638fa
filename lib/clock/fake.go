// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called. Safe for concurrent use.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	tickers        []*fakeTicker
	tickersChanged *sync.Cond
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.tickersChanged = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker registers a ticker that fires during Advance.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ticker := &fakeTicker{
		next:     c.current.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ticker)
	c.tickersChanged.Broadcast()

	return &Ticker{
		C: ticker.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ticker.stopped = true
			c.tickersChanged.Broadcast()
		},
	}
}

// Advance moves the clock forward by d. Every ticker whose next tick
// falls at or before the new time fires once per elapsed interval;
// sends are non-blocking, so ticks beyond the channel buffer drop.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	for _, ticker := range c.tickers {
		if ticker.stopped {
			continue
		}
		for !ticker.next.After(c.current) {
			select {
			case ticker.channel <- ticker.next:
			default:
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
	}
}

// WaitForTickers blocks until at least n live tickers are registered.
// Tests call this before Advance so a goroutine that creates its
// ticker asynchronously cannot miss the first tick.
func (c *FakeClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveTickersLocked() < n {
		c.tickersChanged.Wait()
	}
}

func (c *FakeClock) liveTickersLocked() int {
	count := 0
	for _, ticker := range c.tickers {
		if !ticker.stopped {
			count++
		}
	}
	return count
}
