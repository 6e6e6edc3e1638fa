// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(10 * time.Second)
	defer ticker.Stop()

	clock.Advance(9 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(1 * time.Second)
	select {
	case tick := <-ticker.C:
		if want := epoch.Add(10 * time.Second); !tick.Equal(want) {
			t.Errorf("tick time = %v, want %v", tick, want)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}
}

func TestFakeTickerDropsOverflow(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(5 * time.Second)

	received := 0
	for {
		select {
		case <-ticker.C:
			received++
			continue
		default:
		}
		break
	}
	if received != 1 {
		t.Errorf("received %d ticks, want 1 (buffer capacity)", received)
	}
}

func TestFakeTickerStop(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(3 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestWaitForTickers(t *testing.T) {
	clock := Fake(epoch)
	registered := make(chan struct{})
	go func() {
		clock.NewTicker(time.Minute)
		close(registered)
	}()

	clock.WaitForTickers(1)
	<-registered
}

func TestFakeTickerPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewTicker(0) should panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}
