// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/newsrelay/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

func TestTasksTickOnTheirIntervals(t *testing.T) {
	var fast, slow atomic.Int32
	s := New(
		Task{Name: "fast", Interval: 10 * time.Millisecond, Run: func(context.Context) { fast.Add(1) }},
		Task{Name: "slow", Interval: 50 * time.Millisecond, Run: func(context.Context) { slow.Add(1) }},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}

	if got := fast.Load(); got < 5 {
		t.Errorf("fast task ran %d times, expected at least 5", got)
	}
	if fastN, slowN := fast.Load(), slow.Load(); slowN >= fastN {
		t.Errorf("slow task (%d) should tick less often than fast (%d)", slowN, fastN)
	}
}

func TestInvalidTasksDropped(t *testing.T) {
	s := New(
		Task{Name: "no-interval", Interval: 0, Run: func(context.Context) {}},
		Task{Name: "no-run", Interval: time.Second},
	)
	if len(s.tasks) != 0 {
		t.Errorf("expected all invalid tasks dropped, kept %d", len(s.tasks))
	}
}

func TestServeStopsQuickly(t *testing.T) {
	s := New(Task{Name: "noop", Interval: time.Hour, Run: func(context.Context) {}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
