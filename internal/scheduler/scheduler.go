// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package scheduler runs the relay's periodic tasks as one supervised
// service: delivery passes, directory refreshes, and the manual topic
// poll each tick on their own interval.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/newsrelay/internal/logging"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler ticks its tasks until its context is cancelled.
type Scheduler struct {
	tasks []Task
}

// New creates a scheduler. Tasks with a non-positive interval are
// dropped with a warning rather than spinning.
func New(tasks ...Task) *Scheduler {
	valid := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Interval <= 0 || t.Run == nil {
			logging.Warn().Str("task", t.Name).Msg("invalid scheduler task dropped")
			continue
		}
		valid = append(valid, t)
	}
	return &Scheduler{tasks: valid}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string { return "scheduler" }

// Serve implements suture.Service: one goroutine per task, all stopped
// together on context cancel.
func (s *Scheduler) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		g.Go(func() error {
			s.runTask(gctx, task)
			return nil
		})
		logging.Info().
			Str("task", task.Name).
			Dur("interval", task.Interval).
			Msg("periodic task scheduled")
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			task.Run(ctx)
			logging.Debug().
				Str("task", task.Name).
				Dur("elapsed", time.Since(start)).
				Msg("periodic task ran")
		}
	}
}
