// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package queue implements the durable delivery queue: outbound send
// requests recorded as jobs, processed in fixed-interval passes, with
// monotonic terminal outcomes persisted across restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/metrics"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/store"
	"github.com/tomtom215/newsrelay/internal/transport"
)

const queueFile = "send-queue.json"

// ErrInvalidJob is returned by Enqueue for malformed job requests.
var ErrInvalidJob = errors.New("invalid delivery job")

// Renderer resolves a content id into the outgoing message text.
type Renderer interface {
	Render(kind models.JobKind, id string) (string, error)
}

// Broadcaster pushes job state changes to dashboard clients.
type Broadcaster interface {
	BroadcastJobUpdate(models.DeliveryJob)
}

// HandleProvider yields the live transport handle, or an error when the
// session is not established.
type HandleProvider func() (transport.Handle, error)

// Config tunes the delivery queue.
type Config struct {
	// DataDir holds the persisted job log.
	DataDir string
	// SendTimeout is the hard per-send deadline.
	SendTimeout time.Duration
}

// queueState is the persisted job log document.
type queueState struct {
	NextID uint64               `json:"next_id"`
	Jobs   []models.DeliveryJob `json:"jobs"`
}

// Queue is the delivery queue. One worker processes passes; Enqueue may
// be called concurrently from the HTTP layer.
type Queue struct {
	cfg      Config
	renderer Renderer
	handle   HandleProvider
	hub      Broadcaster
	breaker  *gobreaker.CircuitBreaker[struct{}]
	filePath string

	mu     sync.Mutex
	jobs   []models.DeliveryJob
	nextID uint64
}

// New creates a queue and loads the persisted job log. Jobs pending at
// the last shutdown are picked up by the next pass.
func New(cfg Config, renderer Renderer, handle HandleProvider, hub Broadcaster) (*Queue, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}

	q := &Queue{
		cfg:      cfg,
		renderer: renderer,
		handle:   handle,
		hub:      hub,
		filePath: filepath.Join(cfg.DataDir, queueFile),
		nextID:   1,
	}
	q.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "transport-send",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("send circuit breaker state changed")
		},
	})

	var state queueState
	if err := store.Load(q.filePath, &state); err != nil {
		if !errors.Is(err, store.ErrNotExist) {
			return nil, fmt.Errorf("failed to load job log: %w", err)
		}
	}
	q.jobs = state.Jobs
	if state.NextID > q.nextID {
		q.nextID = state.NextID
	}
	for _, j := range q.jobs {
		if j.ID >= q.nextID {
			q.nextID = j.ID + 1
		}
	}
	q.updatePendingGaugeLocked()

	logging.Info().
		Str("component", "queue").
		Int("jobs", len(q.jobs)).
		Int("pending", q.pendingCountLocked()).
		Msg("delivery queue loaded")
	return q, nil
}

// Enqueue records a new pending job. The job is not attempted until the
// next pass; Enqueue succeeds regardless of connection state.
func (q *Queue) Enqueue(kind models.JobKind, target, contentID string) (models.DeliveryJob, error) {
	if kind != models.JobScript && kind != models.JobVisual {
		return models.DeliveryJob{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, kind)
	}
	if target == "" {
		return models.DeliveryJob{}, fmt.Errorf("%w: empty target", ErrInvalidJob)
	}
	if contentID == "" {
		return models.DeliveryJob{}, fmt.Errorf("%w: empty content id", ErrInvalidJob)
	}

	q.mu.Lock()
	job := models.DeliveryJob{
		ID:        q.nextID,
		Kind:      kind,
		Target:    target,
		ContentID: contentID,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	q.nextID++
	q.jobs = append(q.jobs, job)
	q.persistLocked()
	q.updatePendingGaugeLocked()
	q.mu.Unlock()

	logging.Info().
		Uint64("job_id", job.ID).
		Str("kind", string(kind)).
		Str("target", target).
		Msg("delivery job enqueued")
	if q.hub != nil {
		q.hub.BroadcastJobUpdate(job)
	}
	return job, nil
}

// Jobs returns the full job log in enqueue order.
func (q *Queue) Jobs() []models.DeliveryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.DeliveryJob(nil), q.jobs...)
}

// PendingCount returns the number of jobs awaiting delivery.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingCountLocked()
}

// ProcessPending runs one delivery pass: each pending job, oldest first,
// is resolved and attempted once. Content that does not resolve fails
// the job immediately; a missing session or an open breaker leaves jobs
// pending for the next pass.
func (q *Queue) ProcessPending(ctx context.Context) {
	pending := q.pendingSnapshot()
	if len(pending) == 0 {
		return
	}

	logging.Debug().Int("pending", len(pending)).Msg("delivery pass started")
	changed := false

	for _, job := range pending {
		if ctx.Err() != nil {
			break
		}

		// Content resolution comes first: a job referencing missing
		// content can never succeed, connected or not.
		payload, err := q.renderer.Render(job.Kind, job.ContentID)
		if err != nil {
			q.finishJob(job.ID, models.JobFailed, fmt.Sprintf("content not found: %s", job.ContentID))
			changed = true
			continue
		}

		h, err := q.handle()
		if err != nil {
			logging.Debug().Uint64("job_id", job.ID).Msg("no session, job stays pending")
			continue
		}

		if err := q.send(ctx, h, job.Target, payload); err != nil {
			if ctx.Err() != nil {
				// Shutdown aborted the send; the outcome is unknown and the
				// job must stay pending for the next pass.
				logging.Info().Uint64("job_id", job.ID).Msg("pass cancelled mid-send, job stays pending")
				break
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				logging.Warn().Uint64("job_id", job.ID).Msg("send breaker open, job stays pending")
				continue
			}
			detail := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				detail = fmt.Sprintf("send timed out after %s", q.cfg.SendTimeout)
			}
			q.finishJob(job.ID, models.JobFailed, detail)
			changed = true
			continue
		}

		q.finishJob(job.ID, models.JobCompleted, "")
		changed = true
	}

	if changed {
		q.mu.Lock()
		q.persistLocked()
		q.mu.Unlock()
	}
}

// send performs one breaker-guarded, deadline-bounded transport send.
func (q *Queue) send(ctx context.Context, h transport.Handle, target, payload string) error {
	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()

	_, err := q.breaker.Execute(func() (struct{}, error) {
		start := time.Now()
		sendErr := h.Send(sendCtx, target, payload)
		metrics.SendDuration.Observe(time.Since(start).Seconds())
		return struct{}{}, sendErr
	})
	// Only the per-send deadline counts as a timeout; parent cancellation
	// is handled by the pass loop.
	if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) &&
		ctx.Err() == nil && !errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// pendingSnapshot copies the pending jobs in enqueue order.
func (q *Queue) pendingSnapshot() []models.DeliveryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.DeliveryJob
	for _, j := range q.jobs {
		if j.Status == models.JobPending {
			out = append(out, j)
		}
	}
	return out
}

// finishJob moves a pending job to a terminal status. Jobs already
// terminal are never touched.
func (q *Queue) finishJob(id uint64, status models.JobStatus, detail string) {
	q.mu.Lock()
	var updated models.DeliveryJob
	found := false
	for i := range q.jobs {
		if q.jobs[i].ID != id || q.jobs[i].Status != models.JobPending {
			continue
		}
		now := time.Now().UTC()
		q.jobs[i].Status = status
		q.jobs[i].CompletedAt = &now
		q.jobs[i].ErrorDetail = detail
		updated = q.jobs[i]
		found = true
		break
	}
	q.updatePendingGaugeLocked()
	q.mu.Unlock()

	if !found {
		return
	}

	metrics.DeliveryJobsTotal.WithLabelValues(string(updated.Kind), string(status)).Inc()
	evt := logging.Info()
	if status == models.JobFailed {
		evt = logging.Warn()
	}
	evt.Uint64("job_id", id).
		Str("status", string(status)).
		Str("detail", detail).
		Msg("delivery job finished")

	if q.hub != nil {
		q.hub.BroadcastJobUpdate(updated)
	}
}

func (q *Queue) persistLocked() {
	state := queueState{NextID: q.nextID, Jobs: q.jobs}
	if err := store.Save(q.filePath, state); err != nil {
		logging.Err(err).Msg("failed to persist job log, in-memory state remains authoritative")
	}
}

func (q *Queue) pendingCountLocked() int {
	n := 0
	for _, j := range q.jobs {
		if j.Status == models.JobPending {
			n++
		}
	}
	return n
}

func (q *Queue) updatePendingGaugeLocked() {
	metrics.DeliveryQueuePending.Set(float64(q.pendingCountLocked()))
}
