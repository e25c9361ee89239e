// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/newsrelay/internal/content"
	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/session"
	"github.com/tomtom215/newsrelay/internal/transport"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

type stubRenderer struct {
	payloads map[string]string
}

func (r stubRenderer) Render(_ models.JobKind, id string) (string, error) {
	if p, ok := r.payloads[id]; ok {
		return p, nil
	}
	return "", content.ErrNotFound
}

type jobRecorder struct {
	mu      sync.Mutex
	updates []models.DeliveryJob
}

func (j *jobRecorder) BroadcastJobUpdate(job models.DeliveryJob) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updates = append(j.updates, job)
}

func connectedProvider(h *transport.MemoryHandle) HandleProvider {
	return func() (transport.Handle, error) { return h, nil }
}

func disconnectedProvider() HandleProvider {
	return func() (transport.Handle, error) { return nil, session.ErrNotConnected }
}

func newTestQueue(t *testing.T, handle HandleProvider) *Queue {
	t.Helper()
	q, err := New(
		Config{DataDir: t.TempDir(), SendTimeout: time.Second},
		stubRenderer{payloads: map[string]string{"c1": "payload one", "c2": "payload two"}},
		handle,
		&jobRecorder{},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return q
}

func jobByID(t *testing.T, q *Queue, id uint64) models.DeliveryJob {
	t.Helper()
	for _, j := range q.Jobs() {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %d not found", id)
	return models.DeliveryJob{}
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t, disconnectedProvider())

	tests := []struct {
		name      string
		kind      models.JobKind
		target    string
		contentID string
	}{
		{"unknown kind", models.JobKind("audio"), "g1", "c1"},
		{"empty target", models.JobScript, "", "c1"},
		{"empty content id", models.JobVisual, "g1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(tt.kind, tt.target, tt.contentID); !errors.Is(err, ErrInvalidJob) {
				t.Errorf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestPassDeliversPendingJob(t *testing.T) {
	h := transport.NewMemoryHandle()
	q := newTestQueue(t, connectedProvider(h))

	job, err := q.Enqueue(models.JobScript, "g1@conference", "c1")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Status != models.JobPending {
		t.Fatalf("new job status = %q", job.Status)
	}

	q.ProcessPending(context.Background())

	got := jobByID(t, q, job.ID)
	if got.Status != models.JobCompleted {
		t.Fatalf("job status = %q, detail %q", got.Status, got.ErrorDetail)
	}
	if got.CompletedAt == nil {
		t.Error("completed job should have a completion time")
	}

	sent := h.Sent()
	if len(sent) != 1 || sent[0].Address != "g1@conference" || sent[0].Payload != "payload one" {
		t.Errorf("unexpected sends: %+v", sent)
	}
}

func TestMissingContentFailsRegardlessOfConnection(t *testing.T) {
	// No session at all; content resolution must still decide the outcome.
	q := newTestQueue(t, disconnectedProvider())

	job, err := q.Enqueue(models.JobScript, "g1", "no-such-content")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.ProcessPending(context.Background())

	got := jobByID(t, q, job.ID)
	if got.Status != models.JobFailed {
		t.Fatalf("job status = %q, want failed", got.Status)
	}
	if got.ErrorDetail == "" {
		t.Error("failed job should carry an error detail")
	}
}

func TestDisconnectedLeavesJobsPending(t *testing.T) {
	q := newTestQueue(t, disconnectedProvider())

	job, err := q.Enqueue(models.JobScript, "g1", "c1")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.ProcessPending(context.Background())

	if got := jobByID(t, q, job.ID); got.Status != models.JobPending {
		t.Errorf("job status = %q, want pending", got.Status)
	}
	if q.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", q.PendingCount())
	}
}

func TestSendErrorFailsJob(t *testing.T) {
	h := transport.NewMemoryHandle()
	h.SendFunc = func(context.Context, string, string) error {
		return errors.New("recipient rejected")
	}
	q := newTestQueue(t, connectedProvider(h))

	job, _ := q.Enqueue(models.JobScript, "g1", "c1")
	q.ProcessPending(context.Background())

	got := jobByID(t, q, job.ID)
	if got.Status != models.JobFailed || got.ErrorDetail != "recipient rejected" {
		t.Errorf("job = %+v", got)
	}
}

func TestSendTimeoutFailsJob(t *testing.T) {
	h := transport.NewMemoryHandle()
	h.SendFunc = func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	q, err := New(
		Config{DataDir: t.TempDir(), SendTimeout: 20 * time.Millisecond},
		stubRenderer{payloads: map[string]string{"c1": "payload one"}},
		connectedProvider(h),
		&jobRecorder{},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	job, _ := q.Enqueue(models.JobScript, "g1", "c1")
	q.ProcessPending(context.Background())

	got := jobByID(t, q, job.ID)
	if got.Status != models.JobFailed {
		t.Fatalf("job status = %q, want failed", got.Status)
	}
	if got.ErrorDetail != "send timed out after 20ms" {
		t.Errorf("error detail = %q", got.ErrorDetail)
	}
}

func TestShutdownMidSendLeavesJobPending(t *testing.T) {
	h := transport.NewMemoryHandle()
	h.SendFunc = func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	q, err := New(
		Config{DataDir: t.TempDir(), SendTimeout: time.Hour},
		stubRenderer{payloads: map[string]string{"c1": "payload one"}},
		connectedProvider(h),
		&jobRecorder{},
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	job, _ := q.Enqueue(models.JobScript, "g1", "c1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.ProcessPending(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not stop after cancel")
	}

	got := jobByID(t, q, job.ID)
	if got.Status != models.JobPending {
		t.Fatalf("job status = %q, detail %q, want pending after aborted send", got.Status, got.ErrorDetail)
	}
}

func TestTerminalJobsNeverReprocessed(t *testing.T) {
	h := transport.NewMemoryHandle()
	q := newTestQueue(t, connectedProvider(h))

	q.Enqueue(models.JobScript, "g1", "c1") //nolint:errcheck
	q.ProcessPending(context.Background())
	q.ProcessPending(context.Background())
	q.ProcessPending(context.Background())

	if got := len(h.Sent()); got != 1 {
		t.Errorf("completed job re-sent: %d sends", got)
	}
}

func TestPassDeliversInEnqueueOrder(t *testing.T) {
	h := transport.NewMemoryHandle()
	q := newTestQueue(t, connectedProvider(h))

	q.Enqueue(models.JobScript, "first", "c1")  //nolint:errcheck
	q.Enqueue(models.JobVisual, "second", "c2") //nolint:errcheck
	q.Enqueue(models.JobScript, "third", "c1")  //nolint:errcheck

	q.ProcessPending(context.Background())

	sent := h.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sent))
	}
	for i, want := range []string{"first", "second", "third"} {
		if sent[i].Address != want {
			t.Errorf("send %d went to %q, want %q", i, sent[i].Address, want)
		}
	}
}

func TestJobLogSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	renderer := stubRenderer{payloads: map[string]string{"c1": "payload one"}}

	q1, err := New(Config{DataDir: dir, SendTimeout: time.Second}, renderer, disconnectedProvider(), &jobRecorder{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	first, _ := q1.Enqueue(models.JobScript, "g1", "c1")

	q2, err := New(Config{DataDir: dir, SendTimeout: time.Second}, renderer, disconnectedProvider(), &jobRecorder{})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if q2.PendingCount() != 1 {
		t.Fatalf("pending count after reload = %d", q2.PendingCount())
	}

	second, err := q2.Enqueue(models.JobScript, "g1", "c1")
	if err != nil {
		t.Fatalf("Enqueue after reload failed: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("job ids must stay monotonic across restarts: %d then %d", first.ID, second.ID)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := transport.NewMemoryHandle()
	h.SendFunc = func(context.Context, string, string) error {
		return errors.New("wire down")
	}
	q := newTestQueue(t, connectedProvider(h))

	for range 7 {
		q.Enqueue(models.JobScript, "g1", "c1") //nolint:errcheck
	}
	q.ProcessPending(context.Background())

	var failed, pending int
	for _, j := range q.Jobs() {
		switch j.Status {
		case models.JobFailed:
			failed++
		case models.JobPending:
			pending++
		}
	}
	if failed != 5 {
		t.Errorf("failed = %d, want 5 before the breaker opens", failed)
	}
	if pending != 2 {
		t.Errorf("pending = %d, want 2 left for later passes", pending)
	}
}

func TestJobUpdatesBroadcast(t *testing.T) {
	h := transport.NewMemoryHandle()
	rec := &jobRecorder{}
	q, err := New(
		Config{DataDir: t.TempDir(), SendTimeout: time.Second},
		stubRenderer{payloads: map[string]string{"c1": "payload one"}},
		connectedProvider(h),
		rec,
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	q.Enqueue(models.JobScript, "g1", "c1") //nolint:errcheck
	q.ProcessPending(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.updates) != 2 {
		t.Fatalf("expected enqueue + completion updates, got %d", len(rec.updates))
	}
	if rec.updates[0].Status != models.JobPending || rec.updates[1].Status != models.JobCompleted {
		t.Errorf("update statuses: %q then %q", rec.updates[0].Status, rec.updates[1].Status)
	}
}
