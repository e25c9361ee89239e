// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package api provides the dashboard bridge HTTP surface: connection
// status, directory, job log, content collections, and the enqueue,
// disconnect, and topic operations, routed via Chi.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/newsrelay/internal/content"
	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/relay"
	"github.com/tomtom215/newsrelay/internal/session"
	"github.com/tomtom215/newsrelay/internal/websocket"
)

// SessionController is the session manager surface the API consumes.
type SessionController interface {
	Status() models.ConnectionStatus
	Disconnect(ctx context.Context) error
}

// DirectoryReader is the directory surface the API consumes.
type DirectoryReader interface {
	Entries() []models.DirectoryEntry
	Lookup(identifier string) (models.DirectoryEntry, bool)
}

// JobQueue is the delivery queue surface the API consumes.
type JobQueue interface {
	Jobs() []models.DeliveryJob
	Enqueue(kind models.JobKind, target, contentID string) (models.DeliveryJob, error)
	PendingCount() int
}

// ContentReader is the content store surface the API consumes.
type ContentReader interface {
	Scripts() []content.Script
	Visuals() []content.Visual
}

// TopicIntake accepts dashboard-submitted topics.
type TopicIntake interface {
	SubmitTopic(text string) (relay.ManualTopic, error)
	PendingTopics() []relay.ManualTopic
}

// Handler holds the API dependencies and implements every endpoint.
type Handler struct {
	session     SessionController
	directory   DirectoryReader
	queue       JobQueue
	contents    ContentReader
	topics      TopicIntake
	hub         *websocket.Hub
	qrImagePath string
	upgrader    gws.Upgrader
	validate    *validator.Validate
	startedAt   time.Time
}

// NewHandler creates the API handler. allowedOrigins feeds the
// websocket origin check and should match the CORS configuration.
func NewHandler(
	sess SessionController,
	dir DirectoryReader,
	queue JobQueue,
	contents ContentReader,
	topics TopicIntake,
	hub *websocket.Hub,
	qrImagePath string,
	allowedOrigins []string,
) *Handler {
	return &Handler{
		session:     sess,
		directory:   dir,
		queue:       queue,
		contents:    contents,
		topics:      topics,
		hub:         hub,
		qrImagePath: qrImagePath,
		upgrader:    newUpgrader(allowedOrigins),
		validate:    validator.New(),
		startedAt:   time.Now(),
	}
}

// Health reports overall service health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe. The relay serves its dashboard
// regardless of connection state, so readiness follows process start.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status returns the connection snapshot plus queue and hub gauges.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"connection":        h.session.Status(),
		"connected":         h.session.Status().Connected(),
		"pending_jobs":      h.queue.PendingCount(),
		"websocket_clients": h.hub.ClientCount(),
		"uptime_seconds":    time.Since(h.startedAt).Seconds(),
	})
}

// QRStatus mirrors the dashboard's pairing poll: whether a QR is
// pending, where its image lives, and the current phase.
func (h *Handler) QRStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.session.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"hasQR":      status.Phase == models.PhaseAwaitingScan,
		"qrImageRef": status.QRImageRef,
		"timestamp":  status.ChangedAt,
		"status":     string(status.Phase),
	})
}

// QRImage serves the rendered pairing PNG.
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	status := h.session.Status()
	if status.Phase != models.PhaseAwaitingScan {
		respondError(w, http.StatusNotFound, "no pairing qr available")
		return
	}
	if _, err := os.Stat(h.qrImagePath); err != nil {
		respondError(w, http.StatusNotFound, "qr image not rendered yet")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, h.qrImagePath)
}

// Contacts returns the reconciled directory.
func (h *Handler) Contacts(w http.ResponseWriter, _ *http.Request) {
	entries := h.directory.Entries()
	respondJSON(w, http.StatusOK, map[string]any{
		"contacts": entries,
		"total":    len(entries),
	})
}

// Jobs returns the job log, newest first.
func (h *Handler) Jobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.queue.Jobs()
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// EnqueueRequest is the POST /jobs body.
type EnqueueRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=script visual"`
	Target    string `json:"target" validate:"required"`
	ContentID string `json:"content_id" validate:"required"`
	// AllowProvisional confirms sending to a placeholder entry.
	AllowProvisional bool `json:"allow_provisional"`
}

// EnqueueJob records a new delivery job. The job is attempted on the
// next queue pass; a 202 response only means it was accepted.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, ok := h.directory.Lookup(req.Target)
	if !ok {
		respondError(w, http.StatusBadRequest, "target is not in the directory")
		return
	}
	if entry.Provisional && !req.AllowProvisional {
		respondError(w, http.StatusConflict,
			"target is a provisional placeholder; set allow_provisional to confirm")
		return
	}

	job, err := h.queue.Enqueue(models.JobKind(req.Kind), req.Target, req.ContentID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// Disconnect logs the session out and starts a fresh pairing flow.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(r.Context()); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			respondError(w, http.StatusConflict, "no session to disconnect")
			return
		}
		logging.Err(err).Msg("disconnect request failed")
		respondError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

// Scripts returns the generated scripts, newest first.
func (h *Handler) Scripts(w http.ResponseWriter, _ *http.Request) {
	scripts := h.contents.Scripts()
	respondJSON(w, http.StatusOK, map[string]any{
		"scripts": scripts,
		"total":   len(scripts),
	})
}

// Visuals returns the visual suggestion records, newest first.
func (h *Handler) Visuals(w http.ResponseWriter, _ *http.Request) {
	visuals := h.contents.Visuals()
	respondJSON(w, http.StatusOK, map[string]any{
		"visuals": visuals,
		"total":   len(visuals),
	})
}

// TopicRequest is the POST /topics body.
type TopicRequest struct {
	Text string `json:"text" validate:"required"`
}

// SubmitTopic queues a manual topic for the next relay poll.
func (h *Handler) SubmitTopic(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	topic, err := h.topics.SubmitTopic(req.Text)
	if err != nil {
		if errors.Is(err, relay.ErrEmptyTopic) {
			respondError(w, http.StatusBadRequest, "topic is empty")
			return
		}
		logging.Err(err).Msg("topic submission failed")
		respondError(w, http.StatusInternalServerError, "failed to record topic")
		return
	}
	respondJSON(w, http.StatusAccepted, topic)
}

// PendingTopics returns the manual topics awaiting the next poll.
func (h *Handler) PendingTopics(w http.ResponseWriter, _ *http.Request) {
	topics := h.topics.PendingTopics()
	respondJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"total":  len(topics),
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}
