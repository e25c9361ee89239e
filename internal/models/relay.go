// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package models defines the core data types shared across the relay:
// connection state snapshots, directory entries, and delivery jobs.
package models

import "time"

// ConnectionPhase is the lifecycle phase of the chat session.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseAwaitingScan ConnectionPhase = "awaiting_scan"
	PhaseConnected    ConnectionPhase = "connected"
	PhaseClosing      ConnectionPhase = "closing"
)

// ConnectionStatus is a point-in-time snapshot of the session state.
//
// Invariants (enforced by the session manager):
//   - Phase == PhaseAwaitingScan implies QRPayload != ""
//   - Phase == PhaseConnected implies Identity != "" and QRPayload == ""
type ConnectionStatus struct {
	Phase      ConnectionPhase `json:"phase"`
	SessionID  string          `json:"session_id,omitempty"`
	Identity   string          `json:"identity,omitempty"`
	QRPayload  string          `json:"-"`
	QRImageRef string          `json:"qr_image_ref,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// Connected reports whether the session is fully established.
func (s ConnectionStatus) Connected() bool {
	return s.Phase == PhaseConnected
}

// StatusUpdate is the message pushed to dashboard websocket clients on
// every connection state transition. Field names match the dashboard
// bridge wire contract.
type StatusUpdate struct {
	Connected      bool   `json:"connected"`
	HasPendingAuth bool   `json:"hasPendingAuth"`
	QRImageRef     string `json:"qrImageRef,omitempty"`
	Identity       string `json:"identity,omitempty"`
}

// StatusUpdateFrom derives the push message from a status snapshot.
func StatusUpdateFrom(s ConnectionStatus) StatusUpdate {
	return StatusUpdate{
		Connected:      s.Connected(),
		HasPendingAuth: s.Phase == PhaseAwaitingScan,
		QRImageRef:     s.QRImageRef,
		Identity:       s.Identity,
	}
}

// ContactKind distinguishes group destinations from individuals.
type ContactKind string

const (
	KindGroup      ContactKind = "group"
	KindIndividual ContactKind = "individual"
)

// DirectoryEntry is one addressable destination in the reconciled
// directory. Identifier is the unique key; Kind is immutable once set.
type DirectoryEntry struct {
	Identifier   string      `json:"identifier"`
	DisplayName  string      `json:"display_name"`
	Kind         ContactKind `json:"kind"`
	DiscoveredAt time.Time   `json:"discovered_at"`
	// Provisional marks heuristic placeholder entries that must not be
	// used as send targets without explicit confirmation.
	Provisional bool `json:"provisional,omitempty"`
}

// JobKind selects which content collection a delivery job draws from.
type JobKind string

const (
	JobScript JobKind = "script"
	JobVisual JobKind = "visual"
)

// JobStatus is the delivery state of a job. Transitions are monotonic:
// Pending may move to Completed or Failed, terminal states never change.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// DeliveryJob is one durable outbound send request. Records are retained
// indefinitely in the persisted log; failed jobs are never re-enqueued
// automatically.
type DeliveryJob struct {
	ID          uint64     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Target      string     `json:"target"`
	ContentID   string     `json:"content_id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
}
