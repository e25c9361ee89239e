// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package metrics provides Prometheus instrumentation for the relay:
// delivery outcomes, transport send latency, session reconnects,
// directory size, and API traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery queue metrics
	DeliveryJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_jobs_total",
			Help: "Delivery jobs reaching a terminal status",
		},
		[]string{"kind", "status"}, // status: completed, failed
	)

	DeliveryQueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_queue_pending",
			Help: "Jobs currently pending in the delivery queue",
		},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transport_send_duration_seconds",
			Help:    "Duration of transport send attempts in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Session lifecycle metrics
	SessionConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_connected",
			Help: "1 while the chat session is fully established",
		},
	)

	SessionReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_reconnects_total",
			Help: "Reconnection attempts after connection loss",
		},
	)

	SessionQRIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_qr_issued_total",
			Help: "QR pairing payloads issued",
		},
	)

	// Directory metrics
	DirectoryEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "directory_entries",
			Help: "Reconciled directory entries by kind",
		},
		[]string{"kind"},
	)

	DirectorySourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_source_errors_total",
			Help: "Directory source queries skipped due to errors",
		},
		[]string{"source"},
	)

	// Dashboard bridge metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected dashboard websocket clients",
		},
	)
)
