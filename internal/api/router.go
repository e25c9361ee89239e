// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/newsrelay/internal/config"
	"github.com/tomtom215/newsrelay/internal/metrics"
)

// NewRouter wires the full dashboard bridge: global middleware, the
// metrics and websocket endpoints, and the rate-limited /api/v1 group.
func NewRouter(h *Handler, sec config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: sec.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", h.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		if sec.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(sec.RateLimitReqs, sec.RateLimitWindow))
		}
		r.Use(metricsMiddleware)

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Get("/status", h.Status)
		r.Get("/qr", h.QRStatus)
		r.Get("/qr/image", h.QRImage)
		r.Get("/contacts", h.Contacts)
		r.Get("/jobs", h.Jobs)
		r.Post("/jobs", h.EnqueueJob)
		r.Post("/disconnect", h.Disconnect)
		r.Get("/scripts", h.Scripts)
		r.Get("/visuals", h.Visuals)
		r.Get("/topics", h.PendingTopics)
		r.Post("/topics", h.SubmitTopic)
	})

	return r
}

// metricsMiddleware records per-endpoint request counters using the Chi
// route pattern so path parameters do not explode label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.APIRequestsTotal.
			WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).
			Inc()
	})
}
