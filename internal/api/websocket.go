// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package api

import (
	"net/http"

	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/websocket"
)

// newUpgrader builds the websocket upgrader with origin checking
// aligned to the CORS configuration.
func newUpgrader(allowedOrigins []string) gws.Upgrader {
	return gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from a configured origin. A "*" entry
// allows every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		return set[origin]
	}
}

// WebSocket upgrades the connection and hands it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	websocket.NewClient(h.hub, conn).Start()
}
