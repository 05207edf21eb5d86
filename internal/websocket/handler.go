// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/letterbox/internal/hooks"
)

// AuthFunc resolves the user of an upgrade request. A nil Principal with a
// nil error is an anonymous user.
type AuthFunc func(r *http.Request) (hooks.Principal, error)

// Handler upgrades requests to websocket clients of hub. With authentication
// required, requests without a valid session get 401. Origins are checked
// against allowedOrigins; "*" allows any origin.
func Handler(hub *Hub, authn AuthFunc, allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r.Header.Get("Origin"), r.Host, allowedOrigins)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user hooks.Principal
		if authn != nil {
			u, err := authn(r)
			if err != nil {
				hub.logger.Debug().Err(err).Msg("Websocket authentication failed")
			}
			user = u
		}
		if hub.authRequired && user == nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Debug().Err(err).Msg("Websocket upgrade failed")
			return
		}
		client := NewClient(hub, conn, user)
		if !hub.Register(client) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			_ = conn.Close()
			return
		}
		client.Start()
	})
}

// checkOrigin accepts same-host and configured origins. Requests without an
// Origin header are rejected.
func checkOrigin(origin, host string, allowed []string) bool {
	if origin == "" {
		return false
	}
	if origin == "http://"+host || origin == "https://"+host {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
