// Package handlers implements the four routes spec'd for the gateway:
// /ping, /new, /session/{id}, and /capacity. Each is a thin dispatch onto
// the pool, the relay, and the capacity broadcaster; none holds state of
// its own.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sessionhost/services/browserpool"
	"sessionhost/services/capacity"
)

// Handlers groups the shared dependencies every route needs.
type Handlers struct {
	Pool        *browserpool.Pool
	Broadcaster *capacity.Broadcaster
	upgrader    websocket.Upgrader
}

// New builds a Handlers bound to pool and broadcaster. allowedOrigins
// configures the WebSocket upgrader's origin check; an empty list allows
// any origin (the gateway is typically fronted by its own CORS policy at
// the HTTP layer, not at the upgrade handshake).
func New(pool *browserpool.Pool, broadcaster *capacity.Broadcaster, allowedOrigins []string) *Handlers {
	h := &Handlers{Pool: pool, Broadcaster: broadcaster}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin: func(r *http.Request) bool {
			return allowOrigin(allowedOrigins, r)
		},
	}
	return h
}

func allowOrigin(allowed []string, r *http.Request) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
