package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionhost/logger"
)

// Capacity upgrades the connection, registers it as the sole capacity
// observer (replacing whatever was registered before), sends an immediate
// snapshot, then blocks until the connection closes.
func (h *Handlers) Capacity(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("capacity upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.Broadcaster.Register(conn)

	snapshot := h.Pool.Stats().Available
	if err := conn.WriteMessage(websocket.TextMessage, []byte(strconv.Itoa(snapshot))); err != nil {
		h.Broadcaster.Unregister(conn)
		return
	}

	// The observer never sends anything meaningful; read until it closes so
	// we notice disconnects and don't leak the goroutine driving this
	// handler. Any inbound frame is discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Broadcaster.Unregister(conn)
			return
		}
	}
}
