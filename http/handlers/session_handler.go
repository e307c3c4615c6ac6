package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apxresp "sessionhost/http/response"
	"sessionhost/logger"
	"sessionhost/services/relay"
)

// Session upgrades the connection and relays frames between the caller and
// the instance's debugger endpoint until either side ends the conversation.
// Only a syntactically invalid ID is rejected pre-upgrade; an unrecognized
// (but well-formed) ID still upgrades and is then closed with a server-error
// reason, since the failure is discovered only after the handshake.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apxresp.RespondMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid session ID: %s", id))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("session upgrade failed", zap.String("id", id), zap.Error(err))
		return
	}

	debuggerURL, ok := h.Pool.LookupDebuggerURL(id)
	if !ok {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, fmt.Sprintf("Unknown session ID: %s", id))
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(5*time.Second))
		_ = conn.Close()
		return
	}

	if err := relay.Relay(r.Context(), conn, id, debuggerURL, h.Pool); err != nil {
		logger.Error("relay ended with error", zap.String("id", id), zap.Error(err))
	}
}
