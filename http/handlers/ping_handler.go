package handlers

import (
	"net/http"

	apxresp "sessionhost/http/response"
)

// Ping answers liveness probes. No pool access: a hung pool must not make
// the process look dead to an orchestrator.
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	apxresp.RespondMessage(w, http.StatusOK, "ok")
}
