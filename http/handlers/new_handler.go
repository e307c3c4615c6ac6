package handlers

import (
	"fmt"
	"net/http"

	apxresp "sessionhost/http/response"
)

// New allocates one browser session and returns its ID.
func (h *Handlers) New(w http.ResponseWriter, r *http.Request) {
	id, err := h.Pool.Allocate(r.Context())
	if err != nil {
		apxresp.RespondMessage(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create browser session: %s", err.Error()))
		return
	}
	apxresp.RespondJSON(w, http.StatusOK, map[string]string{"id": id})
}
