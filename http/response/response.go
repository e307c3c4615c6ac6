// Package response holds the small set of HTTP response writers shared by
// every handler, so handlers never touch w.Write/json.Marshal directly.
package response

import (
	"encoding/json"
	"net/http"
)

// RespondJSON writes v as a JSON body with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// RespondMessage writes a plain-text body with the given status code.
func RespondMessage(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// RespondError writes err's message as a plain-text body with the given
// status code.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondMessage(w, status, err.Error())
}
