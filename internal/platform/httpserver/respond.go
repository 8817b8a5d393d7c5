package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errNoCheck = errors.New("check not configured")

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

// WriteError writes {"error": code, "request_id": ...} plus any extra fields.
// extra cannot override error or request_id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string, extra map[string]any) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	requestID, _ := RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = r.Header.Get(HeaderRequestID)
	}
	body["error"] = code
	body["request_id"] = requestID
	WriteJSON(w, status, body)
}
