package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSessionStream streams session lifecycle events as server-sent
// events. Access is gated through the permission resolver like any other
// protected operation.
func (a *API) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !a.requireAuthorized(w, r) {
		return
	}
	if a.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context())
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
