package http

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Events handles GET /downloads/events as a server-sent event stream. Every
// event carries the whole job collection keyed by job id.
func (h *DownloadHandler) Events(w http.ResponseWriter, r *http.Request) {
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

	for snap := range h.service.Watch(r.Context()) {
		data, err := json.Marshal(snap)
		if err != nil {
			h.logger.Error("failed to encode snapshot", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: jobs\ndata: %s\n\n", data); err != nil {
			h.logger.Debug("event stream closed", "error", err)
			return
		}
		flusher.Flush()
	}
}
