package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qms/window-queue/internal/models"
)

// handleWindowStream serves /api/windows/{w}/stream as Server-Sent Events.
// Every frame carries the full window view.
func (h *Handler) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/windows/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "stream" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, requestIDFrom(r), http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	ctx := r.Context()
	sub, err := h.svc.SubscribeWindow(ctx, parts[0])
	if err != nil {
		h.writeServiceError(w, requestIDFrom(r), err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeViewEvent(w, view); err != nil {
				h.log.Debug("stream write failed", "window_id", sub.WindowID, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeViewEvent(w http.ResponseWriter, view models.WindowQueueView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: view\ndata: %s\n\n", data)
	return err
}
