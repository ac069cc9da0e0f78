package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"gatewarden/internal/dispatch"
)

// eventsHandler streams the dashboard feed over server-sent events. Each
// event's stream sequence number doubles as the SSE event ID, so a client
// reconnecting with Last-Event-ID resumes from the replay window and sees a
// missed marker when it fell further behind.
type eventsHandler struct {
	dispatcher *dispatch.Dispatcher
	buffer     int
	logger     *slog.Logger
}

func (h *eventsHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var lastSeen uint64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			lastSeen = n
		}
	}

	sub := h.dispatcher.Subscribe(h.buffer, lastSeen)
	defer h.dispatcher.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		event, ok := sub.Next(ctx)
		if !ok {
			return
		}
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.ErrorContext(ctx, "encode stream event", "seq", event.Seq, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}
