package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
)

// keepAliveInterval keeps idle proxies from closing a quiet stream.
const keepAliveInterval = 25 * time.Second

// StreamEvents handles GET /api/v1/interactions/{id}/events as a
// server-sent event stream of the interaction's broadcasts.
func (h *REST) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id := chi.URLParam(r, "id")
	log := h.logger.With(slog.String("interaction_id", id))

	events, err := h.subscriber.Subscribe(r.Context(), broadcast.Channel(id), log)
	if err != nil {
		log.Error("subscribe", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(env.Data)
			if err != nil {
				log.Warn("dropping unencodable event", slog.String("event", env.Event), slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
