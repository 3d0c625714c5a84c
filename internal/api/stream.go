package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/kdimtricp/signassist/internal/models"
)

const keepAliveInterval = 15 * time.Second

// eventsHandler streams session events as SSE. The first event is always a
// full state snapshot; the stream ends when the session is closed.
func (s *server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	id := chi.URLParam(r, "id")
	ch, unsubscribe, err := s.opts.Sessions.Subscribe(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				slog.Error("failed to encode session event", "session", id, "type", evt.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

// webcamStreamHandler upgrades to a WebSocket and hands the connection to
// the session as its live frame source.
func (s *server) webcamStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.opts.Sessions.View(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if view.Mode != models.DisplayWebcam.String() {
		writeProblem(w, huma.Error409Conflict(fmt.Sprintf("webcam stream is not available in %s mode", view.Mode)))
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("webcam upgrade failed", "session", id, "error", err)
		return
	}
	if _, err := s.opts.Sessions.AttachWebcam(id, conn); err != nil {
		slog.Warn("webcam attach failed", "session", id, "error", err)
		return
	}
	slog.Info("webcam stream attached", "session", id, "remote", r.RemoteAddr)
}
