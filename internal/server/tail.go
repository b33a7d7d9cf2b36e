package server

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/protocol"
	"github.com/agentdeck/agentdeck/internal/tailer"
)

// handleTailSSE streams tail events for one file as server-sent events. The
// watch lives for the duration of the request; closing the response ends it.
func (s *Server) handleTailSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	follow := r.URL.Query().Get("follow") != "false"

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	watch, err := tailer.Start(r.Context(), path, tailer.Options{
		Follow:          follow,
		MaxInitialBytes: s.cfg.Tail.MaxInitialBytes,
		Debounce:        time.Duration(s.cfg.Tail.DebounceMillis) * time.Millisecond,
	}, slog.Default())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer watch.Stop()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TailWatches.Add(r.Context(), 1)
	}
	slog.Info("sse: tail opened", "path", watch.Path(), "follow", follow)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range watch.Events() {
		var payload any
		var size int
		switch ev.Kind {
		case protocol.TailInitial, protocol.TailReplace:
			payload = protocol.TailSnapshot{Content: ev.Content, Truncated: ev.Truncated}
			size = len(ev.Content)
		case protocol.TailAppend:
			payload = protocol.TailDelta{Data: ev.Data}
			size = len(ev.Data)
		case protocol.TailError:
			payload = protocol.TailFailure{Message: ev.Message}
		}

		frame, err := protocol.EncodeSSE(ev.Kind, payload)
		if err != nil {
			slog.Error("sse: encode failed", "path", watch.Path(), "kind", ev.Kind, "error", err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TailEvents.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("kind", ev.Kind)))
		}
		s.publish(bus.TopicTailChanged, bus.TailEvent{Path: watch.Path(), Kind: ev.Kind, Size: size})
	}
	slog.Info("sse: tail closed", "path", watch.Path())
}
