package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/streams"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// handleStream serves a run's event stream over SSE. The consumer
// channel replays any backlog first, so connecting after the run
// started (or even after it finished) still yields every event in
// order. The connection closes after the terminal event; an idle
// stream carries ping comments to keep proxies from cutting it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ *models.User) {
	runID := r.PathValue("run_id")
	ctx := observability.WithRunID(r.Context(), runID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	ch, err := s.streams.Consume(ctx, runID, s.cfg.Streams.PingInterval)
	switch {
	case errors.Is(err, streams.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no stream for run")
		return
	case errors.Is(err, streams.ErrAlreadyConsumed):
		writeError(w, http.StatusConflict, "duplicate", "stream already has a consumer")
		return
	case err != nil:
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for env := range ch {
		if env.Heartbeat {
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		}
		if err := writeSSE(w, env.Event); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w io.Writer, ev models.RunEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte(`{}`)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
