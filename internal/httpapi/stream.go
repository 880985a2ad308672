package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
)

// heartbeatInterval is how often StreamJob writes a "heartbeat" SSE event,
// so intermediary proxies don't time out the connection. The ticker runs
// on its own schedule and is not reset by job events.
const heartbeatInterval = 15 * time.Second

// StreamJob handles GET /jobs/{id}/stream requests, relaying the job's live
// progress bus as Server-Sent Events until the job reaches a terminal state
// or the client disconnects.
func (h *Handlers) StreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	sub, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, enginejob.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to subscribe", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to subscribe", "JOB_STREAM_FAILED")
		return
	}
	defer sub.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "JOB_STREAM_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeSSEEvent(w, progressbus.Event{JobID: jobID, Kind: progressbus.EventHeartbeat, Timestamp: time.Now()}); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				h.logger.Warn("failed to write stream event", slog.String("job_id", jobID), slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
			if event.IsTerminal() {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event progressbus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload)
	return err
}
