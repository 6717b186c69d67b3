package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/store"
)

// handleStream serves a server-sent event feed of one job's status. An
// event is emitted immediately, then once per observed status change;
// the stream closes after the first terminal status, on client
// disconnect, or when the stream timeout elapses.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ctx := r.Context()

	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		g.log.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, viewOf(job))
	flusher.Flush()
	if job.Terminal() {
		return
	}

	lastStatus := job.Status

	ticker := time.NewTicker(g.opts.StreamPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(g.opts.StreamTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			writeComment(w, "timeout")
			flusher.Flush()
			return
		case <-ticker.C:
		}

		job, err = g.store.GetJob(ctx, jobID)
		if err != nil {
			g.log.Warn("stream poll failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		if job.Status == lastStatus {
			continue
		}
		lastStatus = job.Status

		writeEvent(w, viewOf(job))
		flusher.Flush()
		if job.Terminal() {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, view jobView) {
	payload, err := json.Marshal(view)
	if err != nil {
		zap.L().Warn("gateway: encode stream event failed", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
}

func writeComment(w http.ResponseWriter, text string) {
	fmt.Fprintf(w, ": %s\n\n", text)
}
