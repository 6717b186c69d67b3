package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/store"
)

// enqueueRequest is the submission payload.
type enqueueRequest struct {
	Company     string `json:"company"`
	Contact     string `json:"contact"`
	WorkspaceID string `json:"workspace_id"`
}

// jobView is the status wire shape, a Job plus its derived progress.
type jobView struct {
	JobID       string    `json:"job_id"`
	LeadID      string    `json:"lead_id"`
	WorkspaceID string    `json:"workspace_id"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewOf(job *model.Job) jobView {
	return jobView{
		JobID:       job.ID,
		LeadID:      job.LeadID,
		WorkspaceID: job.WorkspaceID,
		Status:      string(job.Status),
		Progress:    job.Status.Progress(),
		Reason:      job.Reason,
		Attempts:    job.Attempts,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func (g *Gateway) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input := model.LeadInput{Company: req.Company, Contact: req.Contact}
	if input.Empty() {
		respondError(w, http.StatusBadRequest, "company or contact is required")
		return
	}
	if req.WorkspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	ctx := r.Context()
	lead, err := g.store.EnsureLead(ctx, req.WorkspaceID, input)
	if err != nil {
		g.log.Error("ensure lead failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	job, err := g.store.CreateJob(ctx, lead.ID, req.WorkspaceID)
	if err != nil {
		if store.IsDuplicateActiveJob(err) {
			respondError(w, http.StatusConflict, "an active job already exists for this lead")
			return
		}
		g.log.Error("create job failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	mode := g.dispatch(ctx, job.ID)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.ID,
		"lead_id": lead.ID,
		"status":  string(job.Status),
		"mode":    mode,
	})
}

// dispatch publishes the job to the broker, falling back to in-process
// execution while the broker is unreachable. The returned mode is
// "queued" or "inline".
func (g *Gateway) dispatch(ctx context.Context, jobID string) string {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.broker.Enqueue(ctx, jobID)
	})
	if err == nil {
		return "queued"
	}

	g.log.Warn("broker unavailable, running job inline",
		zap.String("job_id", jobID),
		zap.Error(err),
	)
	go func() {
		// Detached from the request lifetime.
		if err := g.inline.RunInline(context.WithoutCancel(ctx), jobID); err != nil {
			g.log.Error("inline execution failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()
	return "inline"
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := g.store.GetJob(r.Context(), jobID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		g.log.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, viewOf(job))
}
