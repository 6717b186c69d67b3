package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/stackconsult/prospectpulse/internal/model"
)

func newJob(leadID, workspaceID string) *model.Job {
	now := time.Now().UTC()
	return &model.Job{
		ID:          uuid.New().String(),
		LeadID:      leadID,
		WorkspaceID: workspaceID,
		Status:      model.JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// bumpClock returns a timestamp strictly after prev. Transitions landing
// within the same tick still produce a strictly increasing updated_at.
func bumpClock(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
