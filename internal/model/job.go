package model

import "time"

// JobStatus represents the current state of an enrichment job.
type JobStatus string

const (
	JobStatusQueued             JobStatus = "queued"
	JobStatusRunning            JobStatus = "running"
	JobStatusMiningComplete     JobStatus = "stage_complete:mining"
	JobStatusValidationComplete JobStatus = "stage_complete:validation"
	JobStatusSynthesisComplete  JobStatus = "stage_complete:synthesis"
	JobStatusSucceeded          JobStatus = "succeeded"
	JobStatusFailed             JobStatus = "failed"
)

// statusRank orders the non-failed statuses along the single legal path.
// Failed is reachable from any non-terminal state and has no rank.
var statusRank = map[JobStatus]int{
	JobStatusQueued:             0,
	JobStatusRunning:            1,
	JobStatusMiningComplete:     2,
	JobStatusValidationComplete: 3,
	JobStatusSynthesisComplete:  4,
	JobStatusSucceeded:          5,
}

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	if s == JobStatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether moving from one status to another is a
// legal step. Progress is strictly forward along the stage path; failed
// is reachable from any non-terminal state.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Progress maps a status to a completion fraction for callers that
// render a progress bar.
func (s JobStatus) Progress() float64 {
	switch s {
	case JobStatusQueued:
		return 0.0
	case JobStatusRunning:
		return 0.1
	case JobStatusMiningComplete:
		return 0.4
	case JobStatusValidationComplete:
		return 0.7
	case JobStatusSynthesisComplete:
		return 0.9
	case JobStatusSucceeded:
		return 1.0
	default:
		return 0.0
	}
}

// Job is the lifecycle record of one enrichment request.
type Job struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id"`
	WorkspaceID string    `json:"workspace_id"`
	Status      JobStatus `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}
