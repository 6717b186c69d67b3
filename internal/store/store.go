// Package store owns the durable record of jobs, leads, and workspaces.
// All cross-worker coordination runs through its atomic operations.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/stackconsult/prospectpulse/internal/model"
)

// Sentinel errors callers branch on. Implementations wrap these with
// context; test with the Is* helpers.
var (
	ErrNotFound           = eris.New("not found")
	ErrDuplicateActiveJob = eris.New("duplicate active job")
	ErrInvalidTransition  = eris.New("invalid status transition")
)

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicateActiveJob reports whether err indicates an active job
// already exists for the lead in the workspace.
func IsDuplicateActiveJob(err error) bool { return errors.Is(err, ErrDuplicateActiveJob) }

// IsInvalidTransition reports whether err indicates a rejected status
// move, either an illegal step or a lost compare-and-set race.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Status      model.JobStatus `json:"status,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Store defines the persistence contract for the job subsystem. Every
// successful status or result write bumps updated_at and is immediately
// visible to concurrent readers.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, leadID, workspaceID string) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	// UpdateJobStatus compare-and-sets the status against the current
	// value, enforcing the state machine. A concurrent winner leaves
	// losers with ErrInvalidTransition and no side effects.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	// MarkJobFailed moves the job to failed with a stable reason code.
	MarkJobFailed(ctx context.Context, jobID, reason string) error
	// IncJobAttempts bumps the delivery attempt counter and returns the
	// new value.
	IncJobAttempts(ctx context.Context, jobID string) (int, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Leads
	EnsureLead(ctx context.Context, workspaceID string, input model.LeadInput) (*model.Lead, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	// UpsertLeadResult writes a stage result only if absent and reports
	// whether the write was applied or skipped as already present.
	UpsertLeadResult(ctx context.Context, leadID string, stage model.Stage, result any) (bool, error)
	// SetLeadGrade records the derived grade once, and only after the
	// synthesis result is present.
	SetLeadGrade(ctx context.Context, leadID, grade string) error
	ListLeads(ctx context.Context, workspaceID string, limit, offset int) ([]model.Lead, error)

	// Workspaces
	PutWorkspace(ctx context.Context, ws model.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func stageColumn(stage model.Stage) (string, error) {
	switch stage {
	case model.StageMining:
		return "mined", nil
	case model.StageValidation:
		return "validated", nil
	case model.StageSynthesis:
		return "synthesized", nil
	default:
		return "", eris.Errorf("unknown stage: %s", stage)
	}
}
