// Package pipeline sequences the enrichment stages for one job,
// accumulating results in the store and stopping on the first
// unrecoverable failure.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/stage"
	"github.com/stackconsult/prospectpulse/internal/store"
)

// Outcome reports how one execution attempt ended.
type Outcome struct {
	// Status is the job status after this attempt, when known.
	Status model.JobStatus
	// Retry signals the worker to re-deliver after a transient failure.
	// The job keeps its current status so the next attempt resumes from
	// the first incomplete stage.
	Retry bool
	// Abandoned means another worker won the status race; this attempt
	// stopped with no side effects.
	Abandoned bool
	// Reason carries the stable failure code for failed jobs.
	Reason string
}

// Executor runs the fixed stage sequence for a job id.
type Executor struct {
	store  store.Store
	stages []stage.Runner
	lim    stage.Limiter
}

// New creates an Executor over the given stages, which must be in
// pipeline order.
func New(st store.Store, stages []stage.Runner, lim stage.Limiter) *Executor {
	return &Executor{store: st, stages: stages, lim: lim}
}

// Execute processes a job to its next resting state: succeeded, failed,
// or awaiting re-delivery after a transient stage failure. Re-delivery
// of a finished job is a no-op. Already-present stage results are
// skipped, so a retried job resumes from the first incomplete stage.
func (e *Executor) Execute(ctx context.Context, jobID string) (*Outcome, error) {
	log := zap.L().With(zap.String("job_id", jobID))

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load job")
	}
	if job.Terminal() {
		log.Info("pipeline: job already terminal, skipping",
			zap.String("status", string(job.Status)))
		return &Outcome{Status: job.Status}, nil
	}

	if job.Status == model.JobStatusQueued {
		if err := e.store.UpdateJobStatus(ctx, jobID, model.JobStatusRunning); err != nil {
			if store.IsInvalidTransition(err) {
				// Another worker claimed the job first.
				log.Info("pipeline: lost claim race, abandoning")
				return &Outcome{Abandoned: true}, nil
			}
			return nil, eris.Wrap(err, "pipeline: claim job")
		}
	}

	lead, err := e.store.GetLead(ctx, job.LeadID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load lead")
	}

	for _, runner := range e.stages {
		name := runner.Name()
		if lead.HasResult(name) {
			log.Debug("pipeline: stage result present, skipping",
				zap.String("stage", string(name)))
			continue
		}

		doc, runErr := runner.Run(ctx, lead, e.lim)
		if runErr != nil {
			if resilience.IsTransient(runErr) {
				log.Warn("pipeline: transient stage failure",
					zap.String("stage", string(name)),
					zap.Error(runErr),
				)
				return &Outcome{Status: job.Status, Retry: true}, nil
			}

			reason := resilience.ReasonFor(runErr)
			log.Error("pipeline: permanent stage failure",
				zap.String("stage", string(name)),
				zap.String("reason", reason),
				zap.Error(runErr),
			)
			if failErr := e.store.MarkJobFailed(ctx, jobID, reason); failErr != nil {
				if store.IsInvalidTransition(failErr) {
					return &Outcome{Abandoned: true}, nil
				}
				return nil, eris.Wrap(failErr, "pipeline: mark failed")
			}
			return &Outcome{Status: model.JobStatusFailed, Reason: reason}, nil
		}

		applied, err := e.store.UpsertLeadResult(ctx, lead.ID, name, doc)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: persist %s result", name)
		}
		if !applied {
			log.Info("pipeline: stage result already written by a peer",
				zap.String("stage", string(name)))
		}

		// Reload so later stages see exactly what was persisted.
		lead, err = e.store.GetLead(ctx, lead.ID)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: reload lead")
		}

		if err := e.store.UpdateJobStatus(ctx, jobID, name.CompleteStatus()); err != nil {
			if store.IsInvalidTransition(err) {
				log.Info("pipeline: lost transition race, abandoning",
					zap.String("stage", string(name)))
				return &Outcome{Abandoned: true}, nil
			}
			return nil, eris.Wrap(err, "pipeline: advance status")
		}
		log.Info("pipeline: stage complete", zap.String("stage", string(name)))
	}

	grade, err := gradeFromLead(lead)
	if err != nil {
		if failErr := e.store.MarkJobFailed(ctx, jobID, "malformed_result"); failErr != nil && !store.IsInvalidTransition(failErr) {
			return nil, eris.Wrap(failErr, "pipeline: mark failed")
		}
		return &Outcome{Status: model.JobStatusFailed, Reason: "malformed_result"}, nil
	}
	if err := e.store.SetLeadGrade(ctx, lead.ID, grade); err != nil {
		return nil, eris.Wrap(err, "pipeline: set grade")
	}

	if err := e.store.UpdateJobStatus(ctx, jobID, model.JobStatusSucceeded); err != nil {
		if store.IsInvalidTransition(err) {
			return &Outcome{Abandoned: true}, nil
		}
		return nil, eris.Wrap(err, "pipeline: mark succeeded")
	}

	log.Info("pipeline: enrichment complete",
		zap.String("lead_id", lead.ID),
		zap.String("grade", grade),
	)
	return &Outcome{Status: model.JobStatusSucceeded}, nil
}

func gradeFromLead(lead *model.Lead) (string, error) {
	var synth model.SynthesizedResult
	if err := json.Unmarshal(lead.Synthesized, &synth); err != nil {
		return "", eris.Wrap(err, "pipeline: decode synthesized result")
	}
	return model.GradeFor(synth.FitScore), nil
}
