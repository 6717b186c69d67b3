// Package monitoring watches job health: it samples recent jobs into a
// metrics snapshot, evaluates the snapshot against thresholds, and
// delivers alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job health, built from
// the most recent jobs up to the sample limit.
type MetricsSnapshot struct {
	JobsTotal     int `json:"jobs_total"`
	JobsQueued    int `json:"jobs_queued"`
	JobsRunning   int `json:"jobs_running"`
	JobsSucceeded int `json:"jobs_succeeded"`
	JobsFailed    int `json:"jobs_failed"`

	// FailRate is failed over finished (succeeded + failed). Zero when
	// nothing has finished yet.
	FailRate float64 `json:"fail_rate"`

	// FailReasons tallies the stable failure codes of failed jobs.
	FailReasons map[string]int `json:"fail_reasons,omitempty"`

	SampleLimit int       `json:"sample_limit"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector builds metrics snapshots from the job store.
type Collector struct {
	store       store.Store
	sampleLimit int
}

// NewCollector creates a Collector sampling at most sampleLimit recent
// jobs per snapshot. A non-positive limit falls back to 1000.
func NewCollector(st store.Store, sampleLimit int) *Collector {
	if sampleLimit <= 0 {
		sampleLimit = 1000
	}
	return &Collector{store: st, sampleLimit: sampleLimit}
}

// Collect samples recent jobs and aggregates them into a snapshot.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	jobs, err := c.store.ListJobs(ctx, store.JobFilter{Limit: c.sampleLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: sample jobs")
	}

	snap := &MetricsSnapshot{
		SampleLimit: c.sampleLimit,
		FailReasons: make(map[string]int),
		CollectedAt: time.Now().UTC(),
	}
	for _, job := range jobs {
		snap.JobsTotal++
		switch job.Status {
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusSucceeded:
			snap.JobsSucceeded++
		case model.JobStatusFailed:
			snap.JobsFailed++
			if job.Reason != "" {
				snap.FailReasons[job.Reason]++
			}
		default:
			// Running and the stage_complete states are all in flight.
			snap.JobsRunning++
		}
	}

	if finished := snap.JobsSucceeded + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if len(snap.FailReasons) == 0 {
		snap.FailReasons = nil
	}
	return snap, nil
}
