package monitoring

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

// seedJobs creates one job per requested terminal state plus the given
// number of queued jobs, each on its own lead.
func seedJobs(t *testing.T, st store.Store, queued, running, succeeded int, failReasons []string) {
	t.Helper()
	ctx := context.Background()
	n := 0
	next := func() *model.Job {
		n++
		lead, err := st.EnsureLead(ctx, "ws-1", model.LeadInput{Company: fmt.Sprintf("Company %d", n)})
		require.NoError(t, err)
		job, err := st.CreateJob(ctx, lead.ID, "ws-1")
		require.NoError(t, err)
		return job
	}

	for i := 0; i < queued; i++ {
		next()
	}
	for i := 0; i < running; i++ {
		require.NoError(t, st.UpdateJobStatus(ctx, next().ID, model.JobStatusRunning))
	}
	for i := 0; i < succeeded; i++ {
		require.NoError(t, st.UpdateJobStatus(ctx, next().ID, model.JobStatusSucceeded))
	}
	for _, reason := range failReasons {
		require.NoError(t, st.MarkJobFailed(ctx, next().ID, reason))
	}
}

func TestCollectTalliesStatuses(t *testing.T) {
	st := newTestStore(t)
	seedJobs(t, st, 2, 1, 3, []string{"invalid_input", "retries_exhausted", "retries_exhausted"})

	snap, err := NewCollector(st, 100).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsQueued)
	assert.Equal(t, 1, snap.JobsRunning)
	assert.Equal(t, 3, snap.JobsSucceeded)
	assert.Equal(t, 3, snap.JobsFailed)
	assert.InDelta(t, 0.5, snap.FailRate, 0.001)
	assert.Equal(t, map[string]int{"invalid_input": 1, "retries_exhausted": 2}, snap.FailReasons)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectEmptyStore(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st, 0).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, snap.JobsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Nil(t, snap.FailReasons)
	assert.Equal(t, 1000, snap.SampleLimit)
}

func TestCollectCountsInFlightStagesAsRunning(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	lead, err := st.EnsureLead(ctx, "ws-1", model.LeadInput{Company: "Acme Corp"})
	require.NoError(t, err)
	job, err := st.CreateJob(ctx, lead.ID, "ws-1")
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusRunning))
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusMiningComplete))

	snap, err := NewCollector(st, 100).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.JobsRunning)
	assert.Equal(t, 0, snap.JobsQueued)
}
