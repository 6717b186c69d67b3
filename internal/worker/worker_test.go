package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/prospectpulse/internal/limiter"
	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/pipeline"
	"github.com/stackconsult/prospectpulse/internal/queue"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/stage"
	"github.com/stackconsult/prospectpulse/internal/store"
	"github.com/stackconsult/prospectpulse/pkg/llm"
)

type stubExecutor struct {
	outcomes []*pipeline.Outcome
	errs     []error
	calls    atomic.Int32
}

func (s *stubExecutor) Execute(ctx context.Context, jobID string) (*pipeline.Outcome, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	return s.outcomes[i], s.errs[i]
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedJob(t *testing.T, st store.Store) *model.Job {
	t.Helper()
	ctx := context.Background()
	lead, err := st.EnsureLead(ctx, "ws-1", model.LeadInput{Company: "Acme Corp", Contact: "jo@acme.test"})
	require.NoError(t, err)
	job, err := st.CreateJob(ctx, lead.ID, "ws-1")
	require.NoError(t, err)
	return job
}

func fastRetry(maxAttempts int) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.JitterFraction = 0
	return cfg
}

func TestProcessAcksTerminalOutcome(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{{Status: model.JobStatusSucceeded}},
		errs:     []error{nil},
	}
	w := New(st, broker, exec, fastRetry(3))

	require.NoError(t, w.Process(context.Background(), job.ID))
	assert.EqualValues(t, 1, exec.calls.Load())

	// Nothing should come back for re-delivery.
	id, err := broker.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestProcessNacksTransientFailure(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{{Status: model.JobStatusRunning, Retry: true}},
		errs:     []error{nil},
	}
	w := New(st, broker, exec, fastRetry(3))

	require.NoError(t, w.Process(context.Background(), job.ID))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	id, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestProcessFailsJobWhenAttemptsExhausted(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{{Status: model.JobStatusRunning, Retry: true}},
		errs:     []error{nil},
	}
	w := New(st, broker, exec, fastRetry(2))
	ctx := context.Background()

	// First delivery schedules a retry, second burns the budget.
	require.NoError(t, w.Process(ctx, job.ID))
	require.NoError(t, w.Process(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, FailureReasonRetriesExhausted, got.Reason)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcessRedeliversExecutorError(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{nil},
		errs:     []error{eris.New("store hiccup")},
	}
	w := New(st, broker, exec, fastRetry(3))

	require.NoError(t, w.Process(context.Background(), job.ID))

	id, err := broker.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestProcessDropsUnknownJob(t *testing.T) {
	st := newTestStore(t)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{nil},
		errs:     []error{eris.Wrap(store.ErrNotFound, "load job")},
	}
	w := New(st, broker, exec, fastRetry(3))

	require.NoError(t, w.Process(context.Background(), "gone"))

	id, err := broker.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{{Status: model.JobStatusSucceeded}},
		errs:     []error{nil},
	}
	w := New(st, broker, exec, fastRetry(3))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, broker.Enqueue(ctx, job.ID))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return exec.calls.Load() >= 1 },
		time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestPoolStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := &stubExecutor{
		outcomes: []*pipeline.Outcome{{Status: model.JobStatusSucceeded}},
		errs:     []error{nil},
	}
	pool := NewPool(3, func() *Worker {
		return New(st, broker, exec, fastRetry(3))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop on cancel")
	}
}

// flakySearchLimiter denies the first n acquires for the search
// provider, then grants everything.
type flakySearchLimiter struct {
	denials atomic.Int32
	max     int32
}

func (l *flakySearchLimiter) Acquire(provider string) error {
	if provider == stage.ProviderSearch && l.denials.Add(1) <= l.max {
		return &limiter.WouldBlockError{Provider: provider, RetryAfter: time.Millisecond}
	}
	return nil
}

func TestRunRecoversFromRepeatedRateLimiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newTestStore(t)
	job := seedJob(t, st)
	broker := queue.NewMemory()
	defer broker.Close()

	exec := pipeline.New(st, stage.DefaultRunners(llm.NewStub()), &flakySearchLimiter{max: 2})
	w := New(st, broker, exec, fastRetry(5))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.NoError(t, broker.Enqueue(ctx, job.ID))

	require.Eventually(t, func() bool {
		got, err := st.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == model.JobStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	lead, err := st.GetLead(context.Background(), got.LeadID)
	require.NoError(t, err)
	var mined model.MinedResult
	require.NoError(t, json.Unmarshal(lead.Mined, &mined))
	assert.Len(t, mined.Signals, 2)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
