// Package worker consumes job notifications from the broker and drives
// them through the pipeline, re-delivering transient failures with
// backoff until the attempt budget runs out.
package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackconsult/prospectpulse/internal/pipeline"
	"github.com/stackconsult/prospectpulse/internal/queue"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/store"
)

const dequeueTimeout = 2 * time.Second

// FailureReasonRetriesExhausted is recorded on jobs that burn through
// every delivery attempt without completing.
const FailureReasonRetriesExhausted = "retries_exhausted"

// Executor is the subset of the pipeline the worker invokes.
type Executor interface {
	Execute(ctx context.Context, jobID string) (*pipeline.Outcome, error)
}

// Worker drains one consumer loop against the broker.
type Worker struct {
	store  store.Store
	broker queue.Broker
	exec   Executor
	retry  resilience.RetryConfig
	log    *zap.Logger
}

func New(st store.Store, broker queue.Broker, exec Executor, retry resilience.RetryConfig) *Worker {
	return &Worker{
		store:  st,
		broker: broker,
		exec:   exec,
		retry:  retry,
		log:    zap.L().Named("worker"),
	}
}

// Run consumes until ctx is cancelled. Broker errors are logged and
// retried after a short pause rather than killing the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		jobID, err := w.broker.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if jobID == "" {
			continue
		}

		if err := w.Process(ctx, jobID); err != nil {
			w.log.Error("job processing failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}
}

// Process runs one delivery of a job and settles the notification:
// terminal or abandoned outcomes ack, transient failures nack with
// backoff until attempts are exhausted.
func (w *Worker) Process(ctx context.Context, jobID string) error {
	outcome, err := w.exec.Execute(ctx, jobID)
	if err != nil {
		if store.IsNotFound(err) {
			// Stale notification for a job that no longer exists.
			w.log.Warn("dropping notification for unknown job", zap.String("job_id", jobID))
			return w.broker.Ack(ctx, jobID)
		}
		// Infrastructure errors get the same re-delivery treatment as
		// transient stage failures.
		return w.redeliver(ctx, jobID, err)
	}

	if outcome.Retry {
		return w.redeliver(ctx, jobID, nil)
	}

	if err := w.broker.Ack(ctx, jobID); err != nil {
		return eris.Wrapf(err, "worker: ack %s", jobID)
	}
	if outcome.Abandoned {
		w.log.Debug("attempt abandoned to a peer", zap.String("job_id", jobID))
	}
	return nil
}

func (w *Worker) redeliver(ctx context.Context, jobID string, cause error) error {
	attempts, err := w.store.IncJobAttempts(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "worker: count attempt for %s", jobID)
	}

	if attempts >= w.retry.MaxAttempts {
		w.log.Warn("attempts exhausted, failing job",
			zap.String("job_id", jobID),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		if err := w.store.MarkJobFailed(ctx, jobID, FailureReasonRetriesExhausted); err != nil && !store.IsInvalidTransition(err) {
			return eris.Wrapf(err, "worker: fail %s", jobID)
		}
		return w.broker.Ack(ctx, jobID)
	}

	delay := resilience.Backoff(attempts-1, w.retry)
	w.log.Info("scheduling re-delivery",
		zap.String("job_id", jobID),
		zap.Int("attempt", attempts),
		zap.Duration("retry_after", delay),
		zap.Error(cause),
	)
	if err := w.broker.Nack(ctx, jobID, delay); err != nil {
		return eris.Wrapf(err, "worker: nack %s", jobID)
	}
	return nil
}

// RunInline drives a job to a resting state entirely in-process,
// sleeping through the retry schedule instead of re-delivering. The
// gateway uses this path while the broker is unreachable.
func (w *Worker) RunInline(ctx context.Context, jobID string) error {
	for {
		outcome, err := w.exec.Execute(ctx, jobID)
		if err != nil {
			if store.IsNotFound(err) {
				return err
			}
		} else if !outcome.Retry {
			return nil
		}

		attempts, incErr := w.store.IncJobAttempts(ctx, jobID)
		if incErr != nil {
			return eris.Wrapf(incErr, "worker: count attempt for %s", jobID)
		}
		if attempts >= w.retry.MaxAttempts {
			w.log.Warn("inline attempts exhausted, failing job",
				zap.String("job_id", jobID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			if failErr := w.store.MarkJobFailed(ctx, jobID, FailureReasonRetriesExhausted); failErr != nil && !store.IsInvalidTransition(failErr) {
				return eris.Wrapf(failErr, "worker: fail %s", jobID)
			}
			return nil
		}

		select {
		case <-time.After(resilience.Backoff(attempts-1, w.retry)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pool runs count identical workers until ctx is cancelled.
type Pool struct {
	workers []*Worker
}

func NewPool(count int, mk func() *Worker) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{workers: make([]*Worker, count)}
	for i := range p.workers {
		p.workers[i] = mk()
	}
	return p
}

// Run blocks until all workers exit. Cancellation of ctx is the normal
// shutdown path and is not reported as an error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			err := w.Run(ctx)
			if eris.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
