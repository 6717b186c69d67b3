// Package queue delivers job-ready notifications to workers. Messages
// carry only the job id; all job state lives in the store, so delivery
// is at-most-once per attempt and re-delivery is always safe.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrBrokerClosed is returned once Close has been called.
	ErrBrokerClosed = eris.New("queue: broker closed")
	// ErrQueueFull is returned when a bounded broker cannot accept more
	// notifications.
	ErrQueueFull = eris.New("queue: full")
)

// Broker is the delivery channel between submission and the workers.
type Broker interface {
	// Enqueue publishes a job-ready notification.
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks up to timeout for the next notification. It returns
	// ("", nil) when the wait elapses with nothing available.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	// Ack marks the notification handled.
	Ack(ctx context.Context, jobID string) error
	// Nack schedules the notification for re-delivery after retryAfter.
	Nack(ctx context.Context, jobID string, retryAfter time.Duration) error
	// Ping reports broker reachability.
	Ping(ctx context.Context) error
	Close() error
}
