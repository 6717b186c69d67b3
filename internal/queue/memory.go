package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// redeliverRetryInterval is how long a fired Nack timer waits before
// retrying when the ready channel is full.
const redeliverRetryInterval = 100 * time.Millisecond

// MemoryBroker is a process-local Broker used when no Redis is
// configured and in tests. Delivery order is FIFO; delayed re-delivery
// is approximate.
type MemoryBroker struct {
	mu     sync.Mutex
	ready  chan string
	timers []*time.Timer
	closed bool
}

func NewMemory() *MemoryBroker {
	return &MemoryBroker{ready: make(chan string, 1024)}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	select {
	case b.ready <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case jobID, ok := <-b.ready:
		if !ok {
			return "", ErrBrokerClosed
		}
		return jobID, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *MemoryBroker) Ack(ctx context.Context, jobID string) error {
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, jobID string, retryAfter time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.scheduleRedeliver(jobID, retryAfter)
	return nil
}

// scheduleRedeliver arms a timer that re-inserts jobID after delay.
// Caller must hold b.mu. A full ready channel defers the re-insert
// instead of dropping it.
func (b *MemoryBroker) scheduleRedeliver(jobID string, delay time.Duration) {
	t := time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		select {
		case b.ready <- jobID:
		default:
			zap.L().Warn("memory broker ready channel full, deferring redelivery",
				zap.String("job_id", jobID))
			b.scheduleRedeliver(jobID, redeliverRetryInterval)
		}
	})
	b.timers = append(b.timers, t)
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.timers {
		t.Stop()
	}
	close(b.ready)
	return nil
}
