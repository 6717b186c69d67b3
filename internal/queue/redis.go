package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	readyKey   = "jobs:ready"
	delayedKey = "jobs:delayed"
)

// RedisBroker implements Broker on a Redis/Valkey list plus a sorted set
// for delayed re-delivery.
type RedisBroker struct {
	client *redis.Client
}

// NewRedis connects to the broker at addr ("host:port"). An empty addr
// is a configuration signal that no broker is deployed.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 20,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "queue: ping redis %s", addr)
	}
	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Enqueue(ctx context.Context, jobID string) error {
	if err := b.client.LPush(ctx, readyKey, jobID).Err(); err != nil {
		return eris.Wrapf(err, "queue: enqueue %s", jobID)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if err := b.promoteDue(ctx); err != nil {
		// Promotion failing shouldn't stall delivery of ready jobs.
		zap.L().Warn("queue: promote delayed jobs failed", zap.Error(err))
	}

	res, err := b.client.BRPop(ctx, timeout, readyKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "queue: dequeue")
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", eris.Errorf("queue: unexpected BRPOP reply of length %d", len(res))
	}
	return res[1], nil
}

// promoteDue moves delayed notifications whose retry time has passed
// back onto the ready list.
func (b *RedisBroker) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	due, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(now, 'f', 0, 64),
	}).Result()
	if err != nil {
		return eris.Wrap(err, "queue: read delayed")
	}

	for _, jobID := range due {
		removed, err := b.client.ZRem(ctx, delayedKey, jobID).Result()
		if err != nil {
			return eris.Wrapf(err, "queue: remove delayed %s", jobID)
		}
		// Only the caller that removed the member re-publishes it, so
		// concurrent workers promote each job once.
		if removed > 0 {
			if err := b.client.LPush(ctx, readyKey, jobID).Err(); err != nil {
				return eris.Wrapf(err, "queue: promote %s", jobID)
			}
		}
	}
	return nil
}

func (b *RedisBroker) Ack(ctx context.Context, jobID string) error {
	// Dequeue already consumed the notification; durable job state lives
	// in the store.
	return nil
}

func (b *RedisBroker) Nack(ctx context.Context, jobID string, retryAfter time.Duration) error {
	score := float64(time.Now().Add(retryAfter).UnixMilli())
	err := b.client.ZAdd(ctx, delayedKey, &redis.Z{Score: score, Member: jobID}).Err()
	return eris.Wrapf(err, "queue: nack %s", jobID)
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return eris.Wrap(b.client.Ping(ctx).Err(), "queue: ping")
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
