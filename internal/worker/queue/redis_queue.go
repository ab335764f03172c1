package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPollTimeout = 5 * time.Second

type RedisQueue struct {
	rdb         *redis.Client
	queueName   string
	pollTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName, pollTimeout: defaultPollTimeout}
}

// Push adds a run id at the head of the list (LPUSH); Pop takes from the tail.
func (q *RedisQueue) Push(ctx context.Context, runID string) error {
	return q.rdb.LPush(ctx, q.queueName, runID).Err()
}

// Pop blocks for up to the poll timeout (BRPOP).
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Len reports the number of queued run ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}
