package queue

import (
	"context"
	"fmt"
	"time"
)

// MemoryQueue is an in-process queue for single-binary deployments without Redis.
type MemoryQueue struct {
	ch          chan string
	pollTimeout time.Duration
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ch: make(chan string, capacity), pollTimeout: defaultPollTimeout}
}

func (q *MemoryQueue) Push(ctx context.Context, runID string) error {
	select {
	case q.ch <- runID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue full: %w", ctx.Err())
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (string, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
