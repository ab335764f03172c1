// Package queue hands run ids from the API to the worker.
package queue

import "context"

// Queue is a FIFO of run ids. Pop returns "" with a nil error when nothing
// arrived within its poll window, so callers can re-check their context.
type Queue interface {
	Push(ctx context.Context, runID string) error
	Pop(ctx context.Context) (string, error)
}
