package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)

	require.NoError(t, q.Push(ctx, "run_a"))
	require.NoError(t, q.Push(ctx, "run_b"))

	n, _ := q.Len(ctx)
	assert.Equal(t, int64(2), n)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_a", "run_b"}, []string{first, second})
}

func TestMemoryQueuePollTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	q.pollTimeout = 20 * time.Millisecond

	id, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemoryQueueCanceled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Push(context.Background(), "run_a"))
	assert.Error(t, q.Push(ctx, "run_b"), "full queue with canceled context")
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("LIPSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIPSYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	name := "lipsync:test:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, name) })

	q := NewRedisQueue(rdb, name)
	q.pollTimeout = time.Second

	require.NoError(t, q.Push(ctx, "run_a"))
	require.NoError(t, q.Push(ctx, "run_b"))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_a", first)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_b", second)

	empty, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
