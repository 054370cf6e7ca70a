package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestQueue_Push(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := q.Push(ctx, &RenewalJob{SubscriptionID: int64(i), Action: "renew"})
		require.NoError(t, err)
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)
}

func TestQueue_Pop(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("round trip keeps claim token", func(t *testing.T) {
		q := NewQueue(client, "test_pop_queue")
		claimedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		err := q.Push(ctx, &RenewalJob{
			SubscriptionID: 42,
			ClaimToken:     "tok-42",
			Action:         "renew",
			ClaimedAt:      claimedAt,
		})
		require.NoError(t, err)

		job, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.Equal(t, int64(42), job.SubscriptionID)
		assert.Equal(t, "tok-42", job.ClaimToken)
		assert.Equal(t, "renew", job.Action)
		assert.True(t, claimedAt.Equal(job.ClaimedAt))
	})

	t.Run("pop FIFO order", func(t *testing.T) {
		q := NewQueue(client, "test_fifo_queue")

		for i := 1; i <= 3; i++ {
			require.NoError(t, q.Push(ctx, &RenewalJob{SubscriptionID: int64(i)}))
		}

		for i := 1; i <= 3; i++ {
			job, err := q.Pop(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, int64(i), job.SubscriptionID)
		}
	})

	t.Run("pop from empty queue times out", func(t *testing.T) {
		q := NewQueue(client, "test_empty_queue")

		job, err := q.Pop(ctx, 10*time.Millisecond)

		// miniredis 对 BRPop 超时支持不完整，只校验没有拿到任务
		if err == nil {
			assert.Nil(t, job)
		}
	})
}

func TestQueue_MultipleQueues(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	q1 := NewQueue(client, "queue_1")
	q2 := NewQueue(client, "queue_2")

	require.NoError(t, q1.Push(ctx, &RenewalJob{SubscriptionID: 1}))
	require.NoError(t, q2.Push(ctx, &RenewalJob{SubscriptionID: 2}))

	len1, _ := q1.Length(ctx)
	len2, _ := q2.Length(ctx)
	assert.Equal(t, int64(1), len1)
	assert.Equal(t, int64(1), len2)

	job1, _ := q1.Pop(ctx, time.Second)
	job2, _ := q2.Pop(ctx, time.Second)

	assert.Equal(t, int64(1), job1.SubscriptionID)
	assert.Equal(t, int64(2), job2.SubscriptionID)
}
