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

func TestNewQueue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue")

	assert.NotNil(t, q)
	assert.Equal(t, "test_queue", q.Name())
	assert.Equal(t, client, q.client)
}

func TestQueue_Push(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := q.Push(ctx, &JobMessage{JobID: int64(i), SearchID: 1, Type: "RAW"})
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

	t.Run("round trip", func(t *testing.T) {
		q := NewQueue(client, "test_pop_queue")

		err := q.Push(ctx, &JobMessage{JobID: 42, SearchID: 200, Type: "COLLOCATION"})
		require.NoError(t, err)

		result, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, int64(42), result.JobID)
		assert.Equal(t, int64(200), result.SearchID)
		assert.Equal(t, "COLLOCATION", result.Type)
	})

	t.Run("pop FIFO order", func(t *testing.T) {
		q := NewQueue(client, "test_fifo_queue")

		for i := 1; i <= 3; i++ {
			require.NoError(t, q.Push(ctx, &JobMessage{JobID: int64(i)}))
		}

		for i := 1; i <= 3; i++ {
			result, err := q.Pop(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, int64(i), result.JobID)
		}
	})

	t.Run("malformed message", func(t *testing.T) {
		q := NewQueue(client, "test_bad_queue")
		require.NoError(t, client.LPush(ctx, "test_bad_queue", "not json").Err())

		result, err := q.Pop(ctx, time.Second)
		assert.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("pop from empty queue times out", func(t *testing.T) {
		q := NewQueue(client, "test_empty_queue")

		result, err := q.Pop(ctx, 10*time.Millisecond)

		// miniredis 的 BRPop 超时行为与真实 redis 不完全一致
		if err == nil {
			assert.Nil(t, result)
		}
	})
}

func TestQueue_MultipleQueues(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	q1 := NewQueue(client, "queue_1")
	q2 := NewQueue(client, "queue_2")

	require.NoError(t, q1.Push(ctx, &JobMessage{JobID: 1}))
	require.NoError(t, q2.Push(ctx, &JobMessage{JobID: 2}))

	len1, _ := q1.Length(ctx)
	len2, _ := q2.Length(ctx)
	assert.Equal(t, int64(1), len1)
	assert.Equal(t, int64(1), len2)

	result1, _ := q1.Pop(ctx, time.Second)
	result2, _ := q2.Pop(ctx, time.Second)

	assert.Equal(t, int64(1), result1.JobID)
	assert.Equal(t, int64(2), result2.JobID)
}
