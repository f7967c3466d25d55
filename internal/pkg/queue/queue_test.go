package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
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
	assert.Equal(t, "test_queue", q.queueName)
	assert.Equal(t, client, q.client)
}

func TestNewJobMessage(t *testing.T) {
	msg := NewJobMessage(KindEvaluate, 3, 9)

	assert.Equal(t, KindEvaluate, msg.Kind)
	assert.Equal(t, int64(3), msg.ProjectID)
	assert.Equal(t, int64(9), msg.JobID)
	_, err := uuid.Parse(msg.TraceID)
	assert.NoError(t, err)
	assert.False(t, msg.QueuedAt.IsZero())
}

func TestQueue_PushPop_FIFO(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "training_jobs")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Push(ctx, NewJobMessage(KindTrain, 1, i)))
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	for i := int64(1); i <= 3; i++ {
		msg, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, i, msg.JobID)
		assert.Equal(t, KindTrain, msg.Kind)
	}
}

func TestQueue_Push_DefaultsKind(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "training_jobs")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &JobMessage{JobID: 5}))

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, KindTrain, msg.Kind)
}

func TestQueue_Pop_Empty(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "empty_queue")

	msg, err := q.Pop(context.Background(), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueue_Pop_InvalidJSON(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "bad_queue")
	ctx := context.Background()
	client.LPush(ctx, "bad_queue", "not json")

	msg, err := q.Pop(ctx, time.Second)
	assert.Error(t, err)
	assert.Nil(t, msg)
}
