package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStateMessages(t *testing.T) {
	for _, state := range []string{"WAITING", "RUNNING", "FINISHED", "ERROR"} {
		msg, ok := StateMessages[state]
		assert.True(t, ok, "state %s should have message", state)
		assert.NotEmpty(t, msg)
	}
}

func TestStateMessage_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(&StateMessage{JobID: 1, State: "RUNNING"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "job_id")
	assert.Contains(t, raw, "search_id")
	_, hasError := raw["error"]
	_, hasFrom := raw["from"]
	assert.False(t, hasError, "empty error should be omitted")
	assert.False(t, hasFrom, "empty from should be omitted")
}

func TestNewPublisher_DefaultChannel(t *testing.T) {
	client := setupTestRedis(t)

	assert.Equal(t, ChannelJobState, NewPublisher(client, "").channel)
	assert.Equal(t, "custom", NewPublisher(client, "custom").channel)
	assert.Equal(t, ChannelJobState, NewSubscriber(client, "").channel)
}

func TestPublisherSubscriber(t *testing.T) {
	client := setupTestRedis(t)

	publisher := NewPublisher(client, "")
	subscriber := NewSubscriber(client, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready := make(chan struct{})
	received := make(chan *StateMessage, 1)
	done := make(chan error, 1)

	go func() {
		done <- subscriber.Subscribe(ctx, ready, func(msg *StateMessage) {
			received <- msg
		})
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		t.Fatal("Timeout waiting for subscription")
	}

	err := publisher.PublishState(ctx, &StateMessage{
		JobID:    789,
		SearchID: 456,
		JobType:  "NETWORK",
		From:     "WAITING",
		State:    "RUNNING",
		Actor:    "worker-1",
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "job_state", msg.Type)
		assert.Equal(t, int64(789), msg.JobID)
		assert.Equal(t, int64(456), msg.SearchID)
		assert.Equal(t, "RUNNING", msg.State)
		assert.Equal(t, "worker-1", msg.Actor)
		assert.Equal(t, StateMessages["RUNNING"], msg.Message)
		assert.False(t, msg.At.IsZero())
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
