package jobstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cuongbtq/transcriber/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	messages  []rabbitmq.Message
	connected bool
}

func (b *fakeBroker) Get(context.Context) (rabbitmq.Message, bool, error) {
	if len(b.messages) == 0 {
		return rabbitmq.Message{}, false, nil
	}
	msg := b.messages[0]
	b.messages = b.messages[1:]
	return msg, true, nil
}

func (b *fakeBroker) QueueLength(context.Context) (int, error) {
	return len(b.messages), nil
}

func (b *fakeBroker) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	b.messages = append(b.messages, rabbitmq.Message{Body: body, ContentType: contentType})
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	return b.connected
}

func TestRabbitQueue_PushPop(t *testing.T) {
	broker := &fakeBroker{connected: true}
	queue := NewRabbitQueue(broker)
	ctx := context.Background()
	id := "0d9f5c2e-8a4b-4c3d-9e1f-7a6b5c4d3e2f"

	require.NoError(t, queue.Push(ctx, id))
	require.Len(t, broker.messages, 1)
	assert.Equal(t, "application/json", broker.messages[0].ContentType)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(broker.messages[0].Body, &entry))
	assert.Equal(t, id, entry["job_id"])

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := queue.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok, err = queue.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRabbitQueue_PopRejectsMalformedEntries(t *testing.T) {
	broker := &fakeBroker{messages: []rabbitmq.Message{
		{Body: []byte("not json")},
		{Body: []byte(`{"job_id":"not-a-uuid"}`)},
	}}
	queue := NewRabbitQueue(broker)

	_, _, err := queue.Pop(context.Background())
	assert.Error(t, err)

	_, _, err = queue.Pop(context.Background())
	assert.Error(t, err)
}

func TestRabbitQueue_HealthCheck(t *testing.T) {
	broker := &fakeBroker{}
	queue := NewRabbitQueue(broker)

	assert.ErrorIs(t, queue.HealthCheck(context.Background()), rabbitmq.ErrNotConnected)

	broker.connected = true
	assert.NoError(t, queue.HealthCheck(context.Background()))
}
