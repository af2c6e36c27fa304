package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/transcriber/shared/rabbitmq"
	"github.com/google/uuid"
)

// Broker is the subset of the RabbitMQ client the queue needs.
type Broker interface {
	Get(ctx context.Context) (rabbitmq.Message, bool, error)
	QueueLength(ctx context.Context) (int, error)
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	IsConnected() bool
}

// queueEntry is the message body published for each job.
type queueEntry struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RabbitQueue is a Queue on a durable RabbitMQ queue. Pop uses basic.get with
// auto-ack, so an entry popped by a worker that then crashes is lost; its
// record stays queued until it expires.
type RabbitQueue struct {
	broker Broker
	now    func() time.Time
}

func NewRabbitQueue(broker Broker) *RabbitQueue {
	return &RabbitQueue{broker: broker, now: time.Now}
}

func (q *RabbitQueue) Push(ctx context.Context, id string) error {
	body, err := json.Marshal(queueEntry{JobID: id, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	return q.broker.PublishWithRetry(ctx, body, "application/json")
}

func (q *RabbitQueue) Pop(ctx context.Context) (string, bool, error) {
	msg, ok, err := q.broker.Get(ctx)
	if err != nil || !ok {
		return "", false, err
	}

	var entry queueEntry
	if err := json.Unmarshal(msg.Body, &entry); err != nil {
		return "", false, fmt.Errorf("invalid queue entry %q: %w", string(msg.Body), err)
	}
	if _, err := uuid.Parse(entry.JobID); err != nil {
		return "", false, fmt.Errorf("invalid job_id %q in queue entry: %w", entry.JobID, err)
	}
	return entry.JobID, true, nil
}

func (q *RabbitQueue) Len(ctx context.Context) (int, error) {
	return q.broker.QueueLength(ctx)
}

func (q *RabbitQueue) HealthCheck(context.Context) error {
	if !q.broker.IsConnected() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}
