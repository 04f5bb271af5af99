package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// minEnqueueDelay floors EnqueueAfter delays; RabbitMQ per-message TTL is in
// whole milliseconds and a zero TTL expires immediately.
const minEnqueueDelay = time.Millisecond

type RabbitMQEnqueuer struct {
	client *RabbitMQ
}

var _ Enqueuer = (*RabbitMQEnqueuer)(nil)

func NewRabbitMQEnqueuer(client *RabbitMQ) *RabbitMQEnqueuer {
	return &RabbitMQEnqueuer{client: client}
}

func (e *RabbitMQEnqueuer) EnqueueNow(ctx context.Context, job DeliveryJob) error {
	return e.publish(ctx, QueueName(job.Channel), job, 0)
}

// EnqueueAfter parks the job on the channel wait queue with a per-message
// TTL; expiry dead-letters it into the work queue.
func (e *RabbitMQEnqueuer) EnqueueAfter(ctx context.Context, delay time.Duration, job DeliveryJob) error {
	if delay < minEnqueueDelay {
		return e.EnqueueNow(ctx, job)
	}
	return e.publish(ctx, WaitQueueName(job.Channel), job, delay)
}

func (e *RabbitMQEnqueuer) publish(ctx context.Context, queueName string, job DeliveryJob, ttl time.Duration) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("enqueuer is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid delivery job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery job: %w", err)
	}

	ch, err := e.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    job.DeliveryID,
		Body:         payload,
	}
	if ttl > 0 {
		publishing.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish job to queue %q: %w", queueName, err)
	}

	return nil
}

func (e *RabbitMQEnqueuer) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}
