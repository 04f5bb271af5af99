package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// Enqueuer is the job-queue contract the core consumes: run a delivery job
// now, or after a delay. The queue must invoke the handler at least once per
// enqueued job; the executor's claim step absorbs duplicate invocations.
type Enqueuer interface {
	EnqueueNow(ctx context.Context, job DeliveryJob) error
	EnqueueAfter(ctx context.Context, delay time.Duration, job DeliveryJob) error
	Close() error
}

// JobHandler handles one consumed delivery job.
type JobHandler func(ctx context.Context, job DeliveryJob) error

// Consumer consumes delivery jobs from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler JobHandler) error
	Close() error
}

// QueueName returns the channel work queue name, e.g. alerts.email.
func QueueName(channel domain.Channel) string {
	return fmt.Sprintf("alerts.%s", strings.ToLower(channel.String()))
}

// WaitQueueName returns the delay queue for a channel, e.g. alerts.email.wait.
// Messages parked there expire back into the work queue after their TTL.
func WaitQueueName(channel domain.Channel) string {
	return fmt.Sprintf("%s.wait", QueueName(channel))
}

// WorkQueueNames returns all channel work queues.
func WorkQueueNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}
