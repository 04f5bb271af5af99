package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/alert-relay/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService fans executor invocations out over the channel work queues.
// Concurrency beyond the queue count stacks extra consumers per queue.
type WorkerService struct {
	consumer    queue.Consumer
	executor    *Executor
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	executor *Executor,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		executor:    executor,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the channel work queues until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.handleJob)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) handleJob(ctx context.Context, job queue.DeliveryJob) error {
	// Only infrastructure errors propagate; a settled delivery outcome acks
	// the job regardless of success.
	_, err := s.executor.Execute(ctx, job)
	return err
}
