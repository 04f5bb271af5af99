package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/deadletter"
	"github.com/kursadbilgin/alert-relay/internal/dedup"
	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/provider"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/ratelimit"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	// defaultRateLimitWait is used when the provider supplied no retry-after
	// hint on a rate-limit denial.
	defaultRateLimitWait = 60 * time.Second

	// maxRateLimitWaits bounds in-process rate-limit sleeps per execution
	// when no delayed re-enqueue scheduler is configured.
	maxRateLimitWaits = 3

	// reenqueueThreshold is the smallest retry-after hint worth a scheduler
	// hand-off; shorter hints are slept in-process.
	reenqueueThreshold = 5 * time.Second

	// sleepCeiling caps any single in-process sleep so a worker is never
	// held indefinitely.
	sleepCeiling = 240 * time.Second

	errRateLimitWaitExhausted = "rate_limit_wait_exhausted"
	errAttemptLimitReached    = "attempt limit reached"
)

// fixedBackoff is indexed by attempt number, clamped at the last entry.
var fixedBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Executor runs the delivery state machine: claim, rate-limit, dispatch,
// interpret, and settle. It is the job-queue entry point and is re-invoked
// by the scheduler for every re-enqueued retry.
type Executor struct {
	deliveries repository.DeliveryRepository
	providers  *provider.Registry
	limiter    ratelimit.RateLimiter
	gate       *backpressure.Gate
	poison     *deadletter.Store
	// enqueuer may be nil, in which case rate-limit and long-hint backoff
	// happen in-process instead of via delayed re-enqueue.
	enqueuer    queue.Enqueuer
	dedupSecret []byte
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	deliveries repository.DeliveryRepository,
	providers *provider.Registry,
	limiter ratelimit.RateLimiter,
	gate *backpressure.Gate,
	poison *deadletter.Store,
	enqueuer queue.Enqueuer,
	dedupSecret []byte,
	logger *zap.Logger,
) (*Executor, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("backpressure gate is required")
	}
	if poison == nil {
		return nil, fmt.Errorf("dead-letter store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		deliveries:  deliveries,
		providers:   providers,
		limiter:     limiter,
		gate:        gate,
		poison:      poison,
		enqueuer:    enqueuer,
		dedupSecret: dedupSecret,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Execute processes one delivery job to a settled outcome. A non-nil error
// means infrastructure trouble and the job should be redelivered; every
// delivery-level outcome, including permanent failure, returns nil error.
//
// The admission slot reserved at submission is released exactly once per
// invocation, except when the job is handed back to the scheduler with a
// delay, in which case the next invocation inherits the slot.
func (e *Executor) Execute(ctx context.Context, job queue.DeliveryJob) (domain.DeliveryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	delivery, err := e.deliveries.Claim(ctx, job.DeliveryID, e.now().UTC())
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("failed to claim delivery: %w", err)
	}
	if delivery == nil {
		// Another worker owns it, it is already settled, or it never
		// existed. Expected under at-least-once job delivery.
		e.releaseSlot(ctx)
		e.metrics.IncDeliveryAttempt(job.Channel.String(), observability.OutcomeSkipped)
		e.logger.Debug("delivery not claimable, skipping",
			zap.String("deliveryId", job.DeliveryID),
		)
		return skippedResult(), nil
	}

	channelName := strings.ToLower(delivery.Channel.String())
	logger := e.logger.With(
		zap.String("deliveryId", delivery.ID),
		zap.String("channel", channelName),
	)

	attempt := job.Attempt
	if delivery.Attempts > attempt {
		attempt = delivery.Attempts
	}

	var (
		pendingSleep time.Duration
		waits        int
		lastError    = errAttemptLimitReached
	)

	for attempt < domain.MaxAttempts {
		if pendingSleep > 0 {
			if pendingSleep > sleepCeiling {
				pendingSleep = sleepCeiling
			}
			if err := e.sleep(ctx, pendingSleep); err != nil {
				return domain.DeliveryResult{}, err
			}
			pendingSleep = 0
		}

		scope, allowed := e.allow(ctx, delivery, channelName)
		if !allowed {
			e.metrics.IncThrottle(scope.String())
			logger.Info("delivery throttled", zap.String("scope", scope.String()))

			// Rate-limit denials are infrastructure backoff, not delivery
			// failure: they never consume attempt budget.
			if e.enqueuer != nil {
				throttleMsg := fmt.Sprintf("rate limited (%s scope)", scope)
				if err := e.deliveries.RecordThrottle(ctx, delivery.ID, throttleMsg, domain.StatusPending, e.now().UTC()); err != nil {
					return domain.DeliveryResult{}, fmt.Errorf("failed to record throttle: %w", err)
				}

				retryJob := job
				retryJob.Attempt = attempt
				if err := e.enqueuer.EnqueueAfter(ctx, defaultRateLimitWait, retryJob); err == nil {
					// Slot stays reserved for the re-enqueued run.
					return domain.DeliveryResult{
						Success:   false,
						Error:     throttleMsg,
						Retryable: true,
					}, nil
				}

				// Scheduler hand-off failure escalates like a normal attempt
				// failure and consumes a retry.
				e.metrics.IncEnqueueFailure(channelName)
				attempt++
				lastError = "scheduler hand-off failed after rate limit"
				if err := e.deliveries.RecordAttemptFailure(ctx, delivery.ID, attempt, lastError, domain.StatusInProgress, e.now().UTC()); err != nil {
					return domain.DeliveryResult{}, fmt.Errorf("failed to record attempt: %w", err)
				}
				pendingSleep = backoffFor(attempt)
				continue
			}

			waits++
			if waits > maxRateLimitWaits {
				return e.settlePoison(ctx, delivery, errRateLimitWaitExhausted, logger)
			}
			if err := e.deliveries.RecordThrottle(ctx, delivery.ID, fmt.Sprintf("rate limited (%s scope)", scope), domain.StatusInProgress, e.now().UTC()); err != nil {
				return domain.DeliveryResult{}, fmt.Errorf("failed to record throttle: %w", err)
			}
			pendingSleep = defaultRateLimitWait
			continue
		}

		sendStart := e.now()
		result := e.dispatch(ctx, delivery, job)
		e.metrics.ObserveSendDuration(channelName, e.now().Sub(sendStart))

		attemptNumber := attempt + 1

		if result.Success {
			if err := e.deliveries.MarkDelivered(ctx, delivery.ID, attemptNumber, e.now().UTC()); err != nil && !errors.Is(err, domain.ErrConflict) {
				return domain.DeliveryResult{}, fmt.Errorf("failed to mark delivered: %w", err)
			}
			e.metrics.IncDeliveryAttempt(channelName, observability.OutcomeDelivered)
			e.releaseSlot(ctx)
			logger.Info("delivery succeeded",
				zap.Int("attempts", attemptNumber),
				zap.String("providerMessageId", result.ProviderMessageID),
			)
			return result, nil
		}

		lastError = result.Error
		if lastError == "" {
			lastError = "delivery failed"
		}

		isTerminal := attemptNumber >= domain.MaxAttempts || !result.Retryable
		if isTerminal {
			if err := e.deliveries.RecordAttemptFailure(ctx, delivery.ID, attemptNumber, lastError, domain.StatusFailed, e.now().UTC()); err != nil {
				return domain.DeliveryResult{}, fmt.Errorf("failed to record attempt: %w", err)
			}
			return e.settlePoison(ctx, delivery, lastError, logger)
		}

		hint, hasHint := result.RetryAfterHint()
		if hasHint && hint > reenqueueThreshold && e.enqueuer != nil {
			if err := e.deliveries.RecordAttemptFailure(ctx, delivery.ID, attemptNumber, lastError, domain.StatusPending, e.now().UTC()); err != nil {
				return domain.DeliveryResult{}, fmt.Errorf("failed to record attempt: %w", err)
			}

			retryJob := job
			retryJob.Attempt = attemptNumber
			if err := e.enqueuer.EnqueueAfter(ctx, hint, retryJob); err == nil {
				e.metrics.IncRetry(channelName)
				// Slot stays reserved for the re-enqueued run.
				return result, nil
			}

			e.metrics.IncEnqueueFailure(channelName)
			logger.Error("delayed re-enqueue failed, retrying in-process",
				zap.Duration("hint", hint),
			)
			if err := e.deliveries.RecordThrottle(ctx, delivery.ID, lastError, domain.StatusInProgress, e.now().UTC()); err != nil {
				return domain.DeliveryResult{}, fmt.Errorf("failed to restore claim: %w", err)
			}
		} else {
			if err := e.deliveries.RecordAttemptFailure(ctx, delivery.ID, attemptNumber, lastError, domain.StatusInProgress, e.now().UTC()); err != nil {
				return domain.DeliveryResult{}, fmt.Errorf("failed to record attempt: %w", err)
			}
		}

		e.metrics.IncRetry(channelName)
		attempt = attemptNumber
		if hasHint {
			pendingSleep = hint
		} else {
			pendingSleep = backoffFor(attempt)
		}
	}

	// The loop ended without success or an explicit poison: force terminal.
	if err := e.deliveries.MarkFailed(ctx, delivery.ID, lastError); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.DeliveryResult{}, fmt.Errorf("failed to mark exhausted delivery: %w", err)
	}
	return e.settlePoison(ctx, delivery, lastError, logger)
}

// allow checks the three rate-limit scopes in widening order. Limiter store
// failures deny the attempt: unbounded dispatch under a blind limiter is the
// worse failure mode.
func (e *Executor) allow(ctx context.Context, delivery *domain.AlertDelivery, channelName string) (ratelimit.Scope, bool) {
	ok, err := e.limiter.AllowGlobal(ctx)
	if err != nil {
		e.logger.Warn("global rate-limit check failed, denying", zap.Error(err))
		return ratelimit.ScopeGlobal, false
	}
	if !ok {
		return ratelimit.ScopeGlobal, false
	}

	ok, err = e.limiter.AllowChannel(ctx, channelName)
	if err != nil {
		e.logger.Warn("channel rate-limit check failed, denying", zap.Error(err))
		return ratelimit.ScopeChannel, false
	}
	if !ok {
		return ratelimit.ScopeChannel, false
	}

	recipientHash := dedup.RecipientHash(delivery.Recipient, delivery.Channel, e.dedupSecret)
	ok, err = e.limiter.AllowRecipient(ctx, recipientHash, channelName)
	if err != nil {
		e.logger.Warn("recipient rate-limit check failed, denying", zap.Error(err))
		return ratelimit.ScopeRecipient, false
	}
	if !ok {
		return ratelimit.ScopeRecipient, false
	}

	return "", true
}

// dispatch sends through the channel provider and contains every failure
// mode, including panics, so a provider bug cannot crash the executor.
func (e *Executor) dispatch(ctx context.Context, delivery *domain.AlertDelivery, job queue.DeliveryJob) (result domain.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("provider panicked",
				zap.String("deliveryId", delivery.ID),
				zap.Any("panic", r),
			)
			result = domain.DeliveryResult{
				Success:   false,
				Error:     fmt.Sprintf("provider panic: %v", r),
				Retryable: true,
			}
		}
	}()

	p, err := e.providers.For(delivery.Channel)
	if err != nil {
		// Unknown channel is a configuration error: permanent.
		return domain.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Retryable: false,
		}
	}

	result, err = p.Send(ctx, provider.Message{
		Recipient: delivery.Recipient,
		Subject:   job.Subject,
		Body:      job.Body,
	})
	if err != nil {
		// Provider errors are programmer errors by contract; retry unless
		// the provider said otherwise.
		return domain.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Retryable: true,
		}
	}
	return result
}

func (e *Executor) settlePoison(ctx context.Context, delivery *domain.AlertDelivery, errMsg string, logger *zap.Logger) (domain.DeliveryResult, error) {
	if errMsg == errRateLimitWaitExhausted {
		if err := e.deliveries.MarkFailed(ctx, delivery.ID, errMsg); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.DeliveryResult{}, fmt.Errorf("failed to mark delivery failed: %w", err)
		}
	}
	if err := e.poison.Add(ctx, delivery.ID, errMsg); err != nil {
		return domain.DeliveryResult{}, err
	}

	channelName := strings.ToLower(delivery.Channel.String())
	e.metrics.IncDeliveryAttempt(channelName, observability.OutcomePoisoned)
	e.releaseSlot(ctx)
	logger.Warn("delivery poisoned", zap.String("error", errMsg))

	return domain.DeliveryResult{
		Success:   false,
		Error:     errMsg,
		Retryable: false,
	}, nil
}

func (e *Executor) releaseSlot(ctx context.Context) {
	depth, err := e.gate.Decrement(ctx)
	if err != nil {
		e.logger.Error("failed to release admission slot", zap.Error(err))
		return
	}
	e.metrics.SetQueueDepth(depth)
}

func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(fixedBackoff) {
		idx = len(fixedBackoff) - 1
	}
	d := fixedBackoff[idx]
	if d > sleepCeiling {
		d = sleepCeiling
	}
	return d
}

func skippedResult() domain.DeliveryResult {
	return domain.DeliveryResult{
		Success:  true,
		Metadata: map[string]string{"outcome": observability.OutcomeSkipped},
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
