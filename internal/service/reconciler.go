package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/deadletter"
	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"github.com/kursadbilgin/alert-relay/internal/rules"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval = time.Minute
	defaultRescueLimit       = 100
)

// Reconciler periodically repairs drift left behind by crashed workers and
// lost messages: it re-enqueues stranded deliveries, then recomputes the
// admission counter and the poison gauge from authoritative storage.
type Reconciler struct {
	deliveries repository.DeliveryRepository
	events     repository.EventRepository
	rules      rules.Source
	gate       *backpressure.Gate
	poison     *deadletter.Store
	enqueuer   queue.Enqueuer
	metrics    *observability.Metrics
	logger     *zap.Logger
	interval   time.Duration
	now        func() time.Time
}

func NewReconciler(
	deliveries repository.DeliveryRepository,
	events repository.EventRepository,
	ruleSource rules.Source,
	gate *backpressure.Gate,
	poison *deadletter.Store,
	enqueuer queue.Enqueuer,
	metrics *observability.Metrics,
	interval time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if ruleSource == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("backpressure gate is required")
	}
	if poison == nil {
		return nil, fmt.Errorf("dead-letter store is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		deliveries: deliveries,
		events:     events,
		rules:      ruleSource,
		gate:       gate,
		poison:     poison,
		enqueuer:   enqueuer,
		metrics:    metrics,
		logger:     logger,
		interval:   interval,
		now:        time.Now,
	}, nil
}

func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run immediately so a fresh process corrects drift before the first
	// ticker edge.
	if err := r.reconcile(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	// Rescue failures must not block counter repair; log and keep going.
	if err := r.rescueStranded(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("stranded delivery rescue failed", zap.Error(err))
	}

	depth, err := r.gate.Reconcile(ctx, r.deliveries.CountActive)
	if err != nil {
		return fmt.Errorf("admission counter reconcile failed: %w", err)
	}
	r.metrics.SetQueueDepth(depth)

	poisoned, err := r.poison.SyncGauge(ctx)
	if err != nil {
		return fmt.Errorf("poison gauge sync failed: %w", err)
	}

	r.logger.Debug("reconciliation complete",
		zap.Int64("queueDepth", depth),
		zap.Int64("poisoned", poisoned),
	)
	return nil
}

// rescueStranded republishes jobs for deliveries no queued message can still
// reach: a worker crash acks its redelivered job on the claim miss, and a
// failed slot reservation leaves a PENDING row that was never enqueued. The
// claim gate makes a redundant republish harmless.
func (r *Reconciler) rescueStranded(ctx context.Context) error {
	stranded, err := r.deliveries.ListStranded(ctx, r.now().UTC(), defaultRescueLimit)
	if err != nil {
		return fmt.Errorf("failed to list stranded deliveries: %w", err)
	}

	for i := range stranded {
		delivery := &stranded[i]

		job, err := r.rebuildJob(ctx, delivery)
		if err != nil {
			r.logger.Error("failed to rebuild job for stranded delivery",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}

		if err := r.enqueuer.EnqueueNow(ctx, job); err != nil {
			r.metrics.IncEnqueueFailure(delivery.Channel.String())
			r.logger.Error("failed to re-enqueue stranded delivery",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}

		r.logger.Info("re-enqueued stranded delivery",
			zap.String("deliveryId", delivery.ID),
			zap.String("status", delivery.Status.String()),
			zap.Int("attempts", delivery.Attempts),
		)
	}

	return nil
}

// rebuildJob reconstructs the message content from the event and the rule's
// channel config; the delivery row itself carries no subject or body.
func (r *Reconciler) rebuildJob(ctx context.Context, delivery *domain.AlertDelivery) (queue.DeliveryJob, error) {
	event, err := r.events.GetByID(ctx, delivery.AlertID)
	if err != nil {
		return queue.DeliveryJob{}, fmt.Errorf("failed to load alert event: %w", err)
	}

	rule, err := r.rules.GetRule(ctx, event.RuleID)
	if err != nil {
		// The rule may have been deleted since the trigger; deliver with a
		// generic subject rather than stranding the row again.
		rule = &rules.Rule{ID: event.RuleID, Name: event.RuleID}
	}

	var cfg rules.ChannelConfig
	if configs, err := r.rules.EnabledChannels(ctx, event.RuleID); err == nil {
		for _, candidate := range configs {
			if candidate.Channel == delivery.Channel && candidate.Recipient == delivery.Recipient {
				cfg = candidate
				break
			}
		}
	}

	return queue.DeliveryJob{
		DeliveryID: delivery.ID,
		Channel:    delivery.Channel,
		Recipient:  delivery.Recipient,
		Subject:    subjectFor(rule, cfg),
		Body:       bodyFor(rule, cfg, event.TriggerValue),
		Attempt:    delivery.Attempts,
	}, nil
}
