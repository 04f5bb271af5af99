package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	"github.com/kursadbilgin/alert-relay/internal/dedup"
	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/queue"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"github.com/kursadbilgin/alert-relay/internal/rules"
	"go.uber.org/zap"
)

// SubmissionService turns a triggered rule into durable delivery rows and
// queued jobs, under admission control.
type SubmissionService struct {
	events      repository.EventRepository
	deliveries  repository.DeliveryRepository
	rules       rules.Source
	gate        *backpressure.Gate
	enqueuer    queue.Enqueuer
	dedupSecret []byte
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewSubmissionService(
	events repository.EventRepository,
	deliveries repository.DeliveryRepository,
	ruleSource rules.Source,
	gate *backpressure.Gate,
	enqueuer queue.Enqueuer,
	dedupSecret []byte,
	logger *zap.Logger,
) (*SubmissionService, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if ruleSource == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("backpressure gate is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubmissionService{
		events:      events,
		deliveries:  deliveries,
		rules:       ruleSource,
		gate:        gate,
		enqueuer:    enqueuer,
		dedupSecret: dedupSecret,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *SubmissionService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// TriggerAlert creates the alert event and one delivery per enabled channel
// route, then hands each new delivery to the job queue. Duplicate triggers
// inside the same hour bucket create no new deliveries.
func (s *SubmissionService) TriggerAlert(
	ctx context.Context,
	ruleID string,
	triggerValue *float64,
	triggeredAt time.Time,
) (*domain.AlertEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}
	if triggeredAt.IsZero() {
		triggeredAt = s.now()
	}
	triggeredAt = triggeredAt.UTC()

	if !s.gate.IsAccepting(ctx) {
		return nil, domain.ErrQueueFull
	}

	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, fmt.Errorf("%w: rule %s is disabled", domain.ErrRuleNotFound, ruleID)
	}

	channelConfigs, err := s.rules.EnabledChannels(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule channels: %w", err)
	}
	if len(channelConfigs) == 0 {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNoChannels, ruleID)
	}

	event := &domain.AlertEvent{
		ID:             uuid.NewString(),
		RuleID:         ruleID,
		TriggerValue:   triggerValue,
		TriggeredAt:    triggeredAt,
		RoutedChannels: routedChannels(channelConfigs),
	}

	deliveries := make([]*domain.AlertDelivery, 0, len(channelConfigs))
	contents := make(map[string]rules.ChannelConfig, len(channelConfigs))
	for _, cfg := range channelConfigs {
		delivery := &domain.AlertDelivery{
			ID:        uuid.NewString(),
			AlertID:   event.ID,
			Channel:   cfg.Channel,
			Recipient: cfg.Recipient,
			DedupKey:  dedup.Derive(ruleID, cfg.Channel, cfg.Recipient, triggeredAt, s.dedupSecret),
			Status:    domain.StatusPending,
		}
		if err := delivery.Validate(); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
		contents[delivery.ID] = cfg
	}

	created, err := s.events.CreateWithDeliveries(ctx, event, deliveries)
	if err != nil {
		return nil, fmt.Errorf("failed to persist alert event: %w", err)
	}

	for _, delivery := range created {
		depth, err := s.gate.Increment(ctx)
		if err != nil {
			// Could not reserve a slot; leave the row PENDING. The
			// reconciler's rescue pass re-enqueues it once it goes stale.
			s.logger.Error("failed to reserve admission slot",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.SetQueueDepth(depth)

		cfg := contents[delivery.ID]
		job := queue.DeliveryJob{
			DeliveryID: delivery.ID,
			Channel:    delivery.Channel,
			Recipient:  delivery.Recipient,
			Subject:    subjectFor(rule, cfg),
			Body:       bodyFor(rule, cfg, triggerValue),
			Attempt:    0,
		}

		if err := s.enqueuer.EnqueueNow(ctx, job); err != nil {
			// One bad hand-off must not fail the whole trigger: give the
			// slot back and mark just this delivery failed.
			if depth, decErr := s.gate.Decrement(ctx); decErr == nil {
				s.metrics.SetQueueDepth(depth)
			}
			s.metrics.IncEnqueueFailure(delivery.Channel.String())

			enqueueErr := fmt.Sprintf("job enqueue failed: %v", err)
			if markErr := s.deliveries.MarkFailed(ctx, delivery.ID, enqueueErr); markErr != nil {
				s.logger.Error("failed to mark delivery failed after enqueue error",
					zap.String("deliveryId", delivery.ID),
					zap.Error(markErr),
				)
			}
			s.logger.Error("failed to enqueue delivery job",
				zap.String("deliveryId", delivery.ID),
				zap.String("channel", delivery.Channel.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("alert triggered",
		zap.String("eventId", event.ID),
		zap.String("ruleId", ruleID),
		zap.Int("deliveries", len(created)),
		zap.Int("deduplicated", len(deliveries)-len(created)),
	)

	return event, nil
}

// AcknowledgeAlert records who acknowledged an alert event and when.
func (s *SubmissionService) AcknowledgeAlert(ctx context.Context, eventID string, userID string, note string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	return s.events.Acknowledge(ctx, eventID, userID, strings.TrimSpace(note), s.now().UTC())
}

func (s *SubmissionService) GetEvent(ctx context.Context, eventID string) (*domain.AlertEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}
	return s.events.GetByID(ctx, eventID)
}

func routedChannels(configs []rules.ChannelConfig) []domain.Channel {
	seen := make(map[domain.Channel]bool, len(configs))
	var channels []domain.Channel
	for _, cfg := range configs {
		if !seen[cfg.Channel] {
			seen[cfg.Channel] = true
			channels = append(channels, cfg.Channel)
		}
	}
	return channels
}

func subjectFor(rule *rules.Rule, cfg rules.ChannelConfig) string {
	if strings.TrimSpace(cfg.Subject) != "" {
		return cfg.Subject
	}
	return fmt.Sprintf("Alert: %s", rule.Name)
}

func bodyFor(rule *rules.Rule, cfg rules.ChannelConfig, triggerValue *float64) string {
	if strings.TrimSpace(cfg.Body) != "" {
		return cfg.Body
	}
	if triggerValue != nil {
		return fmt.Sprintf("Alert rule %q fired with value %g.", rule.Name, *triggerValue)
	}
	return fmt.Sprintf("Alert rule %q fired.", rule.Name)
}
