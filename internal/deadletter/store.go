// Package deadletter is the durable terminal store for deliveries that
// exhausted their retries or failed permanently. Poisoned rows stay in place
// until an operator resolves them; nothing is purged.
package deadletter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"go.uber.org/zap"
)

type Store struct {
	deliveries repository.DeliveryRepository
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewStore(deliveries repository.DeliveryRepository, metrics *observability.Metrics, logger *zap.Logger) (*Store, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		deliveries: deliveries,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Add moves a delivery to terminal POISON and refreshes the gauge. Adding an
// already poisoned delivery is a no-op, so duplicate adds are tolerated; the
// gauge is recounted rather than blindly incremented for the same reason.
func (s *Store) Add(ctx context.Context, deliveryID string, errMsg string) error {
	if strings.TrimSpace(deliveryID) == "" {
		return fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}

	if err := s.deliveries.MarkPoisoned(ctx, deliveryID, errMsg, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to poison delivery %s: %w", deliveryID, err)
	}

	s.logger.Warn("delivery moved to dead-letter store",
		zap.String("deliveryId", deliveryID),
		zap.String("error", errMsg),
	)

	if _, err := s.SyncGauge(ctx); err != nil {
		s.logger.Error("failed to refresh poison gauge after add", zap.Error(err))
	}

	return nil
}

// ListPending returns poisoned deliveries oldest-first for operator triage.
func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.AlertDelivery, error) {
	return s.deliveries.ListPoisoned(ctx, limit)
}

// Resolve moves a poisoned delivery to FAILED with the operator's note and
// re-syncs the gauge.
func (s *Store) Resolve(ctx context.Context, deliveryID string, note string) error {
	if strings.TrimSpace(deliveryID) == "" {
		return fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: resolution note is required", domain.ErrValidation)
	}

	if err := s.deliveries.ResolvePoison(ctx, deliveryID, note); err != nil {
		return err
	}

	s.logger.Info("poisoned delivery resolved",
		zap.String("deliveryId", deliveryID),
	)

	if _, err := s.SyncGauge(ctx); err != nil {
		s.logger.Error("failed to refresh poison gauge after resolve", zap.Error(err))
	}

	return nil
}

// SyncGauge recomputes the poison gauge from the authoritative count.
// Intended to run at process startup and after every add/resolve.
func (s *Store) SyncGauge(ctx context.Context) (int64, error) {
	count, err := s.deliveries.CountPoisoned(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count poisoned deliveries: %w", err)
	}

	s.metrics.SetPoisonQueueSize(count)
	return count, nil
}
