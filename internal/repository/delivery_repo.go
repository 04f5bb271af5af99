package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
	"gorm.io/gorm"
)

type DeliveryRepository interface {
	GetByID(ctx context.Context, id string) (*domain.AlertDelivery, error)

	// Claim atomically transitions a delivery to IN_PROGRESS. It succeeds for
	// PENDING rows, or for IN_PROGRESS rows whose last attempt is older than
	// the stuck-claim timeout. A nil delivery with nil error is a claim miss,
	// which is an expected outcome under at-least-once job invocation.
	Claim(ctx context.Context, id string, now time.Time) (*domain.AlertDelivery, error)

	// MarkDelivered records terminal success. delivered_at is set at most
	// once and never overwritten.
	MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error

	// RecordAttemptFailure persists one failed attempt and leaves the row in
	// the given non-terminal status for the next attempt.
	RecordAttemptFailure(ctx context.Context, id string, attempts int, errMsg string, status domain.DeliveryStatus, at time.Time) error

	// RecordThrottle stamps a rate-limit denial without consuming attempt
	// budget.
	RecordThrottle(ctx context.Context, id string, errMsg string, status domain.DeliveryStatus, at time.Time) error

	MarkFailed(ctx context.Context, id string, errMsg string) error

	// MarkPoisoned moves a delivery to terminal POISON. Adding an already
	// poisoned delivery is a no-op.
	MarkPoisoned(ctx context.Context, id string, errMsg string, at time.Time) error

	// ResolvePoison moves a poisoned delivery to FAILED with an operator
	// resolution note.
	ResolvePoison(ctx context.Context, id string, note string) error

	// ListPoisoned returns poisoned deliveries oldest-first for triage.
	ListPoisoned(ctx context.Context, limit int) ([]domain.AlertDelivery, error)

	// ListStranded returns deliveries no queued job can still reach: rows
	// stuck IN_PROGRESS past the stuck-claim timeout, and PENDING rows not
	// touched within the same window. Oldest-first, bounded by limit.
	ListStranded(ctx context.Context, now time.Time, limit int) ([]domain.AlertDelivery, error)

	// CountActive counts PENDING plus IN_PROGRESS rows, the authoritative
	// input for backpressure reconciliation.
	CountActive(ctx context.Context) (int64, error)

	CountPoisoned(ctx context.Context) (int64, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.AlertDelivery, error) {
	var model AlertDeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.AlertDelivery, error) {
	staleBefore := now.Add(-domain.StuckClaimTimeout)

	// Single conditional UPDATE, never read-then-write: two workers racing on
	// the same row resolve to exactly one winner.
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where(
			"id = ? AND (status = ? OR (status = ? AND last_attempt_at < ?))",
			id, domain.StatusPending, domain.StatusInProgress, staleBefore,
		).
		Updates(map[string]any{
			"status":          domain.StatusInProgress,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

func (r *GormDeliveryRepo) MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Updates(map[string]any{
			"status":          domain.StatusDelivered,
			"attempts":        attempts,
			"last_attempt_at": at,
			"delivered_at":    at,
			"error_message":   nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) RecordAttemptFailure(
	ctx context.Context,
	id string,
	attempts int,
	errMsg string,
	status domain.DeliveryStatus,
	at time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"attempts":        attempts,
			"last_attempt_at": at,
			"error_message":   errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) RecordThrottle(
	ctx context.Context,
	id string,
	errMsg string,
	status domain.DeliveryStatus,
	at time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"last_attempt_at": at,
			"error_message":   errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) MarkPoisoned(ctx context.Context, id string, errMsg string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ? AND status <> ?", id, domain.StatusPoison).
		Updates(map[string]any{
			"status":        domain.StatusPoison,
			"poison_at":     at,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 means the row was already poisoned; idempotent add.
	return nil
}

func (r *GormDeliveryRepo) ResolvePoison(ctx context.Context, id string, note string) error {
	result := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPoison).
		Updates(map[string]any{
			"status":          domain.StatusFailed,
			"resolution_note": note,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) ListPoisoned(ctx context.Context, limit int) ([]domain.AlertDelivery, error) {
	if limit < 1 {
		limit = 50
	}

	var models []AlertDeliveryModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPoison).
		Order("poison_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.AlertDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

func (r *GormDeliveryRepo) ListStranded(ctx context.Context, now time.Time, limit int) ([]domain.AlertDelivery, error) {
	if limit < 1 {
		limit = 100
	}
	staleBefore := now.Add(-domain.StuckClaimTimeout)

	// updated_at covers PENDING rows: a live job keeps touching its row on
	// every throttle or failed attempt, so an untouched row has no job left.
	var models []AlertDeliveryModel
	err := r.db.WithContext(ctx).
		Where(
			"(status = ? AND last_attempt_at < ?) OR (status = ? AND updated_at < ?)",
			domain.StatusInProgress, staleBefore, domain.StatusPending, staleBefore,
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.AlertDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

func (r *GormDeliveryRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("status IN ?", []domain.DeliveryStatus{domain.StatusPending, domain.StatusInProgress}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormDeliveryRepo) CountPoisoned(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&AlertDeliveryModel{}).
		Where("status = ?", domain.StatusPoison).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
