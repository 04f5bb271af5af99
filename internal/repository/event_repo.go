package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository interface {
	// CreateWithDeliveries inserts the event row and its delivery rows in one
	// transaction. Delivery inserts are idempotent on dedup_key; only rows
	// that were actually inserted are returned.
	CreateWithDeliveries(ctx context.Context, event *domain.AlertEvent, deliveries []*domain.AlertDelivery) ([]*domain.AlertDelivery, error)
	GetByID(ctx context.Context, id string) (*domain.AlertEvent, error)
	Acknowledge(ctx context.Context, id string, userID string, note string, at time.Time) error
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) CreateWithDeliveries(
	ctx context.Context,
	event *domain.AlertEvent,
	deliveries []*domain.AlertDelivery,
) ([]*domain.AlertDelivery, error) {
	eventModel := eventModelFromDomain(event)

	var created []*domain.AlertDelivery
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(eventModel).Error; err != nil {
			return err
		}

		for _, delivery := range deliveries {
			model := deliveryModelFromDomain(delivery)
			if model == nil {
				continue
			}

			// Duplicate dedup keys are a no-op insert, not an error: a repeat
			// trigger inside the same hour bucket collapses here.
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "dedup_key"}},
				DoNothing: true,
			}).Create(model)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				created = append(created, deliveryModelToDomain(model))
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if event != nil {
		*event = *eventModelToDomain(eventModel)
	}
	return created, nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.AlertEvent, error) {
	var model AlertEventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) Acknowledge(ctx context.Context, id string, userID string, note string, at time.Time) error {
	updates := map[string]any{
		"acknowledged_at": at,
		"acknowledged_by": userID,
	}
	if note != "" {
		updates["acknowledged_note"] = note
	}

	result := r.db.WithContext(ctx).
		Model(&AlertEventModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
