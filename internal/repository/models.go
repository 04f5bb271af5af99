package repository

import (
	"strings"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// AlertEventModel is the persistence model for the alert_events table.
type AlertEventModel struct {
	ID               string   `gorm:"type:uuid;primaryKey"`
	RuleID           string   `gorm:"type:varchar(64);not null"`
	TriggerValue     *float64 `gorm:"type:numeric"`
	TriggeredAt      time.Time
	RoutedChannels   string `gorm:"type:text;not null"`
	AcknowledgedAt   *time.Time
	AcknowledgedBy   *string `gorm:"type:varchar(255)"`
	AcknowledgedNote *string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (AlertEventModel) TableName() string {
	return "alert_events"
}

// AlertDeliveryModel is the persistence model for the alert_deliveries table.
type AlertDeliveryModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	AlertID        string                `gorm:"type:uuid;not null"`
	Channel        domain.Channel        `gorm:"type:varchar(10);not null"`
	Recipient      string                `gorm:"type:varchar(255);not null"`
	DedupKey       string                `gorm:"type:varchar(255);not null;uniqueIndex:idx_deliveries_dedup_key"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	Attempts       int                   `gorm:"not null;default:0"`
	LastAttemptAt  *time.Time
	DeliveredAt    *time.Time
	PoisonAt       *time.Time
	ErrorMessage   *string `gorm:"type:text"`
	ResolutionNote *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AlertDeliveryModel) TableName() string {
	return "alert_deliveries"
}

func eventModelFromDomain(e *domain.AlertEvent) *AlertEventModel {
	if e == nil {
		return nil
	}

	channels := make([]string, 0, len(e.RoutedChannels))
	for _, ch := range e.RoutedChannels {
		channels = append(channels, ch.String())
	}

	return &AlertEventModel{
		ID:               e.ID,
		RuleID:           e.RuleID,
		TriggerValue:     e.TriggerValue,
		TriggeredAt:      e.TriggeredAt,
		RoutedChannels:   strings.Join(channels, ","),
		AcknowledgedAt:   e.AcknowledgedAt,
		AcknowledgedBy:   e.AcknowledgedBy,
		AcknowledgedNote: e.AcknowledgedNote,
		CreatedAt:        e.CreatedAt,
	}
}

func eventModelToDomain(m *AlertEventModel) *domain.AlertEvent {
	if m == nil {
		return nil
	}

	var channels []domain.Channel
	if m.RoutedChannels != "" {
		for _, raw := range strings.Split(m.RoutedChannels, ",") {
			channels = append(channels, domain.Channel(raw))
		}
	}

	return &domain.AlertEvent{
		ID:               m.ID,
		RuleID:           m.RuleID,
		TriggerValue:     m.TriggerValue,
		TriggeredAt:      m.TriggeredAt,
		RoutedChannels:   channels,
		AcknowledgedAt:   m.AcknowledgedAt,
		AcknowledgedBy:   m.AcknowledgedBy,
		AcknowledgedNote: m.AcknowledgedNote,
		CreatedAt:        m.CreatedAt,
	}
}

func deliveryModelFromDomain(d *domain.AlertDelivery) *AlertDeliveryModel {
	if d == nil {
		return nil
	}

	return &AlertDeliveryModel{
		ID:             d.ID,
		AlertID:        d.AlertID,
		Channel:        d.Channel,
		Recipient:      d.Recipient,
		DedupKey:       d.DedupKey,
		Status:         d.Status,
		Attempts:       d.Attempts,
		LastAttemptAt:  d.LastAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		PoisonAt:       d.PoisonAt,
		ErrorMessage:   d.ErrorMessage,
		ResolutionNote: d.ResolutionNote,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *AlertDeliveryModel) *domain.AlertDelivery {
	if m == nil {
		return nil
	}

	return &domain.AlertDelivery{
		ID:             m.ID,
		AlertID:        m.AlertID,
		Channel:        m.Channel,
		Recipient:      m.Recipient,
		DedupKey:       m.DedupKey,
		Status:         m.Status,
		Attempts:       m.Attempts,
		LastAttemptAt:  m.LastAttemptAt,
		DeliveredAt:    m.DeliveredAt,
		PoisonAt:       m.PoisonAt,
		ErrorMessage:   m.ErrorMessage,
		ResolutionNote: m.ResolutionNote,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
