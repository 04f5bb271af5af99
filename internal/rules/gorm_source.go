package rules

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
	"gorm.io/gorm"
)

// RuleModel maps the alert_rules table, written by the configuration service.
type RuleModel struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	Enabled   bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (RuleModel) TableName() string {
	return "alert_rules"
}

// RuleChannelModel maps the alert_rule_channels table.
type RuleChannelModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	RuleID    string         `gorm:"type:varchar(64);not null;index"`
	Channel   domain.Channel `gorm:"type:varchar(10);not null"`
	Recipient string         `gorm:"type:varchar(255);not null"`
	Subject   string         `gorm:"type:text"`
	Body      string         `gorm:"type:text"`
	Enabled   bool           `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (RuleChannelModel) TableName() string {
	return "alert_rule_channels"
}

type GormSource struct {
	db *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) GetRule(ctx context.Context, ruleID string) (*Rule, error) {
	var model RuleModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}

	return &Rule{
		ID:        model.ID,
		Name:      model.Name,
		Enabled:   model.Enabled,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (s *GormSource) EnabledChannels(ctx context.Context, ruleID string) ([]ChannelConfig, error) {
	var models []RuleChannelModel
	err := s.db.WithContext(ctx).
		Where("rule_id = ? AND enabled = ?", ruleID, true).
		Order("channel ASC, recipient ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	configs := make([]ChannelConfig, 0, len(models))
	for _, m := range models {
		configs = append(configs, ChannelConfig{
			RuleID:    m.RuleID,
			Channel:   m.Channel,
			Recipient: m.Recipient,
			Subject:   m.Subject,
			Body:      m.Body,
			Enabled:   m.Enabled,
		})
	}
	return configs, nil
}
