// Package rules is the read model over alert rule configuration. Rule CRUD
// is owned by the external configuration service; the delivery core only
// needs to resolve a triggered rule into its enabled channel fan-out.
package rules

import (
	"context"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// Rule is an alert rule as seen by the delivery core.
type Rule struct {
	ID        string
	Name      string
	Enabled   bool
	CreatedAt time.Time
}

// ChannelConfig is one enabled channel-recipient route on a rule.
type ChannelConfig struct {
	RuleID    string
	Channel   domain.Channel
	Recipient string
	Subject   string
	Body      string
	Enabled   bool
}

// Source resolves rules and their enabled channel configs.
type Source interface {
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	EnabledChannels(ctx context.Context, ruleID string) ([]ChannelConfig, error)
}
