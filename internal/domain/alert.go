package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelSMS     Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelWebhook, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels is the full set of supported channels, in routing order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelWebhook, ChannelSMS}
}

// AlertEvent is one occurrence of a rule firing. Created once by the
// submission layer; only acknowledgment fields mutate afterwards.
type AlertEvent struct {
	ID               string
	RuleID           string
	TriggerValue     *float64
	TriggeredAt      time.Time
	RoutedChannels   []Channel
	AcknowledgedAt   *time.Time
	AcknowledgedBy   *string
	AcknowledgedNote *string
	CreatedAt        time.Time
}

func (e *AlertEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: alert event is required", ErrValidation)
	}
	if strings.TrimSpace(e.RuleID) == "" {
		return fmt.Errorf("%w: rule id is required", ErrValidation)
	}
	if e.TriggeredAt.IsZero() {
		return fmt.Errorf("%w: triggered-at timestamp is required", ErrValidation)
	}
	for _, ch := range e.RoutedChannels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}

func (e *AlertEvent) Acknowledged() bool {
	return e != nil && e.AcknowledgedAt != nil
}
