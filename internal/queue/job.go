package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// DeliveryJob is the broker payload for one delivery execution. The attempt
// number is carried forward by the scheduler across re-enqueues.
type DeliveryJob struct {
	DeliveryID string         `json:"deliveryId"`
	Channel    domain.Channel `json:"channel"`
	Recipient  string         `json:"recipient"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body"`
	Attempt    int            `json:"attempt"`
}

func (j DeliveryJob) Validate() error {
	if strings.TrimSpace(j.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if !j.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", j.Channel)
	}
	if strings.TrimSpace(j.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if j.Attempt < 0 {
		return fmt.Errorf("attempt must not be negative")
	}
	return nil
}
