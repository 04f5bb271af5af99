package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeliveryStatus represents the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "PENDING"
	StatusInProgress DeliveryStatus = "IN_PROGRESS"
	StatusDelivered  DeliveryStatus = "DELIVERED"
	StatusFailed     DeliveryStatus = "FAILED"
	StatusPoison     DeliveryStatus = "POISON"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDelivered, StatusFailed, StatusPoison:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts may run for this status.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusPoison:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	// MaxAttempts bounds delivery attempts per channel-recipient pair.
	MaxAttempts = 3

	// StuckClaimTimeout is how long an IN_PROGRESS delivery may sit without
	// progress before any worker may reclaim it.
	StuckClaimTimeout = 15 * time.Minute
)

// AlertDelivery is one channel-recipient attempt unit, child of an AlertEvent.
// Mutated exclusively through the delivery repository's conditional updates.
type AlertDelivery struct {
	ID             string
	AlertID        string
	Channel        Channel
	Recipient      string
	DedupKey       string
	Status         DeliveryStatus
	Attempts       int
	LastAttemptAt  *time.Time
	DeliveredAt    *time.Time
	PoisonAt       *time.Time
	ErrorMessage   *string
	ResolutionNote *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (d *AlertDelivery) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: delivery is required", ErrValidation)
	}
	if strings.TrimSpace(d.AlertID) == "" {
		return fmt.Errorf("%w: alert id is required", ErrValidation)
	}
	if !d.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, d.Channel)
	}
	if strings.TrimSpace(d.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(d.DedupKey) == "" {
		return fmt.Errorf("%w: dedup key is required", ErrValidation)
	}
	if d.Attempts < 0 || d.Attempts > MaxAttempts {
		return fmt.Errorf("%w: attempts %d outside 0..%d", ErrValidation, d.Attempts, MaxAttempts)
	}
	return nil
}

// DeliveryResult is the outcome of one transport attempt. It is the contract
// every channel provider must return; it is never persisted as its own row.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
	Retryable         bool
	Metadata          map[string]string
}

// MetadataRetryAfter is the metadata key carrying a provider retry-after
// hint, in whole seconds.
const MetadataRetryAfter = "retry_after_seconds"

// RetryAfterHint returns the provider-supplied retry-after hint, if any.
func (r DeliveryResult) RetryAfterHint() (time.Duration, bool) {
	raw, ok := r.Metadata[MetadataRetryAfter]
	if !ok {
		return 0, false
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// WithRetryAfter returns a copy of the result carrying a retry-after hint.
func (r DeliveryResult) WithRetryAfter(d time.Duration) DeliveryResult {
	meta := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[MetadataRetryAfter] = strconv.FormatInt(int64(d/time.Second), 10)
	r.Metadata = meta
	return r
}
