package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// Message is the uniform send payload handed to every channel provider.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Metadata  map[string]string
}

// Provider is the outbound channel transport port. Ordinary delivery
// failures are reported through the DeliveryResult; a non-nil error is
// reserved for programmer or configuration errors.
type Provider interface {
	Send(ctx context.Context, msg Message) (domain.DeliveryResult, error)
}

// Registry selects the provider for a channel at dispatch time. An unknown
// channel is a configuration error, never a runtime crash.
type Registry struct {
	providers map[domain.Channel]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.Channel]Provider)}
}

func (r *Registry) Register(channel domain.Channel, p Provider) error {
	if !channel.IsValid() {
		return fmt.Errorf("invalid channel %q", channel)
	}
	if p == nil {
		return fmt.Errorf("provider for channel %q is required", channel)
	}
	r.providers[channel] = p
	return nil
}

func (r *Registry) For(channel domain.Channel) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("provider registry is not initialized")
	}
	p, ok := r.providers[channel]
	if !ok {
		return nil, fmt.Errorf("no provider registered for channel %q", channel)
	}
	return p, nil
}
