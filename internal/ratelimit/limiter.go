package ratelimit

import "context"

// Scope names the rate-limit bucket a denial came from.
type Scope string

const (
	ScopeChannel   Scope = "channel"
	ScopeRecipient Scope = "recipient"
	ScopeGlobal    Scope = "global"
)

func (s Scope) String() string { return string(s) }

// RateLimiter gates delivery attempts across three scopes. Each check is a
// plain yes/no; backoff policy on denial belongs to the caller.
type RateLimiter interface {
	AllowChannel(ctx context.Context, channel string) (bool, error)
	AllowRecipient(ctx context.Context, recipientHash string, channel string) (bool, error)
	AllowGlobal(ctx context.Context) (bool, error)
}
