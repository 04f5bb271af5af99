package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultChannelLimitPerSec   int64 = 100
	defaultRecipientLimitPerMin int64 = 10
	defaultGlobalLimitPerSec    int64 = 500
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Limits configures fixed-window throughput ceilings per scope.
type Limits struct {
	ChannelPerSec   int64
	RecipientPerMin int64
	GlobalPerSec    int64
}

// RedisRateLimiter is a distributed fixed-window limiter backed by Redis,
// shared by all worker instances.
type RedisRateLimiter struct {
	client *goredis.Client
	limits Limits
	now    func() time.Time
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limits Limits) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limits.ChannelPerSec <= 0 {
		limits.ChannelPerSec = defaultChannelLimitPerSec
	}
	if limits.RecipientPerMin <= 0 {
		limits.RecipientPerMin = defaultRecipientLimitPerMin
	}
	if limits.GlobalPerSec <= 0 {
		limits.GlobalPerSec = defaultGlobalLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
		script: allowScript,
	}, nil
}

func (r *RedisRateLimiter) AllowChannel(ctx context.Context, channel string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return false, fmt.Errorf("channel is required")
	}

	key := fmt.Sprintf("ratelimit:channel:%s:%d", normalized, r.now().UTC().Unix())
	return r.allow(ctx, key, r.limits.ChannelPerSec, 1)
}

func (r *RedisRateLimiter) AllowRecipient(ctx context.Context, recipientHash string, channel string) (bool, error) {
	trimmedHash := strings.TrimSpace(recipientHash)
	if trimmedHash == "" {
		return false, fmt.Errorf("recipient hash is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return false, fmt.Errorf("channel is required")
	}

	// Minute window keyed by the hashed recipient; raw recipients never reach
	// Redis.
	minute := r.now().UTC().Unix() / 60
	key := fmt.Sprintf("ratelimit:recipient:%s:%s:%d", normalized, trimmedHash, minute)
	return r.allow(ctx, key, r.limits.RecipientPerMin, 60)
}

func (r *RedisRateLimiter) AllowGlobal(ctx context.Context) (bool, error) {
	key := fmt.Sprintf("ratelimit:global:%d", r.now().UTC().Unix())
	return r.allow(ctx, key, r.limits.GlobalPerSec, 1)
}

func (r *RedisRateLimiter) allow(ctx context.Context, key string, limit int64, windowSeconds int) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := r.script.Run(ctx, r.client, []string{key}, limit, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return result == 1, nil
}
