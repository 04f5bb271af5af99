package redis

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/alert-relay/internal/backpressure"
	goredis "github.com/redis/go-redis/v9"
)

const depthKey = "backpressure:depth"

// Decrement must clamp at zero under concurrent access, so it is a single
// compare-and-clamp script rather than a plain DECR.
var decrementScript = goredis.NewScript(`
local depth = redis.call("DECR", KEYS[1])
if depth < 0 then
  redis.call("SET", KEYS[1], 0)
  return 0
end
return depth
`)

var _ backpressure.CounterStore = (*RedisCounterStore)(nil)

// RedisCounterStore is the shared admission counter, backed by the same
// Redis instance as the rate limiter.
type RedisCounterStore struct {
	client *goredis.Client
}

func NewRedisCounterStore(client *goredis.Client) (*RedisCounterStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisCounterStore{client: client}, nil
}

func (s *RedisCounterStore) Increment(ctx context.Context) (int64, error) {
	depth, err := s.client.Incr(ctx, depthKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment admission counter: %w", err)
	}
	return depth, nil
}

func (s *RedisCounterStore) Decrement(ctx context.Context) (int64, error) {
	depth, err := decrementScript.Run(ctx, s.client, []string{depthKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement admission counter: %w", err)
	}
	return depth, nil
}

func (s *RedisCounterStore) Depth(ctx context.Context) (int64, error) {
	depth, err := s.client.Get(ctx, depthKey).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read admission counter: %w", err)
	}
	return depth, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, depth int64) error {
	if err := s.client.Set(ctx, depthKey, depth, 0).Err(); err != nil {
		return fmt.Errorf("failed to set admission counter: %w", err)
	}
	return nil
}
