package notification

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rebill:notice:"

// RedisLedger dedupes notification keys across processes. Redis expiry
// handles the dedup window, so Sweep has nothing to do.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, redisKeyPrefix+key, "1", ttl).Result()
}

func (l *RedisLedger) Sweep(_ context.Context) error {
	return nil
}
