package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the window counter, starts the window on the first
// hit and returns {count, ttl_ms}.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares counters across replicas.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ocrbase:ratelimit:"
	}
	return &RedisLimiter{client: client, policy: policy, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := incrScript.Run(ctx, l.client, []string{l.prefix + key}, l.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}

	now := l.now()
	resetAt := now.Add(time.Duration(res[1]) * time.Millisecond)
	return l.policy.decide(int(res[0]), resetAt, now), nil
}
