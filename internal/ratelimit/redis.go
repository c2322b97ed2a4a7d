package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// fixedWindowScript increments the counter and starts the window on first hit.
// KEYS[1] = counter key
// ARGV[1] = window length in milliseconds
// Returns {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
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

// RedisLimiter shares windows across every instance pointed at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	period time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, period time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, period: period, prefix: "ratelimit:", now: time.Now}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Check fails open when Redis is unreachable; the error is logged.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int) Result {
	now := l.now()
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.period.Milliseconds()).Result()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Redis rate limiter unavailable, allowing request")
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(l.period)}
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		log.WithField("key", key).Warn("Unexpected response from rate limiter script, allowing request")
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(l.period)}
	}
	count, _ := values[0].(int64)
	ttl, _ := values[1].(int64)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) <= limit,
		Remaining: remaining,
		ResetAt:   now.Add(time.Duration(ttl) * time.Millisecond),
	}
}
