package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/infrastructure/logging"
)

// RedisLimiter shares fixed-window buckets across instances via INCR+EXPIRE.
// Redis failures fail open: a broken limiter must not take the read path down
// with it.
type RedisLimiter struct {
	client  *redis.Client
	log     *logging.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisLimiter connects to redis and verifies the connection.
func NewRedisLimiter(addr, password string, db int, log *logging.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RedisLimiter{
		client:  client,
		log:     log,
		prefix:  "tracelens:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

// Allow counts a request against the key's current window.
func (rl *RedisLimiter) Allow(key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.log.Warn("rate limiter incr failed, failing open", zap.Error(err))
		return Decision{Allowed: true}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.log.Warn("rate limiter expire failed", zap.Error(err))
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}

	count := int(counter)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Remaining: remaining,
		WindowEnd: time.Now().Add(ttl),
	}
}

// Close releases the redis connection.
func (rl *RedisLimiter) Close() {
	_ = rl.client.Close()
}
