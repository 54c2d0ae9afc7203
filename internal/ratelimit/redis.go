package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares lockout state across server instances. Keys carry TTLs so
// Redis handles expiry; no sweep is needed.
type RedisStore struct {
	client      *redis.Client
	maxAttempts int
	lockout     time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		lockout:     DefaultLockoutDuration,
	}
}

func (s *RedisStore) attemptsKey(action, ip string) string {
	return "ratelimit:attempts:" + key(action, ip)
}

func (s *RedisStore) lockKey(action, ip string) string {
	return "ratelimit:lock:" + key(action, ip)
}

func (s *RedisStore) Check(ctx context.Context, action, ip string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.lockKey(action, ip)).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		return ttl, nil
	}
	return 0, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, action, ip string) error {
	ak := s.attemptsKey(action, ip)

	attempts, err := s.client.Incr(ctx, ak).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		if err := s.client.Expire(ctx, ak, s.lockout).Err(); err != nil {
			return err
		}
	}
	if attempts >= int64(s.maxAttempts) {
		return s.client.Set(ctx, s.lockKey(action, ip), "1", s.lockout).Err()
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, action, ip string) error {
	return s.client.Del(ctx, s.attemptsKey(action, ip), s.lockKey(action, ip)).Err()
}
