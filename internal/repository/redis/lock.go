package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

var _ repository.LockStore = (*redisLock)(nil)

const (
	lockKeyPrefix  = "grader:lock:"
	defaultLockTTL = 15 * time.Minute
)

type redisLock struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisLockStore creates a Redis-backed task lock using SET NX with a TTL.
// The TTL bounds how long a crashed worker can block redelivery.
func NewRedisLockStore(client *goredis.Client, ttl time.Duration) repository.LockStore {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisLock{client: client, ttl: ttl}
}

func (r *redisLock) AcquireLock(ctx context.Context, taskID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+taskID, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

func (r *redisLock) ReleaseLock(ctx context.Context, taskID string) error {
	if err := r.client.Del(ctx, lockKeyPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}
