package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
)

var _ repository.SuiteRepository = (*suiteCache)(nil)

const suiteKeyPrefix = "grader:suite:"

type suiteCache struct {
	client *goredis.Client
	next   repository.SuiteRepository
	ttl    time.Duration
	logger *zap.Logger
}

// NewSuiteCache wraps a SuiteRepository with a read-through Redis cache.
// Cache errors are logged and fall through to the wrapped repository.
func NewSuiteCache(client *goredis.Client, next repository.SuiteRepository, ttl time.Duration, logger *zap.Logger) repository.SuiteRepository {
	return &suiteCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *suiteCache) GetSuite(ctx context.Context, key domain.SuiteKey) (*domain.TestSuiteDescriptor, error) {
	cacheKey := suiteKeyPrefix + key.String()

	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var d domain.TestSuiteDescriptor
		if err := json.Unmarshal(raw, &d); err == nil {
			return &d, nil
		}
		c.logger.Warn("Dropping malformed cached suite", zap.String("key", cacheKey))
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("Suite cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	d, err := c.next.GetSuite(ctx, key)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("redis: encode suite: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey, body, c.ttl).Err(); err != nil {
		c.logger.Warn("Suite cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return d, nil
}
