package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "storelens:category:camera:"

// CategoryResolver is implemented by Resolver and CachedResolver.
type CategoryResolver interface {
	Resolve(ctx context.Context, cameraID int) (string, error)
}

// CachedResolver keeps resolved categories in Redis. Only successful
// lookups are cached, so a mapping added later is picked up on the next
// image. Redis failures fall through to the underlying resolver.
type CachedResolver struct {
	next CategoryResolver
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedResolver(next CategoryResolver, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedResolver {
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, log: log.Named("category_cache")}
}

func (c *CachedResolver) Resolve(ctx context.Context, cameraID int) (string, error) {
	key := fmt.Sprintf("%s%d", cacheKeyPrefix, cameraID)

	cat, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cat, nil
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache read failed", zap.Int("camera_id", cameraID), zap.Error(err))
	}

	cat, err = c.next.Resolve(ctx, cameraID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, cat, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.Int("camera_id", cameraID), zap.Error(err))
	}
	return cat, nil
}

// Invalidate drops cached categories for the given cameras, or for all
// cameras when none are given.
func (c *CachedResolver) Invalidate(ctx context.Context, cameraIDs ...int) error {
	var keys []string
	if len(cameraIDs) == 0 {
		iter := c.rdb.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan category cache: %w", err)
		}
	} else {
		for _, id := range cameraIDs {
			keys = append(keys, fmt.Sprintf("%s%d", cacheKeyPrefix, id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate category cache: %w", err)
	}
	return nil
}

// NewRedisClient connects to Redis. It returns nil when addr is empty,
// which disables caching.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
