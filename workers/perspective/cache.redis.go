package perspective

import (
	"context"
	"time"

	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mredis"
	"github.com/redis/go-redis/v9"
)

// RedisCache is a read-through cache in front of a read-model store.
// The perspective worker invalidates entries when Apply advances a
// checkpoint, so readers never see a row older than one apply cycle.
type RedisCache struct {
	connection *mredis.RedisConnection
	TTL        time.Duration
}

// NewRedisCache returns a cache on the given redis connection.
func NewRedisCache(rc *mredis.RedisConnection, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{connection: rc, TTL: ttl}
}

func cacheKey(perspectiveName, streamID string) string {
	return "perspective:" + perspectiveName + ":" + streamID
}

// Read returns the cached row, falling back to the store and priming the
// cache on a miss.
func (c *RedisCache) Read(ctx context.Context, store Store, perspectiveName, streamID string) ([]byte, error) {
	logger := common.NewLoggerFromContext(ctx)

	client, err := c.connection.GetClient(ctx)
	if err != nil {
		return store.Get(ctx, perspectiveName, streamID)
	}

	cached, err := client.Get(ctx, cacheKey(perspectiveName, streamID)).Bytes()
	if err == nil {
		return cached, nil
	}

	if err != redis.Nil {
		logger.Warnf("read model cache get failed: %v", err)
	}

	data, err := store.Get(ctx, perspectiveName, streamID)
	if err != nil {
		return nil, err
	}

	if data != nil {
		if err := client.Set(ctx, cacheKey(perspectiveName, streamID), data, c.TTL).Err(); err != nil {
			logger.Warnf("read model cache set failed: %v", err)
		}
	}

	return data, nil
}

// Invalidate drops the cached row after an apply cycle.
func (c *RedisCache) Invalidate(ctx context.Context, perspectiveName, streamID string) error {
	client, err := c.connection.GetClient(ctx)
	if err != nil {
		return err
	}

	return client.Del(ctx, cacheKey(perspectiveName, streamID)).Err()
}
