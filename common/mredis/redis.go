package mredis

import (
	"context"

	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/redis/go-redis/v9"
)

// RedisConnection is a hub which deal with redis connections.
type RedisConnection struct {
	Addr      string
	User      string
	Password  string
	DB        int
	Protocol  int
	Client    *redis.Client
	Connected bool
	Logger    mlog.Logger
}

// Connect keeps a singleton connection with redis.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	rc.Logger.Info("Connecting to redis...")

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Username: rc.User,
		Password: rc.Password,
		DB:       rc.DB,
		Protocol: rc.Protocol,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rc.Logger.Errorf("RedisConnection.Ping %v", err)

		return err
	}

	rc.Logger.Info("Connected to redis ✅ ")

	rc.Connected = true

	rc.Client = rdb

	return nil
}

// GetClient returns a pointer to the redis client, initializing it if necessary.
func (rc *RedisConnection) GetClient(ctx context.Context) (*redis.Client, error) {
	if rc.Client == nil {
		if err := rc.Connect(ctx); err != nil {
			rc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return rc.Client, nil
}
