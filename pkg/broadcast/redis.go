package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the pub/sub channel for plan change events
const DefaultChannel = "repwatch:plan-changes"

// RedisConfig configures the Redis connection
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient creates a Redis client and verifies the connection
func NewRedisClient(config RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
