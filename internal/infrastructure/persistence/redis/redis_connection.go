// Package redis provides the Redis-backed KeyStore and its connection management.
// A single address connects to a standalone server; several addresses connect to a cluster.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/logger"
)

// NewClient creates a Redis client from configuration and verifies connectivity.
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: Redis configuration
//   - log: Logger instance
//
// Returns:
//   - redis.UniversalClient: Connected client
//   - error: Connection establishment error if any
func NewClient(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (redis.UniversalClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("redis addresses not configured")
	}

	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error(pingCtx, "Redis ping failed", err, logger.Fields{"addrs": cfg.Addresses})
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info(ctx, "Redis connection established successfully", logger.Fields{
		"addrs":     cfg.Addresses,
		"db":        cfg.DB,
		"pool_size": cfg.PoolSize,
	})
	return client, nil
}
