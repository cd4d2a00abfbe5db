package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
)

// NewRedis opens a client against the configured server and verifies it with PING.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		// BLPOP holds the connection for the pop timeout; leave headroom.
		ReadTimeout: cfg.WorkerPopTimeout + 5*time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Error("Failed to connect to Redis")
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s:%s: %w", cfg.RedisHost, cfg.RedisPort, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"host": cfg.RedisHost,
		"db":   cfg.RedisDB,
	}).Info("Connected to Redis")
	return client, nil
}
