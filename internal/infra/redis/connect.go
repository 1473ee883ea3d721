package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-hub/config"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// NewClient builds a go-redis client from cfg without connecting.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, cfg config.RedisConfig, l logger.Logger) (*redis.Client, error) {
	cli := NewClient(cfg)

	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	l.Infof(ctx, "infra.redis.Connect: connected to %s", cfg.Addr)

	return cli, nil
}

// Disconnect closes cli and logs any error.
func Disconnect(cli *redis.Client, l logger.Logger) {
	if cli == nil {
		return
	}

	if err := cli.Close(); err != nil {
		l.Warnf(context.Background(), "infra.redis.Disconnect: %v", err)
		return
	}

	l.Info(context.Background(), "infra.redis.Disconnect: connection closed")
}
