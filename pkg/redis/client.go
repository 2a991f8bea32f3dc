package redis

import (
	"context"
	"fmt"
	"time"

	"trancheflow/pkg/config"

	"github.com/redis/go-redis/v9"
)

var Rdb *redis.Client

// NewRedisClient 创建客户端并做一次 ping，Addr 为空时返回 nil
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	Rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := Rdb.Ping(pingCtx).Err(); err != nil {
		_ = Rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return Rdb, nil
}
