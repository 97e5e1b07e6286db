// Package redis go-redis 客户端与 Streams 辅助函数
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"wisefido-vitals/pkg/config"
)

const defaultPingTimeout = 3 * time.Second

// NewRedisClient 创建Redis客户端（不建连，首次命令时才连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return redis.NewClient(opts)
}

// Ping 测试Redis连接；ctx 没有截止时间时最多等待 3 秒
func Ping(ctx context.Context, client *redis.Client) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接（nil 安全）
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
