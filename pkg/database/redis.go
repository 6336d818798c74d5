package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。Addr 为空时不连接，RDB 保持为 nil。
func InitRedis(cfg config.RedisConfig) error {
	if cfg.Addr == "" {
		log.Info("Redis 未配置，跳过连接")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	RDB = client
	log.Infof("Redis client connected successfully, addr: %s", cfg.Addr)
	return nil
}
