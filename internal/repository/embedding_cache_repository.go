package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// EmbeddingCacheRepository 以 Redis 缓存查询文本的向量，满足 embedding.Cache 接口。
type EmbeddingCacheRepository interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

type embeddingCacheRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewEmbeddingCacheRepository 创建一个新的 EmbeddingCacheRepository 实例，ttl 为 0 表示不过期。
func NewEmbeddingCacheRepository(redisClient *redis.Client, ttl time.Duration) EmbeddingCacheRepository {
	return &embeddingCacheRepository{redisClient: redisClient, ttl: ttl}
}

// Get 读取缓存的向量，未命中时返回 (nil, false, nil)。
func (r *embeddingCacheRepository) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := r.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	vector, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vector, true, nil
}

// Set 写入向量缓存。
func (r *embeddingCacheRepository) Set(ctx context.Context, key string, vector []float32) error {
	raw, err := encodeVector(vector)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, key, raw, r.ttl).Err()
}

func encodeVector(vector []float32) ([]byte, error) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}
	return raw, nil
}

func decodeVector(raw []byte) ([]float32, error) {
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode cached embedding: %w", err)
	}
	if len(vector) == 0 {
		return nil, errors.New("cached embedding is empty")
	}
	return vector, nil
}
