package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agstack-go/internal/model"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// MetadataCache 按连接名缓存提示词所需的编目元数据。
type MetadataCache interface {
	Get(ctx context.Context, connectionName string) (model.ConnectionMetadata, bool, error)
	Set(ctx context.Context, connectionName string, md model.ConnectionMetadata) error
	Invalidate(ctx context.Context, connectionName string) error
}

func metadataKey(connectionName string) string {
	return fmt.Sprintf("metadata:%s", connectionName)
}

type redisMetadataCache struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisMetadataCache 创建基于 Redis 的元数据缓存。
func NewRedisMetadataCache(redisClient *redis.Client, ttl time.Duration) MetadataCache {
	return &redisMetadataCache{redisClient: redisClient, ttl: ttl}
}

func (c *redisMetadataCache) Get(ctx context.Context, connectionName string) (model.ConnectionMetadata, bool, error) {
	jsonData, err := c.redisClient.Get(ctx, metadataKey(connectionName)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get metadata: %w", err)
	}
	var md model.ConnectionMetadata
	if err := json.Unmarshal([]byte(jsonData), &md); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return md, true, nil
}

func (c *redisMetadataCache) Set(ctx context.Context, connectionName string, md model.ConnectionMetadata) error {
	jsonData, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := c.redisClient.Set(ctx, metadataKey(connectionName), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}

func (c *redisMetadataCache) Invalidate(ctx context.Context, connectionName string) error {
	return c.redisClient.Del(ctx, metadataKey(connectionName)).Err()
}

type memoryMetadataCache struct {
	store *gocache.Cache
}

// NewMemoryMetadataCache 创建进程内元数据缓存，未配置 Redis 时使用。
func NewMemoryMetadataCache(ttl time.Duration) MetadataCache {
	return &memoryMetadataCache{store: gocache.New(ttl, 2*ttl)}
}

func (c *memoryMetadataCache) Get(_ context.Context, connectionName string) (model.ConnectionMetadata, bool, error) {
	v, ok := c.store.Get(metadataKey(connectionName))
	if !ok {
		return nil, false, nil
	}
	return v.(model.ConnectionMetadata), true, nil
}

func (c *memoryMetadataCache) Set(_ context.Context, connectionName string, md model.ConnectionMetadata) error {
	c.store.SetDefault(metadataKey(connectionName), md)
	return nil
}

func (c *memoryMetadataCache) Invalidate(_ context.Context, connectionName string) error {
	c.store.Delete(metadataKey(connectionName))
	return nil
}
