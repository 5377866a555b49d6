package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ksred/klear-options/internal/types"
)

// ErrCacheMiss is returned when a key is absent from redis
var ErrCacheMiss = errors.New("cache miss")

// RedisAssetCache is a shared second-level asset cache for multi-process deployments
type RedisAssetCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisAssetCache(client redis.Cmdable, ttl time.Duration) *RedisAssetCache {
	return &RedisAssetCache{
		client: client,
		prefix: "klear:asset:",
		ttl:    ttl,
	}
}

func (c *RedisAssetCache) Get(ctx context.Context, assetID string) (*types.Asset, error) {
	data, err := c.client.Get(ctx, c.key(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get asset from redis: %w", err)
	}

	var asset types.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}
	return &asset, nil
}

func (c *RedisAssetCache) Set(ctx context.Context, asset *types.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("failed to marshal asset: %w", err)
	}
	return c.client.Set(ctx, c.key(asset.AssetID), data, c.ttl).Err()
}

func (c *RedisAssetCache) Delete(ctx context.Context, assetID string) error {
	return c.client.Del(ctx, c.key(assetID)).Err()
}

func (c *RedisAssetCache) key(assetID string) string {
	return c.prefix + assetID
}
