package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-options/internal/cache"
	"github.com/ksred/klear-options/internal/types"
)

type memRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	m.data[key] = string(value.([]byte))
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisAssetCache(t *testing.T) {
	rdb := newMemRedis()
	c := cache.NewRedisAssetCache(rdb, 5*time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "btc-usd")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	asset := &types.Asset{AssetID: "btc-usd", Symbol: "BTCUSD", ProfitRate: decimal.RequireFromString("85"), IsActive: true}
	require.NoError(t, c.Set(ctx, asset))
	assert.Equal(t, 5*time.Minute, rdb.ttls["klear:asset:btc-usd"])

	got, err := c.Get(ctx, "btc-usd")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", got.Symbol)
	assert.True(t, got.ProfitRate.Equal(decimal.NewFromInt(85)))

	require.NoError(t, c.Delete(ctx, "btc-usd"))
	_, err = c.Get(ctx, "btc-usd")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
