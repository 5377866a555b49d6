package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the two commands the source uses
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	err  error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSource(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rdb := &fakeRedis{data: map[string]string{}}
	src := NewRedisSource(rdb, 5*time.Second)
	src.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := src.CurrentPrice(ctx, btc, true)
	assert.ErrorIs(t, err, ErrNoPrice)

	require.NoError(t, src.Publish(ctx, btc.Symbol, Quote{Price: decimal.RequireFromString("40.5"), Timestamp: now.Add(-time.Second)}))
	assert.Contains(t, rdb.data, "price:BTCUSD")

	q, err := src.CurrentPrice(ctx, btc, false)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("40.5")))

	now = now.Add(10 * time.Second)
	_, err = src.CurrentPrice(ctx, btc, false)
	assert.ErrorIs(t, err, ErrNoPrice, "stale quotes are unavailable")
}

func TestRedisSourceConnectionError(t *testing.T) {
	connErr := errors.New("connection refused")
	src := NewRedisSource(&fakeRedis{err: connErr}, time.Second)

	_, err := src.CurrentPrice(context.Background(), btc, true)
	assert.ErrorIs(t, err, connErr)
	assert.NotErrorIs(t, err, ErrNoPrice)
}
