package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ksred/klear-options/internal/types"
)

const priceKeyPrefix = "price:"

// RedisSource reads the latest quote an external feed handler writes to
// price:<SYMBOL> as JSON {"price": ..., "timestamp": ...}.
type RedisSource struct {
	client redis.Cmdable
	maxAge time.Duration
	now    func() time.Time
}

// NewRedisSource creates a source that treats quotes older than maxAge as missing
func NewRedisSource(client redis.Cmdable, maxAge time.Duration) *RedisSource {
	return &RedisSource{
		client: client,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// CurrentPrice serves the stored quote; redis reads are cheap enough that fast
// and regular callers are treated the same.
func (s *RedisSource) CurrentPrice(ctx context.Context, asset types.Asset, _ bool) (*Quote, error) {
	data, err := s.client.Get(ctx, PriceKey(asset.Symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoPrice
		}
		return nil, fmt.Errorf("failed to read price for %s: %w", asset.Symbol, err)
	}

	quote, err := DecodeQuote(data)
	if err != nil {
		return nil, err
	}

	if s.maxAge > 0 && s.now().Sub(quote.Timestamp) > s.maxAge {
		return nil, fmt.Errorf("%w: quote for %s is %s old", ErrNoPrice, asset.Symbol, s.now().Sub(quote.Timestamp).Round(time.Millisecond))
	}
	return quote, nil
}

// Publish stores a quote the way the external feed handler does
func (s *RedisSource) Publish(ctx context.Context, symbol string, quote Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	return s.client.Set(ctx, PriceKey(symbol), data, 0).Err()
}

func PriceKey(symbol string) string {
	return priceKeyPrefix + symbol
}

// DecodeQuote parses a stored quote; the price may be a JSON string or number
func DecodeQuote(data []byte) (*Quote, error) {
	var quote Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	if !quote.Price.IsPositive() || quote.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: malformed quote", ErrNoPrice)
	}
	return &quote, nil
}
