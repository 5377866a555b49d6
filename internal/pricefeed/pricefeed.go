// Package pricefeed adapts external price sources and bounds every fetch with a deadline.
package pricefeed

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-options/internal/types"
)

var (
	ErrNoPrice          = errors.New("no price available")
	ErrDeadlineExceeded = errors.New("price fetch deadline exceeded")
)

// Quote is a price observation for an asset
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Source returns the current price of an asset. fast marks latency-critical
// callers; a source may serve a cheaper, slightly older quote for them.
type Source interface {
	CurrentPrice(ctx context.Context, asset types.Asset, fast bool) (*Quote, error)
}

// FetchWithDeadline races the source against d. Sources that ignore their
// context are still abandoned at the deadline. Any error means no usable price.
func FetchWithDeadline(ctx context.Context, src Source, asset types.Asset, fast bool, d time.Duration) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		quote *Quote
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		q, err := src.CurrentPrice(ctx, asset, fast)
		ch <- result{q, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, ErrDeadlineExceeded
			}
			return nil, r.err
		}
		if r.quote == nil || !r.quote.Price.IsPositive() {
			return nil, ErrNoPrice
		}
		return r.quote, nil
	case <-ctx.Done():
		return nil, ErrDeadlineExceeded
	}
}
