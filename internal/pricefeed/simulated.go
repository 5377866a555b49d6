package pricefeed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-options/internal/types"
)

// SimulatedSource is a random-walk price feed with simulated network behaviour.
// It stands in for a market data vendor in development and load simulations.
type SimulatedSource struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64 // 0-1, probability a fetch fails
	Volatility  float64 // standard deviation of each step, as a fraction of price

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	frozen map[string]bool
	now    func() time.Time
}

// NewSimulatedSource creates a feed; a zero seed uses the current time
func NewSimulatedSource(seed int64, volatility float64) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSource{
		Volatility: volatility,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]decimal.Decimal),
		frozen:     make(map[string]bool),
		now:        time.Now,
	}
}

// SetPrice pins the symbol at price until the next SetPrice call
func (s *SimulatedSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	s.frozen[symbol] = true
}

// Seed sets a starting price the random walk moves away from
func (s *SimulatedSource) Seed(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	delete(s.frozen, symbol)
}

// CurrentPrice advances the walk one step and returns the new price.
// Fast callers skip the simulated latency.
func (s *SimulatedSource) CurrentPrice(ctx context.Context, asset types.Asset, fast bool) (*Quote, error) {
	logger := log.With().
		Str("component", "simulated_feed").
		Str("symbol", asset.Symbol).
		Logger()

	if latency := s.latency(fast); latency > 0 {
		logger.Debug().Dur("latency", latency).Msg("simulated network latency")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailureRate > 0 && s.rng.Float64() < s.FailureRate {
		logger.Warn().Float64("failure_rate", s.FailureRate).Msg("simulated feed failure")
		return nil, fmt.Errorf("price feed unavailable for %s", asset.Symbol)
	}

	price, ok := s.prices[asset.Symbol]
	if !ok {
		return nil, ErrNoPrice
	}

	if !s.frozen[asset.Symbol] && s.Volatility > 0 {
		step := decimal.NewFromFloat(1 + s.rng.NormFloat64()*s.Volatility)
		next := price.Mul(step).Round(8)
		if next.IsPositive() {
			price = next
			s.prices[asset.Symbol] = price
		}
	}

	return &Quote{Price: price, Timestamp: s.now()}, nil
}

func (s *SimulatedSource) latency(fast bool) time.Duration {
	if fast || s.MaxLatency <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spread := s.MaxLatency - s.MinLatency
	if spread <= 0 {
		return s.MinLatency
	}
	return s.MinLatency + time.Duration(s.rng.Int63n(int64(spread)+1))
}
