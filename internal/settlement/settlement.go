// Package settlement discovers expired orders and resolves them on a fixed schedule.
package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/klear-options/internal/config"
	"github.com/ksred/klear-options/internal/metrics"
	"github.com/ksred/klear-options/internal/trading"
	"github.com/ksred/klear-options/internal/types"
	"github.com/ksred/klear-options/pkg/response"
)

// ActiveOrderFinder queries the order store. The sweeper never reads active
// orders from a cache.
type ActiveOrderFinder interface {
	FindActive(ctx context.Context, accountType types.AccountType, limit int) ([]types.Order, error)
}

type Settler interface {
	Settle(ctx context.Context, order *types.Order) (*trading.SettlementOutcome, error)
}

type CacheInvalidator interface {
	InvalidateAll()
}

// SweepReport summarises one sweep
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Due      int           `json:"due"`
	Won      int           `json:"won"`
	Lost     int           `json:"lost"`
	Skipped  int           `json:"skipped"`
	Deferred int           `json:"deferred"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type Sweeper struct {
	store   ActiveOrderFinder
	settler Settler
	cache   CacheInvalidator
	flight  *SingleFlight
	metrics *metrics.Metrics
	cfg     config.SettlementConfig
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewSweeper(store ActiveOrderFinder, settler Settler, cache CacheInvalidator, cfg config.SettlementConfig, m *metrics.Metrics) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = cfg.BatchSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Sweeper{
		store:   store,
		settler: settler,
		cache:   cache,
		flight:  NewSingleFlight(),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// TrySweep sweeps unless a sweep is already running; ran reports which happened
func (s *Sweeper) TrySweep(ctx context.Context) (report SweepReport, ran bool) {
	ran, _ = s.flight.Do(ctx, func(ctx context.Context) error {
		report = s.Sweep(ctx)
		return nil
	})
	return report, ran
}

// Sweep settles every due active order, one account type at a time
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	logger := log.With().Str("component", "settlement_sweeper").Logger()
	start := s.now()

	var report SweepReport
	for _, accountType := range types.AccountTypes {
		orders, err := s.store.FindActive(ctx, accountType, s.cfg.PageSize)
		if err != nil {
			s.metrics.SettlementFailures.WithLabelValues("query").Inc()
			logger.Error().Err(err).Str("account_type", string(accountType)).Msg("failed to query active orders")
			continue
		}

		due := DueOrders(orders, s.now(), s.cfg.Tolerance)
		report.Scanned += len(orders)
		report.Due += len(due)

		for i := 0; i < len(due); i += s.cfg.BatchSize {
			end := min(i+s.cfg.BatchSize, len(due))
			s.settleBatch(ctx, due[i:end], &report)
		}
	}

	s.cache.InvalidateAll()

	report.Duration = s.now().Sub(start)
	s.metrics.SweepDuration.Observe(report.Duration.Seconds())

	event := logger.Debug()
	if report.Due > 0 {
		event = logger.Info()
	}
	event.
		Int("scanned", report.Scanned).
		Int("due", report.Due).
		Int("won", report.Won).
		Int("lost", report.Lost).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("settlement sweep completed")

	return report
}

type settleResult struct {
	outcome *trading.SettlementOutcome
	err     error
}

// settleBatch settles orders with bounded parallelism. Each order's failure is
// recorded on its own and never cancels its siblings.
func (s *Sweeper) settleBatch(ctx context.Context, batch []types.Order, report *SweepReport) {
	results := make([]settleResult, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i := range batch {
		g.Go(func() error {
			outcome, err := s.settler.Settle(ctx, &batch[i])
			results[i] = settleResult{outcome, err}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		logger := log.With().
			Str("component", "settlement_sweeper").
			Str("order_id", batch[i].OrderID).
			Str("account_type", string(batch[i].AccountType)).
			Logger()

		if r.outcome != nil {
			switch {
			case r.outcome.Skipped:
				report.Skipped++
			case r.outcome.Status == types.StatusWon:
				report.Won++
			case r.outcome.Status == types.StatusLost:
				report.Lost++
			}
		}

		switch {
		case r.err == nil:
		case errors.Is(r.err, trading.ErrPriceUnavailable):
			report.Deferred++
			logger.Warn().Err(r.err).Msg("settlement deferred to next sweep")
		default:
			report.Failed++
			logger.Error().Err(r.err).Msg("settlement failed")
		}
	}
}

// DueOrders keeps orders whose scheduled expiry is at or before now + tolerance
func DueOrders(orders []types.Order, now time.Time, tolerance time.Duration) []types.Order {
	cutoff := now.Add(tolerance)
	due := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		if !o.ExitTime.After(cutoff) {
			due = append(due, o)
		}
	}
	return due
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	sweeper *Sweeper
}

func NewGinHandlers(sweeper *Sweeper) *GinHandlers {
	return &GinHandlers{
		sweeper: sweeper,
	}
}

// SweepHandler triggers a sweep out of schedule. It shares the scheduled
// sweeper's single flight and answers 409 while a sweep is running.
// A client disconnect does not abort the sweep.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ran := h.sweeper.TrySweep(context.WithoutCancel(c.Request.Context()))
		if !ran {
			response.Conflict(c, "A settlement sweep is already running")
			return
		}

		response.Success(c, report)
	}
}
