package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/klear-options/internal/assets"
	"github.com/ksred/klear-options/internal/cache"
	"github.com/ksred/klear-options/internal/config"
	"github.com/ksred/klear-options/internal/events"
	"github.com/ksred/klear-options/internal/ledger"
	"github.com/ksred/klear-options/internal/metrics"
	"github.com/ksred/klear-options/internal/pricefeed"
	"github.com/ksred/klear-options/internal/types"
	"github.com/ksred/klear-options/pkg/middleware"
	"github.com/ksred/klear-options/pkg/response"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// commitTimeout bounds the payout and event publish once an order is
	// resolved; they run detached from the caller's cancellation
	commitTimeout = 10 * time.Second

	// activeCacheMargin keeps ACTIVE orders near expiry out of the order cache,
	// so a read racing settlement cannot cache a pre-settlement copy
	activeCacheMargin = 5 * time.Second
)

// OrderStore is the durable record of every order
type OrderStore interface {
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	ListOrders(ctx context.Context, userID string, q ListOrdersQuery) ([]types.Order, int64, error)
	FindActiveByUser(ctx context.Context, userID string, accountType types.AccountType) ([]types.Order, error)
	ResolveOrder(ctx context.Context, order *types.Order) (bool, error)
}

// Ledger is the balance ledger contract the engine debits and credits through
type Ledger interface {
	CurrentBalance(ctx context.Context, userID string, accountType types.AccountType) (int64, error)
	AppendEntry(ctx context.Context, userID string, req ledger.EntryRequest, opts ledger.AppendOptions) error
}

type AssetLookup interface {
	GetAssetByID(ctx context.Context, assetID string) (*types.Asset, error)
}

// Dependencies are the collaborators of the engine. Publisher and Metrics are optional.
type Dependencies struct {
	Store     OrderStore
	Ledger    Ledger
	Assets    AssetLookup
	Prices    pricefeed.Source
	Cache     *cache.OrderCache
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

// CreateOrderRequest is the input of CreateOrder. DurationSeconds is only
// honoured when it equals the configured sub-minute test duration.
type CreateOrderRequest struct {
	AccountType     types.AccountType `json:"accountType"`
	AssetID         string            `json:"assetId"`
	Direction       types.Direction   `json:"direction"`
	Amount          int64             `json:"amount"`
	DurationMinutes int               `json:"durationMinutes"`
	DurationSeconds int               `json:"durationSeconds,omitempty"`
}

type ListOrdersQuery struct {
	Status      types.OrderStatus
	AccountType types.AccountType
	Page        int
	Limit       int
}

// SettlementOutcome describes what one Settle call did
type SettlementOutcome struct {
	OrderID   string              `json:"order_id"`
	Status    types.OrderStatus   `json:"status"`
	ExitPrice decimal.NullDecimal `json:"exit_price"`
	Profit    int64               `json:"profit"`
	Credited  int64               `json:"credited"`
	Skipped   bool                `json:"skipped"`
}

// Service is the order lifecycle engine: it places price-locked orders and
// resolves them at expiry
type Service struct {
	store     OrderStore
	ledger    Ledger
	assets    AssetLookup
	prices    pricefeed.Source
	cache     *cache.OrderCache
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       config.TradingConfig
	now       func() time.Time
}

func NewService(deps Dependencies, cfg config.TradingConfig) *Service {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Service{
		store:     deps.Store,
		ledger:    deps.Ledger,
		assets:    deps.Assets,
		prices:    deps.Prices,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateOrder validates and places an order. Validation failures are reported
// before any I/O; nothing is persisted unless every check passes.
func (s *Service) CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (*types.Order, error) {
	start := s.now()
	order, err := s.createOrder(ctx, userID, req)
	if err != nil {
		s.metrics.OrderRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	s.metrics.OrdersCreated.WithLabelValues(string(order.AccountType)).Inc()
	s.metrics.OrderCreateDuration.Observe(s.now().Sub(start).Seconds())
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, userID string, req CreateOrderRequest) (*types.Order, error) {
	logger := log.With().
		Str("service", "trading").
		Str("user_id", userID).
		Str("account_type", string(req.AccountType)).
		Str("asset_id", req.AssetID).
		Logger()

	if !req.AccountType.Valid() {
		return nil, newError(ErrInvalidAccountType, fmt.Sprintf("accountType must be one of %s, %s", types.AccountReal, types.AccountDemo))
	}
	durationSeconds, err := s.resolveDuration(req)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, newError(ErrInvalidAmount, "amount must be a positive number of minor units")
	}
	if !req.Direction.Valid() {
		return nil, newError(ErrInvalidDirection, fmt.Sprintf("direction must be one of %s, %s", types.DirectionCall, types.DirectionPut))
	}
	if strings.TrimSpace(req.AssetID) == "" {
		return nil, newError(ErrInvalidAsset, "assetId is required")
	}

	var (
		balance int64
		asset   *types.Asset
		quote   *pricefeed.Quote
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.ledger.CurrentBalance(gctx, userID, req.AccountType)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		balance = b
		return nil
	})
	g.Go(func() error {
		a, err := s.assets.GetAssetByID(gctx, req.AssetID)
		if err != nil {
			if errors.Is(err, assets.ErrAssetNotFound) {
				return newError(ErrAssetNotFound, fmt.Sprintf("asset %s not found", req.AssetID))
			}
			return fmt.Errorf("failed to fetch asset: %w", err)
		}
		asset = a
		if !a.IsActive {
			return nil
		}
		// the feed is keyed by symbol, so the price follows the asset lookup
		quote = s.fetchPrice(gctx, logger, *a, true, s.cfg.CreatePriceTimeout, "create")
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if req.Amount > balance {
		return nil, newError(ErrInsufficientBalance, fmt.Sprintf("insufficient balance: available %d, required %d", balance, req.Amount))
	}
	if !asset.IsActive {
		return nil, newError(ErrAssetInactive, fmt.Sprintf("asset %s is not available for trading", asset.AssetID))
	}
	if quote == nil {
		return nil, newError(ErrPriceUnavailable, fmt.Sprintf("no current price for %s, please retry", asset.Symbol))
	}

	entryTime := s.now()
	order := &types.Order{
		OrderID:         uuid.New().String(),
		UserID:          userID,
		AccountType:     req.AccountType,
		AssetID:         asset.AssetID,
		AssetName:       asset.Name,
		Direction:       req.Direction,
		Amount:          req.Amount,
		DurationSeconds: durationSeconds,
		ProfitRate:      asset.ProfitRate,
		EntryPrice:      quote.Price,
		EntryTime:       entryTime,
		ExitTime:        ExitTimeFor(entryTime, durationSeconds),
		Status:          types.StatusActive,
		CreatedAt:       entryTime,
		UpdatedAt:       entryTime,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		logger.Error().Err(err).Msg("failed to persist order")
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	s.cache.PutOrder(order)
	s.cache.AddActiveOrder(order)

	s.debit(ctx, logger, order)
	s.publish(ctx, events.OrderCreated, order)

	logger.Info().
		Str("order_id", order.OrderID).
		Str("direction", string(order.Direction)).
		Int64("amount", order.Amount).
		Str("entry_price", order.EntryPrice.String()).
		Time("exit_time", order.ExitTime).
		Msg("order placed")

	return order, nil
}

func (s *Service) resolveDuration(req CreateOrderRequest) (int, error) {
	if req.DurationSeconds > 0 && s.cfg.TestDurationSeconds > 0 && req.DurationSeconds == s.cfg.TestDurationSeconds {
		return req.DurationSeconds, nil
	}
	if IsAllowedDuration(req.DurationMinutes) && req.DurationSeconds == 0 {
		return req.DurationMinutes * 60, nil
	}

	allowed := make([]string, 0, len(allowedMinutes))
	for _, m := range allowedMinutes {
		allowed = append(allowed, strconv.Itoa(m))
	}
	return 0, newError(ErrInvalidDuration, fmt.Sprintf("durationMinutes must be one of %s", strings.Join(allowed, ", ")))
}

// debit submits the stake deduction. The order already exists, so a failed
// debit is a reconciliation gap and never fails the placement.
func (s *Service) debit(ctx context.Context, logger zerolog.Logger, order *types.Order) {
	req := ledger.EntryRequest{
		AccountType: order.AccountType,
		Kind:        types.EntryOrderDebit,
		Amount:      -order.Amount,
		Reference:   order.OrderID,
		Description: fmt.Sprintf("%s %s order %s", order.Direction, order.AssetName, order.OrderID),
	}

	if err := s.ledger.AppendEntry(ctx, order.UserID, req, ledger.AppendOptions{Wait: s.cfg.SyncDebit}); err != nil {
		s.metrics.ReconciliationGaps.WithLabelValues(string(types.EntryOrderDebit)).Inc()
		logger.Error().
			Err(err).
			Bool("reconciliation", true).
			Str("order_id", order.OrderID).
			Int64("amount", order.Amount).
			Msg("order debit failed")
	}
}

// Settle resolves an ACTIVE order at its current price. A closed order is
// returned untouched with Skipped set. Failures before the store update leave the
// order ACTIVE for the next sweep.
func (s *Service) Settle(ctx context.Context, order *types.Order) (*SettlementOutcome, error) {
	if order.Status != types.StatusActive {
		return s.skipped(order), nil
	}

	logger := log.With().
		Str("service", "trading").
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("account_type", string(order.AccountType)).
		Logger()

	asset, err := s.assets.GetAssetByID(ctx, order.AssetID)
	if err != nil {
		s.metrics.SettlementFailures.WithLabelValues("asset").Inc()
		return nil, fmt.Errorf("failed to fetch asset %s: %w", order.AssetID, err)
	}

	quote := s.fetchPrice(ctx, logger, *asset, false, s.cfg.SettlePriceTimeout, "settle")
	if quote == nil {
		s.metrics.SettlementFailures.WithLabelValues("price").Inc()
		return nil, newError(ErrPriceUnavailable, fmt.Sprintf("no exit price for %s", asset.Symbol))
	}

	status := DetermineResult(order.Direction, order.EntryPrice, quote.Price)
	profit := CalculateProfit(status, order.Amount, order.ProfitRate)
	settledAt := s.now()

	resolved := *order
	resolved.ExitPrice = decimal.NewNullDecimal(quote.Price)
	resolved.Status = status
	resolved.Profit = &profit
	resolved.SettledAt = &settledAt

	updated, err := s.store.ResolveOrder(ctx, &resolved)
	if err != nil {
		s.metrics.SettlementFailures.WithLabelValues("store").Inc()
		logger.Error().Err(err).Msg("failed to resolve order")
		return nil, fmt.Errorf("failed to resolve order: %w", err)
	}
	if !updated {
		logger.Debug().Msg("order already resolved")
		s.invalidate(order)
		return s.skipped(order), nil
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	outcome := &SettlementOutcome{
		OrderID:   order.OrderID,
		Status:    status,
		ExitPrice: resolved.ExitPrice,
		Profit:    profit,
	}

	var creditErr error
	if credit := SettlementCredit(status, order.Amount, profit); credit > 0 {
		creditErr = s.credit(commitCtx, logger, &resolved, credit)
		if creditErr == nil {
			outcome.Credited = credit
		}
	}

	s.invalidate(order)
	s.metrics.Settlements.WithLabelValues(string(order.AccountType), string(status)).Inc()
	s.publish(commitCtx, events.OrderSettled, &resolved)

	logger.Info().
		Str("status", string(status)).
		Str("entry_price", order.EntryPrice.String()).
		Str("exit_price", quote.Price.String()).
		Int64("profit", profit).
		Int64("credited", outcome.Credited).
		Msg("order settled")

	return outcome, creditErr
}

func (s *Service) credit(ctx context.Context, logger zerolog.Logger, order *types.Order, amount int64) error {
	err := s.ledger.AppendEntry(ctx, order.UserID, ledger.EntryRequest{
		AccountType: order.AccountType,
		Kind:        types.EntryOrderProfit,
		Amount:      amount,
		Reference:   order.OrderID,
		Description: fmt.Sprintf("payout for order %s", order.OrderID),
	}, ledger.AppendOptions{Wait: true, Critical: true})
	if err == nil {
		return nil
	}

	if errors.Is(err, ledger.ErrDuplicateEntry) {
		logger.Warn().Msg("order payout already credited")
		return nil
	}

	s.metrics.ReconciliationGaps.WithLabelValues(string(types.EntryOrderProfit)).Inc()
	logger.Error().
		Err(err).
		Bool("reconciliation", true).
		Int64("amount", amount).
		Msg("won order resolved but payout credit failed")
	return newError(ErrCreditFailed, fmt.Sprintf("order %s won but credit of %d failed: %v", order.OrderID, amount, err))
}

func (s *Service) skipped(order *types.Order) *SettlementOutcome {
	outcome := &SettlementOutcome{
		OrderID:   order.OrderID,
		Status:    order.Status,
		ExitPrice: order.ExitPrice,
		Skipped:   true,
	}
	if order.Profit != nil {
		outcome.Profit = *order.Profit
	}
	return outcome
}

func (s *Service) invalidate(order *types.Order) {
	s.cache.InvalidateOrder(order.OrderID)
	s.cache.MarkStale(order.AccountType)
}

// fetchPrice returns nil when the source fails or misses the deadline
func (s *Service) fetchPrice(ctx context.Context, logger zerolog.Logger, asset types.Asset, fast bool, d time.Duration, phase string) *pricefeed.Quote {
	quote, err := pricefeed.FetchWithDeadline(ctx, s.prices, asset, fast, d)
	if err != nil {
		if errors.Is(err, pricefeed.ErrDeadlineExceeded) {
			s.metrics.PriceFetchTimeouts.WithLabelValues(phase).Inc()
		}
		logger.Warn().Err(err).Str("symbol", asset.Symbol).Str("phase", phase).Msg("price unavailable")
		return nil
	}
	return quote
}

func (s *Service) publish(ctx context.Context, t events.EventType, order *types.Order) {
	if err := s.publisher.Publish(ctx, events.NewOrderEvent(t, order, s.now())); err != nil {
		s.metrics.EventPublishFailures.Inc()
		log.Warn().Err(err).Str("order_id", order.OrderID).Str("event", string(t)).Msg("failed to publish order event")
	}
}

// GetOrder returns an order owned by userID
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*types.Order, error) {
	order, ok := s.cache.GetOrder(orderID)
	if !ok {
		var err error
		order, err = s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch order: %w", err)
		}
		if order == nil {
			return nil, newError(ErrOrderNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		if order.Status != types.StatusActive || order.ExitTime.After(s.now().Add(activeCacheMargin)) {
			s.cache.PutOrder(order)
		}
	}

	if order.UserID != userID {
		return nil, newError(ErrForbidden, "order belongs to another user")
	}
	return order, nil
}

// ListOrders returns a page of the user's orders
func (s *Service) ListOrders(ctx context.Context, userID string, q ListOrdersQuery) (*types.OrderListResponse, error) {
	if q.Status != "" && !validStatus(q.Status) {
		return nil, newError(ErrInvalidQuery, fmt.Sprintf("unknown status %q", q.Status))
	}
	if q.AccountType != "" && !q.AccountType.Valid() {
		return nil, newError(ErrInvalidAccountType, fmt.Sprintf("accountType must be one of %s, %s", types.AccountReal, types.AccountDemo))
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}

	orders, total, err := s.store.ListOrders(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []types.Order{}
	}

	return &types.OrderListResponse{
		Orders: orders,
		Pagination: types.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
		},
	}, nil
}

// ActiveOrders returns the user's open orders, from the working-set cache when fresh
func (s *Service) ActiveOrders(ctx context.Context, userID string, accountType types.AccountType) ([]types.Order, error) {
	if !accountType.Valid() {
		return nil, newError(ErrInvalidAccountType, fmt.Sprintf("accountType must be one of %s, %s", types.AccountReal, types.AccountDemo))
	}
	if orders, ok := s.cache.ActiveOrders(userID, accountType); ok {
		if orders == nil {
			orders = []types.Order{}
		}
		return orders, nil
	}

	generation := s.cache.Generation(accountType)
	orders, err := s.store.FindActiveByUser(ctx, userID, accountType)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active orders: %w", err)
	}
	if orders == nil {
		orders = []types.Order{}
	}
	s.cache.SetActiveOrders(userID, accountType, orders, generation)
	return orders, nil
}

func validStatus(status types.OrderStatus) bool {
	switch status {
	case types.StatusPending, types.StatusActive, types.StatusWon, types.StatusLost, types.StatusExpired:
		return true
	}
	return false
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to place orders
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			response.Fail(c, err)
			return
		}

		response.Success(c, types.CreateOrderResponse{
			Order:           order,
			AccountType:     order.AccountType,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		})
	}
}

// ListOrdersHandler handles GET requests listing the caller's orders
// Query: status, accountType, page, limit
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := intQuery(c, "page", 1)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		limit, err := intQuery(c, "limit", defaultPageLimit)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		list, err := h.service.ListOrders(c.Request.Context(), middleware.UserID(c), ListOrdersQuery{
			Status:      types.OrderStatus(strings.ToUpper(c.Query("status"))),
			AccountType: types.AccountType(c.Query("accountType")),
			Page:        page,
			Limit:       limit,
		})
		response.Handle(c, list, err)
	}
}

// ActiveOrdersHandler handles GET requests for the caller's open orders
func (h *GinHandlers) ActiveOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountType := types.AccountType(c.DefaultQuery("accountType", string(types.AccountReal)))

		orders, err := h.service.ActiveOrders(c.Request.Context(), middleware.UserID(c), accountType)
		response.Handle(c, orders, err)
	}
}

// GetOrderHandler handles GET requests for a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), middleware.UserID(c), orderID)
		response.Handle(c, order, err)
	}
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
