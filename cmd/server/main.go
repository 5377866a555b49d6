package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-options/internal/assets"
	"github.com/ksred/klear-options/internal/auth"
	"github.com/ksred/klear-options/internal/cache"
	"github.com/ksred/klear-options/internal/config"
	"github.com/ksred/klear-options/internal/database"
	"github.com/ksred/klear-options/internal/events"
	"github.com/ksred/klear-options/internal/ledger"
	"github.com/ksred/klear-options/internal/metrics"
	"github.com/ksred/klear-options/internal/pricefeed"
	"github.com/ksred/klear-options/internal/settlement"
	"github.com/ksred/klear-options/internal/trading"
	"github.com/ksred/klear-options/pkg/middleware"
)

// configureLogging enables pretty printing outside production and debug level on request
func configureLogging(cfg *config.Config) {
	if !cfg.Production() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

type handlers struct {
	auth       *auth.GinHandlers
	trading    *trading.GinHandlers
	ledger     *ledger.GinHandlers
	assets     *assets.GinHandlers
	settlement *settlement.GinHandlers
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zlog.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, continuing without shared cache")
		}
	}

	prices := newPriceSource(cfg, redisClient)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		zlog.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing order events to Kafka")
	}

	ledgerService := ledger.NewService(db, m, cfg.Ledger.AsyncQueueSize)

	var shared assets.SharedCache
	if redisClient != nil {
		shared = cache.NewRedisAssetCache(redisClient, cfg.Redis.AssetTTL)
	}
	assetCache := cache.NewAssetCache(cfg.Cache.AssetTTL, time.Now)
	assetCache.Start(ctx, cfg.Cache.CleanupInterval)
	directory := assets.NewDirectory(db, assetCache, shared)
	if err := directory.Seed(ctx, cfg.Assets); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed assets")
	}

	orderCache := cache.NewOrderCache(cfg.Cache.OrderTTL, cfg.Cache.ActiveTTL, time.Now)
	orderCache.Start(ctx, cfg.Cache.CleanupInterval)

	store := trading.NewDatabase(db)
	tradingService := trading.NewService(trading.Dependencies{
		Store:     store,
		Ledger:    ledgerService,
		Assets:    directory,
		Prices:    prices,
		Cache:     orderCache,
		Publisher: publisher,
		Metrics:   m,
	}, cfg.Trading)

	sweeper := settlement.NewSweeper(store, tradingService, orderCache, cfg.Settlement, m)
	go sweeper.Start(ctx)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if !cfg.Production() {
		// Register test credentials
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
		authService.RegisterAPICredentials(auth.TestInternalKey, auth.TestInternalSecret, middleware.InternalPermission)
	}
	for key, secret := range cfg.Auth.Credentials {
		authService.RegisterAPICredentials(key, secret)
	}

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Run(ctx)

	router := gin.Default()
	setupRoutes(router, cfg, rateLimiter, handlers{
		auth:       auth.NewGinHandlers(authService),
		trading:    trading.NewGinHandlers(tradingService),
		ledger:     ledger.NewGinHandlers(ledgerService, cfg.Ledger.DemoBonus),
		assets:     assets.NewGinHandlers(directory),
		settlement: settlement.NewGinHandlers(sweeper),
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Str("price_feed", cfg.PriceFeed.Source).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	// stops the sweeper, cache janitors and the rate limiter cleanup
	cancel()
	orderCache.Stop()
	assetCache.Stop()

	// drains pending async debits before exit
	ledgerService.Close()
	if err := publisher.Close(); err != nil {
		zlog.Error().Err(err).Msg("Failed to close event publisher")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	zlog.Info().Msg("Server exiting")
}

// newPriceSource returns the redis-backed feed when configured, otherwise a
// simulated random walk seeded from the asset start prices
func newPriceSource(cfg *config.Config, redisClient *redis.Client) pricefeed.Source {
	if cfg.PriceFeed.Source == "redis" {
		if redisClient == nil {
			zlog.Fatal().Msg("price_feed.source is redis but redis.addr is empty")
		}
		return pricefeed.NewRedisSource(redisClient, cfg.PriceFeed.MaxAge)
	}

	seed := cfg.PriceFeed.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim := pricefeed.NewSimulatedSource(seed, cfg.PriceFeed.Volatility)
	sim.FailureRate = cfg.PriceFeed.FailureRate
	if cfg.PriceFeed.MaxLatency > 0 {
		sim.MaxLatency = cfg.PriceFeed.MaxLatency
	}
	for _, a := range cfg.Assets {
		if a.StartPrice > 0 {
			sim.Seed(a.Symbol, decimal.NewFromFloat(a.StartPrice))
		}
	}
	return sim
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public token issuance
// - User routes: JWT protected and rate limited per user
// - Internal routes: JWT with the internal permission
// - Webhooks: HMAC signed by the payment gateway
func setupRoutes(router *gin.Engine, cfg *config.Config, rl *middleware.RateLimiter, h handlers) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", h.auth.GenerateTokenHandler())
		}

		user := v1.Group("")
		user.Use(middleware.JWTAuth(cfg.Auth.JWTSecret), rl.Middleware())
		{
			user.POST("/orders", h.trading.CreateOrderHandler())
			user.GET("/orders", h.trading.ListOrdersHandler())
			user.GET("/orders/active", h.trading.ActiveOrdersHandler())
			user.GET("/orders/:order_id", h.trading.GetOrderHandler())

			user.GET("/balance", h.ledger.BalanceHandler())
			user.GET("/balance/entries", h.ledger.EntriesHandler())
			user.POST("/accounts/demo/reset", h.ledger.DemoResetHandler())

			user.GET("/assets", h.assets.ListAssetsHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/settlement/sweep", h.settlement.SweepHandler())
		}

		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.WebhookSignature(cfg.Auth.WebhookSecret))
		{
			webhooks.POST("/deposit", h.ledger.DepositWebhookHandler())
		}
	}
}
