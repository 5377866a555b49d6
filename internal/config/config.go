package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Env        string           `yaml:"env"`
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Trading    TradingConfig    `yaml:"trading"`
	Settlement SettlementConfig `yaml:"settlement"`
	Cache      CacheConfig      `yaml:"cache"`
	PriceFeed  PriceFeedConfig  `yaml:"price_feed"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Assets     []AssetSeed      `yaml:"assets"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // sqlite file path, or ":memory:"
}

type AuthConfig struct {
	JWTSecret     string            `yaml:"jwt_secret"`
	TokenTTL      time.Duration     `yaml:"token_ttl"`
	WebhookSecret string            `yaml:"webhook_secret"`
	Credentials   map[string]string `yaml:"credentials"` // api key -> api secret
}

// TradingConfig controls order creation
type TradingConfig struct {
	// TestDurationSeconds enables one extra sub-minute duration; 0 disables it
	TestDurationSeconds int `yaml:"test_duration_seconds"`

	CreatePriceTimeout time.Duration `yaml:"create_price_timeout"`
	SettlePriceTimeout time.Duration `yaml:"settle_price_timeout"`
	SyncDebit          bool          `yaml:"sync_debit"`
}

// SettlementConfig controls the periodic sweep
type SettlementConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Tolerance   time.Duration `yaml:"tolerance"`
	PageSize    int           `yaml:"page_size"`
	BatchSize   int           `yaml:"batch_size"`
	Parallelism int           `yaml:"parallelism"`
}

type CacheConfig struct {
	OrderTTL        time.Duration `yaml:"order_ttl"`
	ActiveTTL       time.Duration `yaml:"active_ttl"`
	AssetTTL        time.Duration `yaml:"asset_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PriceFeedConfig selects the price source: "simulated" or "redis"
type PriceFeedConfig struct {
	Source      string        `yaml:"source"`
	MaxAge      time.Duration `yaml:"max_age"`
	Seed        int64         `yaml:"seed"`
	Volatility  float64       `yaml:"volatility"`
	FailureRate float64       `yaml:"failure_rate"`
	MaxLatency  time.Duration `yaml:"max_latency"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	AssetTTL time.Duration `yaml:"asset_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LedgerConfig struct {
	AsyncQueueSize int   `yaml:"async_queue_size"`
	DemoBonus      int64 `yaml:"demo_bonus"`
}

// AssetSeed is an asset loaded into the directory at startup
type AssetSeed struct {
	ID         string  `yaml:"id"`
	Symbol     string  `yaml:"symbol"`
	Name       string  `yaml:"name"`
	ProfitRate float64 `yaml:"profit_rate"`
	Active     bool    `yaml:"active"`
	StartPrice float64 `yaml:"start_price"`
}

// Load reads the YAML file at path (if it exists), applies .env and environment
// overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Production reports whether the service runs with ENV=production
func (c *Config) Production() bool {
	return c.Env == "production"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if os.Getenv("DEBUG") == "true" {
		cfg.Debug = true
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Auth.WebhookSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PRICE_FEED_SOURCE"); v != "" {
		cfg.PriceFeed.Source = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "klear-options.db"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "klear-secret-key"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Trading.CreatePriceTimeout <= 0 {
		cfg.Trading.CreatePriceTimeout = 500 * time.Millisecond
	}
	if cfg.Trading.SettlePriceTimeout <= 0 {
		cfg.Trading.SettlePriceTimeout = time.Second
	}
	if cfg.Settlement.Interval <= 0 {
		cfg.Settlement.Interval = 2 * time.Second
	}
	if cfg.Settlement.Tolerance <= 0 {
		cfg.Settlement.Tolerance = time.Second
	}
	if cfg.Settlement.PageSize <= 0 {
		cfg.Settlement.PageSize = 500
	}
	if cfg.Settlement.BatchSize <= 0 {
		cfg.Settlement.BatchSize = 20
	}
	if cfg.Settlement.Parallelism <= 0 {
		cfg.Settlement.Parallelism = cfg.Settlement.BatchSize
	}
	if cfg.Cache.OrderTTL <= 0 {
		cfg.Cache.OrderTTL = 30 * time.Second
	}
	if cfg.Cache.ActiveTTL <= 0 {
		cfg.Cache.ActiveTTL = 5 * time.Second
	}
	if cfg.Cache.AssetTTL <= 0 {
		cfg.Cache.AssetTTL = 30 * time.Second
	}
	if cfg.Cache.CleanupInterval <= 0 {
		cfg.Cache.CleanupInterval = time.Minute
	}
	if cfg.PriceFeed.Source == "" {
		cfg.PriceFeed.Source = "simulated"
	}
	if cfg.PriceFeed.MaxAge <= 0 {
		cfg.PriceFeed.MaxAge = 5 * time.Second
	}
	if cfg.PriceFeed.Volatility <= 0 {
		cfg.PriceFeed.Volatility = 0.0005
	}
	if cfg.Redis.AssetTTL <= 0 {
		cfg.Redis.AssetTTL = 5 * time.Minute
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "orders.lifecycle"
	}
	if cfg.Ledger.AsyncQueueSize <= 0 {
		cfg.Ledger.AsyncQueueSize = 1024
	}
	if cfg.Ledger.DemoBonus <= 0 {
		cfg.Ledger.DemoBonus = 10_000_000
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = defaultAssets()
	}
}

func defaultAssets() []AssetSeed {
	return []AssetSeed{
		{ID: "btc-usd", Symbol: "BTCUSD", Name: "Bitcoin / US Dollar", ProfitRate: 85, Active: true, StartPrice: 64000},
		{ID: "eth-usd", Symbol: "ETHUSD", Name: "Ethereum / US Dollar", ProfitRate: 82, Active: true, StartPrice: 3200},
		{ID: "eur-usd", Symbol: "EURUSD", Name: "Euro / US Dollar", ProfitRate: 80, Active: true, StartPrice: 1.08},
		{ID: "xau-usd", Symbol: "XAUUSD", Name: "Gold / US Dollar", ProfitRate: 78, Active: false, StartPrice: 2350},
	}
}
