// Package config loads the trading core's typed configuration, grounded
// on internal/config/strong_consistency_config.go's viper.New() + LoadConfig
// + setDefaultConfiguration fallback idiom.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Risk holds the checkTrade thresholds of spec.md §6.
type Risk struct {
	MaxPositionSize         float64 `mapstructure:"maxPositionSize"`
	MaxTotalExposure        float64 `mapstructure:"maxTotalExposure"`
	MaxConcentration        float64 `mapstructure:"maxConcentration"`
	MaxDailyLoss            float64 `mapstructure:"maxDailyLoss"`
	MaxDailyTrades          int     `mapstructure:"maxDailyTrades"`
	MaxDailyVolume          float64 `mapstructure:"maxDailyVolume"`
	MaxDrawdownPct          float64 `mapstructure:"maxDrawdownPct"`
	MaxConsecutiveLosses    int     `mapstructure:"maxConsecutiveLosses"`
	CircuitBreakerDurationMs int64  `mapstructure:"circuitBreakerDuration"`
	TradeCooldownMs         int64   `mapstructure:"tradeCooldownMs"`
	MaxSlippagePct          float64 `mapstructure:"maxSlippagePct"`
	MaxPriceDeviationPct    float64 `mapstructure:"maxPriceDeviationPct"`
}

// Backtest holds execution-model defaults for internal/backtest.
type Backtest struct {
	InitialBalance float64 `mapstructure:"initialBalance"`
	MakerFee       float64 `mapstructure:"makerFee"`
	TakerFee       float64 `mapstructure:"takerFee"`
	SlippageModel  string  `mapstructure:"slippageModel"` // none|fixed|dynamic
	SlippageBps    float64 `mapstructure:"slippageBps"`
}

// Optimizer holds walk-forward optimizer defaults.
type Optimizer struct {
	TrainRatio float64 `mapstructure:"trainRatio"`
	NSplits    int     `mapstructure:"nSplits"`
	Metric     string  `mapstructure:"metric"`
	MinTrades  int     `mapstructure:"minTrades"`
}

// Ingestor holds historical-backfill defaults.
type Ingestor struct {
	Exchange     string `mapstructure:"exchange"`
	RateLimitMs  int64  `mapstructure:"rateLimitMs"`
	ChunkSize    int    `mapstructure:"chunkSize"`
	MaxRetries   int    `mapstructure:"maxRetries"`
	RetryDelayMs int64  `mapstructure:"retryDelayMs"`
}

// Venue holds per-exchange aggregator client defaults.
type Venue struct {
	Name                 string `mapstructure:"name"`
	MaxReconnectAttempts int    `mapstructure:"maxReconnectAttempts"`
	ReconnectDelayMs     int64  `mapstructure:"reconnectDelayMs"`
	HeartbeatMs          int64  `mapstructure:"heartbeatMs"`
}

// Database holds the relational metadata store's connection settings.
// DSN empty selects the embedded sqlite driver at SQLitePath instead,
// per spec.md §6's "sqlite for tests/embeddable mode, postgres for
// production" split.
type Database struct {
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlitePath"`
}

// Redis holds the ephemeral cache layer's connection settings.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Metrics holds the Prometheus exposition listener's settings.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root configuration object for the trading core.
type Config struct {
	Risk           Risk     `mapstructure:"risk"`
	Backtest       Backtest `mapstructure:"backtest"`
	Optimizer      Optimizer `mapstructure:"optimizer"`
	Ingestor       Ingestor `mapstructure:"ingestor"`
	Venues         []Venue  `mapstructure:"venues"`
	CandleBasePath string   `mapstructure:"candleBasePath"`
	Database       Database `mapstructure:"database"`
	Redis          Redis    `mapstructure:"redis"`
	Metrics        Metrics  `mapstructure:"metrics"`
}

// Default returns the configuration with every default from spec.md §6.
func Default() *Config {
	return &Config{
		Risk: Risk{
			MaxPositionSize: 0.2, MaxTotalExposure: 0.8, MaxConcentration: 0.4,
			MaxDailyLoss: 0.05, MaxDailyTrades: 100, MaxDailyVolume: 100000,
			MaxDrawdownPct: 10, MaxConsecutiveLosses: 5,
			CircuitBreakerDurationMs: 3600000, TradeCooldownMs: 1000,
			MaxSlippagePct: 2, MaxPriceDeviationPct: 5,
		},
		Backtest: Backtest{
			InitialBalance: 10000, MakerFee: 0.001, TakerFee: 0.002,
			SlippageModel: "none", SlippageBps: 5,
		},
		Optimizer: Optimizer{TrainRatio: 0.7, NSplits: 3, Metric: "sharpeRatio", MinTrades: 10},
		Ingestor:  Ingestor{RateLimitMs: 100, ChunkSize: 1000, MaxRetries: 3, RetryDelayMs: 5000},
		CandleBasePath: "./data/candles",
		Database:       Database{SQLitePath: "./data/tradingcore.db"},
		Redis:          Redis{Addr: "localhost:6379"},
		Metrics:        Metrics{Addr: ":9090"},
	}
}

// Load reads configuration from path (yaml/json/toml, per viper's format
// sniffing) and merges it over Default(). A missing file is not an
// error: it logs and falls back to defaults, matching the teacher's
// setDefaultConfiguration fallback.
func Load(path string, logger *zap.Logger) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Warn("config file not found, using defaults", zap.String("path", path))
			return cfg, nil
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tradingcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tradingcore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	logger.Info("configuration loaded", zap.String("file", v.ConfigFileUsed()))
	return cfg, nil
}
