// tradingcore is the trading core's long-running process: it wires the
// event bus, candle store, relational metadata store, risk manager,
// order manager, position manager, strategy scheduler, market-data
// aggregator, historical ingestor and trading coordinator into one
// running binary, per spec.md §5/§6. Grounded on cmd/pincex/main.go's
// load-config -> connect-stores -> construct-services -> start ->
// wait-for-signal -> stop shutdown shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexustrade/tradingcore/internal/backtest"
	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/cache"
	"github.com/nexustrade/tradingcore/internal/candlestore"
	"github.com/nexustrade/tradingcore/internal/config"
	"github.com/nexustrade/tradingcore/internal/coordinator"
	"github.com/nexustrade/tradingcore/internal/ingest"
	"github.com/nexustrade/tradingcore/internal/marketdata"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/obs/metrics"
	"github.com/nexustrade/tradingcore/internal/optimize"
	"github.com/nexustrade/tradingcore/internal/orders"
	"github.com/nexustrade/tradingcore/internal/positions"
	"github.com/nexustrade/tradingcore/internal/risk"
	"github.com/nexustrade/tradingcore/internal/store"
	"github.com/nexustrade/tradingcore/internal/strategy"
	"github.com/nexustrade/tradingcore/internal/transportshim"
	"github.com/nexustrade/tradingcore/pkg/logger"
)

const defaultContextTimeframe = model.Timeframe("1m")
const contextCandleWindow = 100

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Debug("no .env file found, using process environment")
	}

	cfg, err := config.Load(os.Getenv("TRADINGCORE_CONFIG"), zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	busMetrics := metrics.NewBus(reg)
	orderMetrics := metrics.NewOrders(reg)
	ingestMetrics := metrics.NewIngest(reg)

	db, err := openStore(cfg)
	if err != nil {
		zapLogger.Fatal("failed to connect metadata store", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		zapLogger.Fatal("failed to migrate metadata store", zap.Error(err))
	}
	meta := store.New(db)

	candles := candlestore.New(cfg.CandleBasePath, zapLogger)

	var redisCache *cache.Cache
	if cfg.Redis.Addr != "" {
		c, err := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zapLogger.Warn("cache unavailable, continuing without it", zap.Error(err))
		} else {
			redisCache = c
		}
	}

	eventBus := bus.New(zapLogger, busMetrics)

	orderMgr := orders.New(zapLogger, eventBus, redisCache, orderMetrics, orders.DefaultLimits(), orders.SimulatedSubmitter{})
	defer orderMgr.Close()

	posMgr := positions.New(zapLogger)
	riskMgr := risk.New(zapLogger, eventBus, cfg.Risk)

	aggregator := marketdata.New(zapLogger, eventBus, time.Second)
	for _, v := range cfg.Venues {
		zapLogger.Info("venue configured, awaiting client registration", zap.String("exchange", v.Name))
	}

	factory := strategy.NewFactory()
	sched := strategy.New(zapLogger, eventBus, buildMarketContext(candles, aggregator), 30*time.Second)

	backtestEngine := backtest.New(zapLogger)
	optimizer := optimize.New(factory, backtestEngine)

	fetcher := ingest.NewNullFetcher()
	ingestor := ingest.New(zapLogger, fetcher, candles, meta, ingestMetrics, ingestConfigFrom(cfg.Ingestor))

	defaultExchange := cfg.Ingestor.Exchange
	if defaultExchange == "" {
		defaultExchange = "binance"
	}
	coordinator.New(zapLogger, eventBus, riskMgr, orderMgr, posMgr, sched, aggregator.LatestPrice, defaultExchange)

	shim := transportshim.New(zapLogger, backtestEngine, factory, optimizer, candles, meta, ingestor)
	_ = shim // held by a future transport adapter; exercised directly by its own tests today

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go aggregator.Start(ctx)
	sched.Start(ctx)

	metricsSrv := startMetricsServer(cfg.Metrics.Addr, reg, zapLogger)

	zapLogger.Info("tradingcore started", zap.String("metricsAddr", cfg.Metrics.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	cancel()
	sched.Stop()
	aggregator.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	zapLogger.Info("tradingcore exited properly")
}

func openStore(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.DSN != "" {
		return store.Open(cfg.Database.DSN)
	}
	return store.OpenSQLite(cfg.Database.SQLitePath)
}

func ingestConfigFrom(c config.Ingestor) ingest.Config {
	cfg := ingest.DefaultConfig()
	if c.RateLimitMs > 0 {
		cfg.RateLimit = time.Duration(c.RateLimitMs) * time.Millisecond
	}
	if c.ChunkSize > 0 {
		cfg.ChunkSize = c.ChunkSize
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(c.RetryDelayMs) * time.Millisecond
	}
	return cfg
}

// buildMarketContext returns a strategy.ContextBuilder that reads the
// candle store's most recent window for pair at defaultContextTimeframe
// and overlays the aggregator's live VWAP as the current price, per
// spec.md §4.5's MarketContext shape.
func buildMarketContext(candles *candlestore.Store, agg *marketdata.Aggregator) strategy.ContextBuilder {
	return func(pair model.Pair) (strategy.MarketContext, bool) {
		rng, ok := candles.GetAvailableRange(pair, defaultContextTimeframe)
		if !ok {
			return strategy.MarketContext{}, false
		}
		tfMs, err := defaultContextTimeframe.Milliseconds()
		if err != nil {
			return strategy.MarketContext{}, false
		}
		from := rng.Latest - int64(contextCandleWindow)*tfMs
		series, err := candles.ReadRange(pair, defaultContextTimeframe, from, rng.Latest)
		if err != nil || len(series) == 0 {
			return strategy.MarketContext{}, false
		}
		last := series[len(series)-1]
		closes := make([]decimal.Decimal, len(series))
		for i, c := range series {
			closes[i] = c.Close
		}

		price := last.Close
		if p, ok := agg.LatestPrice(pair); ok {
			price = p
		}

		return strategy.MarketContext{
			Timestamp: time.UnixMilli(last.TimestampMs), Pair: pair,
			Price: price, Open: last.Open, High: last.High, Low: last.Low, Close: last.Close,
			Volume: last.Volume, RecentCandles: series, Indicators: strategy.BuildIndicators(closes),
		}, true
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}
