// ingestcli runs one historical backfill job and exits. Its fetcher is
// ingest.NullFetcher, which rejects every fetch, so a job over a
// non-empty range ends FAILED. Exit conditions per spec.md §6:
// non-zero on fatal error, SIGINT/SIGTERM trigger orderly shutdown
// (cancel the in-flight fetch, persist the job row's current
// progress, disconnect the store). Grounded on cmd/pincex/main.go's
// load-config -> construct-services -> wait-for-signal shape, trimmed
// to a single one-shot job instead of a long-running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexustrade/tradingcore/internal/candlestore"
	"github.com/nexustrade/tradingcore/internal/config"
	"github.com/nexustrade/tradingcore/internal/ingest"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/store"
	"github.com/nexustrade/tradingcore/pkg/logger"
)

func main() {
	exchange := flag.String("exchange", "", "venue to ingest from")
	pairFlag := flag.String("pair", "", "pair, e.g. BTC/USD")
	tfFlag := flag.String("timeframe", "1h", "candle timeframe, e.g. 1h")
	startFlag := flag.String("start", "", "RFC3339 start time")
	endFlag := flag.String("end", "", "RFC3339 end time")
	priority := flag.Int("priority", 1, "job priority")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *exchange == "" || *pairFlag == "" || *startFlag == "" || *endFlag == "" {
		fmt.Fprintln(os.Stderr, "ingestcli: -exchange, -pair, -start and -end are required")
		os.Exit(1)
	}

	start, err := time.Parse(time.RFC3339, *startFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestcli: bad -start: %v\n", err)
		os.Exit(1)
	}
	end, err := time.Parse(time.RFC3339, *endFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestcli: bad -end: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.NewLogger(envOr("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestcli: logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load(*configPath, zapLogger)
	if err != nil {
		zapLogger.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	db, err := openStore(cfg)
	if err != nil {
		zapLogger.Error("failed to connect metadata store", zap.Error(err))
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		zapLogger.Error("failed to migrate metadata store", zap.Error(err))
		os.Exit(1)
	}
	meta := store.New(db)
	candles := candlestore.New(cfg.CandleBasePath, zapLogger)

	fetcher := ingest.NewNullFetcher()
	ingestor := ingest.New(zapLogger, fetcher, candles, meta, nil, ingestConfigFrom(cfg.Ingestor))

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		zapLogger.Info("signal received, cancelling in-flight ingestion")
		cancel()
	}()

	job, err := ingestor.Ingest(ctx, *exchange, model.Pair(*pairFlag), model.Timeframe(*tfFlag), start.UnixMilli(), end.UnixMilli(), *priority)
	cancel()

	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}

	if err != nil {
		zapLogger.Error("ingestion failed", zap.Error(err), zap.String("jobId", jobID(job)))
		os.Exit(1)
	}
	zapLogger.Info("ingestion finished", zap.String("jobId", job.ID), zap.String("status", string(job.Status)), zap.Int64("candlesStored", job.CandlesStored))
}

func jobID(job *model.IngestionJob) string {
	if job == nil {
		return ""
	}
	return job.ID
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
