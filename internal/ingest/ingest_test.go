package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/candlestore"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/store"
)

func newTestIngestor(t *testing.T, fetcher Fetcher, cfg Config) *Ingestor {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	meta := store.New(db)
	candles := candlestore.New(t.TempDir(), nil)
	return New(nil, fetcher, candles, meta, nil, cfg)
}

func mkCandle(ts int64) model.Candle {
	return model.Candle{
		TimestampMs: ts,
		Open:        decimal.NewFromInt(100), High: decimal.NewFromInt(110),
		Low: decimal.NewFromInt(90), Close: decimal.NewFromInt(105), Volume: decimal.NewFromInt(10),
	}
}

// fixedFetcher returns whatever candles its test preloads, honoring
// fromMs/limit like a real paginated venue API.
type fixedFetcher struct {
	all []model.Candle
}

func (f *fixedFetcher) FetchCandles(_ context.Context, _ string, _ model.Pair, _ model.Timeframe, fromMs int64, limit int) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range f.all {
		if c.TimestampMs >= fromMs {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestIngestChunkedBackfillCompletes(t *testing.T) {
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hourMs := int64(time.Hour / time.Millisecond)

	var all []model.Candle
	for i := int64(0); i < 10; i++ {
		all = append(all, mkCandle(base+i*hourMs))
	}
	fetcher := &fixedFetcher{all: all}
	cfg := Config{RateLimit: time.Millisecond, ChunkSize: 3, MaxRetries: 2, RetryDelay: time.Millisecond}
	ing := newTestIngestor(t, fetcher, cfg)

	job, err := ing.Ingest(context.Background(), "binance", pair, tf, base, base+10*hourMs, 1)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, job.Status)
	require.EqualValues(t, 10, job.CandlesStored)

	got, err := ing.candles.ReadRange(pair, tf, base, base+10*hourMs)
	require.NoError(t, err)
	require.Len(t, got, 10)
}

func TestIngestRetriesExhaustedMarksJobFailed(t *testing.T) {
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")
	base := time.Now().UnixMilli()
	cfg := Config{RateLimit: time.Millisecond, ChunkSize: 10, MaxRetries: 2, RetryDelay: time.Millisecond}
	fetcher := &alwaysFailFetcher{}
	ing := newTestIngestor(t, fetcher, cfg)

	job, err := ing.Ingest(context.Background(), "binance", pair, tf, base, base+int64(time.Hour/time.Millisecond), 1)
	require.Error(t, err)
	require.Equal(t, model.JobFailed, job.Status)
	require.NotEmpty(t, job.ErrorMessage)
}

type alwaysFailFetcher struct{}

func (alwaysFailFetcher) FetchCandles(_ context.Context, _ string, _ model.Pair, _ model.Timeframe, _ int64, _ int) ([]model.Candle, error) {
	return nil, errSimulatedVenue
}

var errSimulatedVenue = errors.New("simulated venue error")

func TestDetectGapsScenario(t *testing.T) {
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hourMs := int64(time.Hour / time.Millisecond)

	ing := newTestIngestor(t, &fixedFetcher{}, DefaultConfig())

	// candles at t, t+1h, then a gap, resuming at t+5h, t+6h
	// (missing candles t+2h..t+4h per spec.md §8 scenario #4).
	seed := []model.Candle{
		mkCandle(base),
		mkCandle(base + hourMs),
		mkCandle(base + 5*hourMs),
		mkCandle(base + 6*hourMs),
	}
	require.NoError(t, ing.candles.AppendCandles(pair, tf, seed))

	gaps, err := ing.DetectGaps(pair, tf)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, base+2*hourMs, gaps[0].GapStart.UnixMilli())
	require.Equal(t, base+4*hourMs, gaps[0].GapEnd.UnixMilli())

	open, err := ing.meta.OpenGaps(string(pair), string(tf))
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestRepairGapsFillsAndClearsOpenGaps(t *testing.T) {
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hourMs := int64(time.Hour / time.Millisecond)

	var all []model.Candle
	for i := int64(0); i <= 6; i++ {
		all = append(all, mkCandle(base+i*hourMs))
	}
	seed := []model.Candle{all[0], all[1], all[5], all[6]}
	fetcher := &fixedFetcher{all: all}
	ing := newTestIngestor(t, fetcher, Config{RateLimit: time.Millisecond, ChunkSize: 100, MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, ing.candles.AppendCandles(pair, tf, seed))

	gaps, err := ing.DetectGaps(pair, tf)
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	require.NoError(t, ing.RepairGaps(context.Background(), "binance", pair, tf))

	gapsAfter, err := ing.DetectGaps(pair, tf)
	require.NoError(t, err)
	require.Empty(t, gapsAfter)
}
