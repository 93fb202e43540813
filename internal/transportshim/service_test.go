package transportshim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/backtest"
	"github.com/nexustrade/tradingcore/internal/candlestore"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/optimize"
	"github.com/nexustrade/tradingcore/internal/store"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

func ascendingCandles(n int, from, to float64, base int64) []model.Candle {
	candles := make([]model.Candle, n)
	step := (to - from) / float64(n-1)
	hourMs := int64(time.Hour / time.Millisecond)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(from + step*float64(i))
		candles[i] = model.Candle{
			TimestampMs: base + int64(i)*hourMs,
			Open:        price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(1),
		}
	}
	return candles
}

func newTestService(t *testing.T) (*Service, model.Pair, model.Timeframe, int64, int64) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	meta := store.New(db)
	candles := candlestore.New(t.TempDir(), nil)

	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	seed := ascendingCandles(60, 100, 160, base)
	require.NoError(t, candles.AppendCandles(pair, tf, seed))
	to := seed[len(seed)-1].TimestampMs

	factory := strategy.NewFactory()
	engine := backtest.New(nil)
	optimizer := optimize.New(factory, engine)

	svc := New(nil, engine, factory, optimizer, candles, meta, nil)
	return svc, pair, tf, base, to
}

func TestRunPersistsResultAndMatchesKnownSignal(t *testing.T) {
	svc, pair, tf, base, to := newTestService(t)

	res, err := svc.Run(context.Background(), RunRequest{
		UserID: "u1", Exchange: "binance", Pair: pair, Timeframe: tf,
		From: time.UnixMilli(base), To: time.UnixMilli(to),
		StrategyType: model.StrategyTypeMomentum,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	require.True(t, res.Summary.TotalReturnPct.IsPositive())

	stored, err := svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, model.BacktestTypeRun, stored.Type)
	require.Equal(t, "u1", stored.UserID)
}

func TestRunNoCandlesReturnsNotFound(t *testing.T) {
	svc, pair, tf, _, _ := newTestService(t)

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Run(context.Background(), RunRequest{
		UserID: "u1", Exchange: "binance", Pair: pair, Timeframe: tf,
		From: future, To: future.Add(time.Hour), StrategyType: model.StrategyTypeMomentum,
	})
	require.Error(t, err)
}

func TestOptimizePersistsReport(t *testing.T) {
	svc, pair, tf, base, to := newTestService(t)

	res, err := svc.Optimize(context.Background(), OptimizeRequest{
		UserID: "u1", Exchange: "binance", Pair: pair, Timeframe: tf,
		From: time.UnixMilli(base), To: time.UnixMilli(to),
		StrategyType: model.StrategyTypeMomentum,
		Grid:         map[string][]interface{}{"balanceFraction": {0.25, 0.5}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	require.NotEmpty(t, res.Report)

	stored, err := svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, model.BacktestTypeOptimize, stored.Type)
}

func TestListFiltersByUser(t *testing.T) {
	svc, pair, tf, base, to := newTestService(t)

	_, err := svc.Run(context.Background(), RunRequest{
		UserID: "u1", Exchange: "binance", Pair: pair, Timeframe: tf,
		From: time.UnixMilli(base), To: time.UnixMilli(to), StrategyType: model.StrategyTypeMomentum,
	})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), RunRequest{
		UserID: "u2", Exchange: "binance", Pair: pair, Timeframe: tf,
		From: time.UnixMilli(base), To: time.UnixMilli(to), StrategyType: model.StrategyTypeMomentum,
	})
	require.NoError(t, err)

	rows, err := svc.List(context.Background(), ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "u1", rows[0].UserID)
}

func TestReadReturnsStoredRange(t *testing.T) {
	svc, pair, tf, base, to := newTestService(t)

	got, err := svc.Read(context.Background(), ReadRequest{Pair: pair, Timeframe: tf, From: base, To: to})
	require.NoError(t, err)
	require.Len(t, got, 60)
}

func TestReadRespectsLimit(t *testing.T) {
	svc, pair, tf, base, to := newTestService(t)

	got, err := svc.Read(context.Background(), ReadRequest{Pair: pair, Timeframe: tf, From: base, To: to, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 5)
}

func TestHistoricalDataAPIWithoutIngestorReturnsFatalInit(t *testing.T) {
	svc, pair, tf, _, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), IngestRequest{Exchange: "binance", Pairs: []model.Pair{pair}, Timeframes: []model.Timeframe{tf}})
	require.Error(t, err)

	err = svc.Repair(context.Background(), RepairRequest{Exchange: "binance", Pair: pair, Timeframe: tf})
	require.Error(t, err)
}
