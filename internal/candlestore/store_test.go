package candlestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/model"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func mkCandle(ts int64, o, h, l, c, v string) model.Candle {
	return model.Candle{TimestampMs: ts, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d(v)}
}

func TestAppendAndReadRangeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1h")

	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	var candles []model.Candle
	for i := int64(0); i < 5; i++ {
		candles = append(candles, mkCandle(base+i*3600000, "100", "110", "90", "105", "10"))
	}

	require.NoError(t, s.AppendCandles(pair, tf, candles))

	got, err := s.ReadRange(pair, tf, base, base+4*3600000)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].TimestampMs, got[i-1].TimestampMs)
	}
}

func TestAppendDedupLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	pair := model.Pair("ETH/USD")
	tf := model.Timeframe("1h")
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, s.AppendCandles(pair, tf, []model.Candle{mkCandle(ts, "1", "2", "0.5", "1.5", "1")}))
	require.NoError(t, s.AppendCandles(pair, tf, []model.Candle{mkCandle(ts, "5", "6", "4", "5.5", "2")}))

	got, err := s.ReadRange(pair, tf, ts, ts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Open.Equal(d("5")))
}

func TestGetAvailableRangeEmpty(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, ok := s.GetAvailableRange(model.Pair("BTC/USD"), model.Timeframe("1h"))
	require.False(t, ok)
}

func TestDeleteBefore(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	pair := model.Pair("BTC/USD")
	tf := model.Timeframe("1d")
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, s.AppendCandles(pair, tf, []model.Candle{
		mkCandle(jan, "1", "2", "0.5", "1.5", "1"),
		mkCandle(feb, "2", "3", "1.5", "2.5", "1"),
	}))

	require.NoError(t, s.DeleteBefore(pair, tf, feb))

	got, err := s.ReadRange(pair, tf, 0, feb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, feb, got[0].TimestampMs)
}
