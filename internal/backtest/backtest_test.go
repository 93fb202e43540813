package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

func ascendingCandles(n int, from, to float64) []model.Candle {
	candles := make([]model.Candle, n)
	step := (to - from) / float64(n-1)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(from + step*float64(i))
		candles[i] = model.Candle{
			TimestampMs: int64(i) * 3600_000,
			Open:        price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(1),
		}
	}
	return candles
}

func TestMomentumBacktestKnownSignal(t *testing.T) {
	strat, err := strategy.NewMomentum("m1", nil)
	require.NoError(t, err)

	candles := ascendingCandles(60, 100, 160)
	engine := New(nil)
	result, err := engine.Run(strat, model.Pair("BTC/USD"), candles, DefaultConfig())
	require.NoError(t, err)

	assert.True(t, result.Summary.TotalReturnPct.IsPositive(), "totalReturn should be > 0, got %s", result.Summary.TotalReturnPct)
	assert.True(t, result.Summary.MaxDrawdownPct.LessThan(decimal.NewFromFloat(0.1)), "maxDrawdown%% should stay near zero on a strictly ascending series (the only dip is the entry fee), got %s", result.Summary.MaxDrawdownPct)
	if result.Summary.TotalTrades > 0 {
		assert.True(t, result.Summary.WinRate.Equal(decimal.NewFromInt(100)), "winRate should be 100%%, got %s", result.Summary.WinRate)
	}
}

func TestForceCloseLiquidatesHoldingsAtEndOfRun(t *testing.T) {
	strat, err := strategy.NewMomentum("m2", nil)
	require.NoError(t, err)

	candles := ascendingCandles(60, 100, 160)
	engine := New(nil)
	result, err := engine.Run(strat, model.Pair("BTC/USD"), candles, DefaultConfig())
	require.NoError(t, err)

	// every matched (sell or forced-close) trade must have a non-nil PnL
	for _, tr := range result.Trades {
		if tr.Side == model.SideSell {
			assert.NotNil(t, tr.PnL)
		}
	}
}

func TestDrawdownSeriesNonNegative(t *testing.T) {
	strat, err := strategy.NewMomentum("m3", nil)
	require.NoError(t, err)

	candles := ascendingCandles(60, 100, 160)
	engine := New(nil)
	result, err := engine.Run(strat, model.Pair("BTC/USD"), candles, DefaultConfig())
	require.NoError(t, err)

	for _, dd := range result.Drawdowns {
		assert.False(t, dd.Drawdown.IsNegative())
	}
}
