package optimize

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/backtest"
)

func TestComputeSplitsScenario(t *testing.T) {
	cfg := Config{TrainRatio: 0.7, NSplits: 3, MinTrades: 10}
	splits := ComputeSplits(300, cfg)

	require.Len(t, splits, 3)
	assert.Equal(t, Split{StartIdx: 0, TrainEnd: 70, TestEnd: 100}, splits[0])
	assert.Equal(t, Split{StartIdx: 30, TrainEnd: 100, TestEnd: 130}, splits[1])
	assert.Equal(t, Split{StartIdx: 60, TrainEnd: 130, TestEnd: 160}, splits[2])
}

func TestCartesianProductEnumeratesAllCombinations(t *testing.T) {
	grid := ParamGrid{
		"rsiOverbought": {60, 70, 80},
		"stopLossPct":   {0.01, 0.02},
	}
	combos := CartesianProduct(grid)
	assert.Len(t, combos, 6)

	seen := make(map[string]bool)
	for _, c := range combos {
		key := fmt.Sprintf("%v|%v", c["rsiOverbought"], c["stopLossPct"])
		assert.False(t, seen[key], "duplicate combination %v", c)
		seen[key] = true
	}
}

func TestCartesianProductEmptyGridReturnsOneEmptyCombo(t *testing.T) {
	combos := CartesianProduct(ParamGrid{})
	require.Len(t, combos, 1)
	assert.Empty(t, combos[0])
}

func TestMetricCompositeWeightsAllFive(t *testing.T) {
	s := backtest.Summary{
		SharpeRatio:    decimal.NewFromFloat(1.5),
		TotalReturnPct: decimal.NewFromFloat(20),
		ProfitFactor:   decimal.NewFromFloat(2),
		WinRate:        decimal.NewFromFloat(60),
		MaxDrawdownPct: decimal.NewFromFloat(10),
	}
	composite := Metric("composite", s)
	// 0.3*1.5 + 0.25*20 + 0.2*2 + 0.15*60 - 0.1*10 = 0.45+5+0.4+9-1 = 13.85
	assert.InDelta(t, 13.85, composite, 0.0001)
}

func TestMetricCalmarRatio(t *testing.T) {
	s := backtest.Summary{
		TotalReturnPct: decimal.NewFromFloat(30),
		MaxDrawdownPct: decimal.NewFromFloat(15),
	}
	assert.InDelta(t, 2.0, Metric("calmarRatio", s), 0.0001)
}
