package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decs(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	sma, ok := SMA(decs(1, 2, 3, 4, 5), 5)
	require.True(t, ok)
	assert.True(t, sma.Equal(decimal.NewFromFloat(3)))
}

func TestSMAInsufficientData(t *testing.T) {
	_, ok := SMA(decs(1, 2), 5)
	assert.False(t, ok)
}

func TestRSIAllGainsIs100(t *testing.T) {
	closes := decs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15)
	rsi, ok := RSI(closes, 14)
	require.True(t, ok)
	assert.True(t, rsi.Equal(decimal.NewFromInt(100)))
}

func TestBollingerMiddleEqualsSMA(t *testing.T) {
	closes := decs(10, 10, 10, 10, 10)
	bb, ok := Bollinger(closes, 5, decimal.NewFromInt(2))
	require.True(t, ok)
	assert.True(t, bb.Middle.Equal(decimal.NewFromInt(10)))
	assert.True(t, bb.Upper.Equal(decimal.NewFromInt(10)))
	assert.True(t, bb.Lower.Equal(decimal.NewFromInt(10)))
}

func TestEMASeedsWithSMA(t *testing.T) {
	closes := decs(1, 2, 3)
	ema, ok := EMA(closes, 3)
	require.True(t, ok)
	assert.True(t, ema.Equal(decimal.NewFromFloat(2)))
}
