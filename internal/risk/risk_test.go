package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/config"
	"github.com/nexustrade/tradingcore/internal/model"
)

func TestDailyLossDeniesAndTriggersCircuitBreaker(t *testing.T) {
	cfg := config.Default().Risk
	m := New(nil, nil, cfg)

	m.RecordFill("u1", model.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(-5100), time.Now())

	pf := Portfolio{
		PortfolioValue: decimal.NewFromInt(100000),
		Equity:         decimal.NewFromInt(94900),
		InitialEquity:  decimal.NewFromInt(100000),
	}
	decision := m.CheckTrade("u1", TradeParams{TradeValue: decimal.NewFromInt(100)}, pf)

	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.FailedChecks, "dailyLimits")

	st := m.State("u1")
	require.NotNil(t, st.CircuitBreaker)
}

func TestCheckTradeIdempotentModuloTimestamps(t *testing.T) {
	cfg := config.Default().Risk
	m := New(nil, nil, cfg)
	pf := Portfolio{PortfolioValue: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000), InitialEquity: decimal.NewFromInt(10000)}
	tp := TradeParams{TradeValue: decimal.NewFromInt(100)}

	d1 := m.CheckTrade("u2", tp, pf)
	d2 := m.CheckTrade("u2", tp, pf)

	assert.Equal(t, d1.Allowed, d2.Allowed)
	assert.Equal(t, d1.FailedChecks, d2.FailedChecks)
}

func TestPositionSizeCheckDenies(t *testing.T) {
	cfg := config.Default().Risk
	m := New(nil, nil, cfg)
	pf := Portfolio{PortfolioValue: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000), InitialEquity: decimal.NewFromInt(1000)}
	tp := TradeParams{TradeValue: decimal.NewFromInt(500)} // 50% > maxPositionSize 0.2

	decision := m.CheckTrade("u3", tp, pf)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.FailedChecks, "positionSize")
}

func TestResetClearsCircuitBreaker(t *testing.T) {
	cfg := config.Default().Risk
	m := New(nil, nil, cfg)
	m.RecordFill("u4", model.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(-999999), time.Now())
	pf := Portfolio{PortfolioValue: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000), InitialEquity: decimal.NewFromInt(1000)}
	m.CheckTrade("u4", TradeParams{TradeValue: decimal.NewFromInt(1)}, pf)
	require.NotNil(t, m.State("u4").CircuitBreaker)

	m.Reset("u4")
	assert.Nil(t, m.State("u4").CircuitBreaker)
}
