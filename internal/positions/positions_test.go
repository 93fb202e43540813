package positions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/model"
)

func key() model.PositionKey {
	return model.PositionKey{UserID: "u1", Exchange: "binance", Asset: "BTC"}
}

func TestUpdatePositionFromTradeScenario(t *testing.T) {
	m := New(nil)
	now := time.Now()

	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(50000), decimal.NewFromInt(1), decimal.NewFromInt(10), now)
	require.NoError(t, err)
	_, err = m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(60000), decimal.NewFromInt(1), decimal.NewFromInt(12), now)
	require.NoError(t, err)

	p := m.Get(key())
	assert.True(t, p.AverageEntryPrice.Equal(decimal.NewFromInt(55011)))
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(2)))

	p, err = m.UpdatePositionFromTrade(key(), model.SideSell, decimal.NewFromInt(70000), decimal.NewFromInt(1), decimal.NewFromInt(15), now)
	require.NoError(t, err)

	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(1)))
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(14974)), "got %s", p.RealizedPnL)
	assert.True(t, p.TotalFees.Equal(decimal.NewFromInt(37)), "got %s", p.TotalFees)
}

func TestSellingFullAmountZeroesPositionAndAvailableLockedInvariant(t *testing.T) {
	m := New(nil)
	now := time.Now()

	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(5), decimal.Zero, now)
	require.NoError(t, err)
	require.NoError(t, m.LockAmount(key(), decimal.NewFromInt(2)))

	p := m.Get(key())
	assert.True(t, p.AvailableAmount.Add(p.LockedAmount).Equal(p.TotalAmount))

	require.NoError(t, m.UnlockAmount(key(), decimal.NewFromInt(2)))
	_, err = m.UpdatePositionFromTrade(key(), model.SideSell, decimal.NewFromInt(120), decimal.NewFromInt(5), decimal.Zero, now)
	require.NoError(t, err)

	p = m.Get(key())
	assert.True(t, p.TotalAmount.IsZero())
	assert.True(t, p.AvailableAmount.Add(p.LockedAmount).Equal(p.TotalAmount))
}

func TestLockAmountRejectsOverLock(t *testing.T) {
	m := New(nil)
	now := time.Now()
	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, now)
	require.NoError(t, err)

	err = m.LockAmount(key(), decimal.NewFromInt(5))
	assert.Error(t, err)
}

func TestSellExceedingPositionFails(t *testing.T) {
	m := New(nil)
	now := time.Now()
	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, now)
	require.NoError(t, err)

	_, err = m.UpdatePositionFromTrade(key(), model.SideSell, decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.Zero, now)
	assert.Error(t, err)
}

func TestUpdateUnrealizedPnL(t *testing.T) {
	m := New(nil)
	now := time.Now()
	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.Zero, now)
	require.NoError(t, err)

	u := m.UpdateUnrealizedPnL(key(), decimal.NewFromInt(150))
	assert.True(t, u.Equal(decimal.NewFromInt(100)), "got %s", u)
}

func TestGetPortfolioSummaryAggregates(t *testing.T) {
	m := New(nil)
	now := time.Now()
	k2 := model.PositionKey{UserID: "u1", Exchange: "binance", Asset: "ETH"}

	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), now)
	require.NoError(t, err)
	_, err = m.UpdatePositionFromTrade(k2, model.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(10), decimal.NewFromInt(1), now)
	require.NoError(t, err)

	summary := m.GetPortfolioSummary("u1")
	assert.Len(t, summary.Positions, 2)
	assert.True(t, summary.TotalFees.Equal(decimal.NewFromInt(2)))
}

func TestGetAllocationSharesSumTo100(t *testing.T) {
	m := New(nil)
	now := time.Now()
	k2 := model.PositionKey{UserID: "u1", Exchange: "binance", Asset: "ETH"}
	_, err := m.UpdatePositionFromTrade(key(), model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, now)
	require.NoError(t, err)
	_, err = m.UpdatePositionFromTrade(k2, model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, now)
	require.NoError(t, err)

	alloc := m.GetAllocation("u1")
	require.Len(t, alloc, 2)
	total := decimal.Zero
	for _, a := range alloc {
		total = total.Add(a.SharePct)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(100)))
}
