package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/model"
)

func newTestManager() *Manager {
	return New(nil, nil, nil, nil, DefaultLimits(), SimulatedSubmitter{})
}

func TestCreateOrderValidationRejectsMissingFields(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	_, err := m.CreateOrder(context.Background(), &model.Order{})
	require.Error(t, err)
}

func TestMarketOrderFillsAndTransitionsToFilled(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	price := decimal.NewFromInt(100)
	o := &model.Order{
		UserID: "u1", Exchange: "binance", Pair: model.Pair("BTC/USD"),
		Type: model.OrderTypeMarket, Side: model.SideBuy,
		Amount: decimal.NewFromInt(1), Price: &price,
	}
	created, err := m.CreateOrder(context.Background(), o)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.GetOrder(created.ID)
		return err == nil && got.Status == model.OrderStatusFilled
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.GetOrder(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.True(t, got.FilledAmount.Equal(got.Amount))
	assert.True(t, got.RemainingAmount.IsZero())
	assert.True(t, got.FilledAmount.Add(got.RemainingAmount).Equal(got.Amount))
	require.NotNil(t, got.AveragePrice)
	assert.True(t, got.AveragePrice.Equal(price))
}

func TestApplyFillPartialThenFilledInvariantHolds(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	price := decimal.NewFromInt(100)
	id := uuid.New()
	o := &model.Order{
		ID: id, UserID: "u1", Exchange: "binance", Pair: model.Pair("BTC/USD"),
		Type: model.OrderTypeLimit, Side: model.SideBuy,
		Amount: decimal.NewFromInt(10), Price: &price,
		Status: model.OrderStatusOpen, RemainingAmount: decimal.NewFromInt(10),
	}
	m.mu.Lock()
	m.orders[id] = o
	m.mu.Unlock()

	m.ApplyFill(context.Background(), id, model.Trade{TradeID: "t1", Price: decimal.NewFromInt(99), Amount: decimal.NewFromInt(4), Side: model.SideBuy})
	got, _ := m.GetOrder(id)
	assert.Equal(t, model.OrderStatusPartial, got.Status)
	assert.True(t, got.FilledAmount.Add(got.RemainingAmount).Equal(got.Amount))

	m.ApplyFill(context.Background(), id, model.Trade{TradeID: "t2", Price: decimal.NewFromInt(101), Amount: decimal.NewFromInt(6), Side: model.SideBuy})
	got, _ = m.GetOrder(id)
	assert.Equal(t, model.OrderStatusFilled, got.Status)
	assert.True(t, got.RemainingAmount.IsZero())
	assert.True(t, got.FilledAmount.Add(got.RemainingAmount).Equal(got.Amount))

	// weighted average: (99*4 + 101*6) / 10 = 100.2
	require.NotNil(t, got.AveragePrice)
	assert.True(t, got.AveragePrice.Equal(decimal.NewFromFloat(100.2)))
}

func TestCancelOrderRejectsTerminalOrder(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	id := uuid.New()
	o := &model.Order{ID: id, UserID: "u1", Status: model.OrderStatusFilled}
	m.mu.Lock()
	m.orders[id] = o
	m.mu.Unlock()

	_, err := m.CancelOrder(context.Background(), id)
	assert.Error(t, err)
}

func TestUpdateOrderRejectsIncreaseAndBelowFilled(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	id := uuid.New()
	o := &model.Order{
		ID: id, UserID: "u1", Status: model.OrderStatusPartial,
		Amount: decimal.NewFromInt(10), FilledAmount: decimal.NewFromInt(4), RemainingAmount: decimal.NewFromInt(6),
	}
	m.mu.Lock()
	m.orders[id] = o
	m.mu.Unlock()

	_, err := m.UpdateOrder(id, decimal.NewFromInt(20))
	assert.Error(t, err)

	_, err = m.UpdateOrder(id, decimal.NewFromInt(3))
	assert.Error(t, err)

	updated, err := m.UpdateOrder(id, decimal.NewFromInt(8))
	require.NoError(t, err)
	assert.True(t, updated.RemainingAmount.Equal(decimal.NewFromInt(4)))
}

func TestGetOrderStatsCountsByStatus(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	for _, st := range []model.OrderStatus{model.OrderStatusFilled, model.OrderStatusFilled, model.OrderStatusCancelled, model.OrderStatusRejected} {
		id := uuid.New()
		m.mu.Lock()
		m.orders[id] = &model.Order{ID: id, UserID: "u9", Status: st}
		m.mu.Unlock()
	}

	stats := m.GetOrderStats("u9")
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Filled)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 1, stats.Rejected)
}
