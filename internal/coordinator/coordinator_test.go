package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/config"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/orders"
	"github.com/nexustrade/tradingcore/internal/positions"
	"github.com/nexustrade/tradingcore/internal/risk"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

func newTestStack(t *testing.T) (*bus.Bus, *risk.Manager, *orders.Manager, *positions.Manager, *strategy.Scheduler) {
	t.Helper()
	b := bus.New(nil, nil)
	riskMgr := risk.New(nil, b, config.Default().Risk)
	orderMgr := orders.New(nil, b, nil, nil, orders.DefaultLimits(), orders.SimulatedSubmitter{})
	t.Cleanup(orderMgr.Close)
	posMgr := positions.New(nil)
	sched := strategy.New(nil, b, func(model.Pair) (strategy.MarketContext, bool) { return strategy.MarketContext{}, false }, time.Hour)
	return b, riskMgr, orderMgr, posMgr, sched
}

func TestStrategySignalAllowedCreatesOrder(t *testing.T) {
	b, riskMgr, orderMgr, posMgr, sched := newTestStack(t)
	New(nil, b, riskMgr, orderMgr, posMgr, sched, nil, "binance")

	pair := model.Pair("BTC/USD")
	sig := model.Signal{Action: model.SignalBuy, Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1)}
	b.Publish(context.Background(), bus.EventStrategySignal, map[string]interface{}{
		"strategyId": "strat-1", "userId": "u1", "pair": pair, "exchange": "binance", "signal": sig, "ts": time.Now(),
	}, bus.PublishOptions{})

	require.Eventually(t, func() bool {
		return len(orderMgr.GetUserOrders("u1", orders.Filters{})) == 1
	}, time.Second, 5*time.Millisecond)

	got := orderMgr.GetUserOrders("u1", orders.Filters{})[0]
	require.Equal(t, model.SideBuy, got.Side)
	require.Equal(t, pair, got.Pair)
}

func TestStrategySignalBlockedByCircuitBreakerPublishesSignalBlocked(t *testing.T) {
	b, riskMgr, orderMgr, posMgr, sched := newTestStack(t)
	New(nil, b, riskMgr, orderMgr, posMgr, sched, nil, "binance")

	riskMgr.RecordFill("u1", model.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(-999999), time.Now())
	pos, err := posMgr.UpdatePositionFromTrade(model.PositionKey{UserID: "u1", Exchange: "binance", Asset: "BTC"}, model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.Zero, time.Now())
	require.NoError(t, err)
	require.True(t, pos.TotalAmount.IsPositive())

	blocked := make(chan struct{}, 1)
	b.Subscribe(bus.EventSignalBlocked, func(_ context.Context, _ interface{}) error {
		blocked <- struct{}{}
		return nil
	}, bus.SubscribeOptions{})

	sig := model.Signal{Action: model.SignalBuy, Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1)}
	b.Publish(context.Background(), bus.EventStrategySignal, map[string]interface{}{
		"strategyId": "strat-1", "userId": "u1", "pair": model.Pair("BTC/USD"), "exchange": "binance", "signal": sig, "ts": time.Now(),
	}, bus.PublishOptions{})

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("expected trading:signalBlocked")
	}
	require.Empty(t, orderMgr.GetUserOrders("u1", orders.Filters{}))
}

func TestOrderFilledUpdatesPositionAndPublishesCompleted(t *testing.T) {
	b, riskMgr, orderMgr, posMgr, sched := newTestStack(t)
	New(nil, b, riskMgr, orderMgr, posMgr, sched, nil, "binance")

	completed := make(chan map[string]interface{}, 1)
	b.Subscribe(bus.EventOrderCompleted, func(_ context.Context, data interface{}) error {
		completed <- data.(map[string]interface{})
		return nil
	}, bus.SubscribeOptions{})

	price := decimal.NewFromInt(100)
	o := &model.Order{
		UserID: "u1", Exchange: "binance", Pair: model.Pair("BTC/USD"),
		Type: model.OrderTypeMarket, Side: model.SideBuy, Amount: decimal.NewFromInt(1), Price: &price,
	}
	_, err := orderMgr.CreateOrder(context.Background(), o)
	require.NoError(t, err)

	select {
	case data := <-completed:
		require.Equal(t, "u1", data["userId"])
	case <-time.After(time.Second):
		t.Fatal("expected trading:orderCompleted")
	}

	pos := posMgr.Get(model.PositionKey{UserID: "u1", Exchange: "binance", Asset: "BTC"})
	require.NotNil(t, pos)
	require.True(t, pos.TotalAmount.Equal(decimal.NewFromInt(1)))
}

func TestCircuitBreakerTriggeredCancelsOrdersAndDeactivatesStrategies(t *testing.T) {
	b, riskMgr, orderMgr, posMgr, sched := newTestStack(t)
	New(nil, b, riskMgr, orderMgr, posMgr, sched, nil, "binance")

	rec := &model.Strategy{ID: "strat-1", UserID: "u1", Pair: model.Pair("BTC/USD"), Status: model.StrategyStatusInactive}
	entry := &strategy.Entry{Record: rec, Strategy: nil}
	sched.Activate(entry)

	// A stop order with no limit price never fills through
	// SimulatedSubmitter, so it stays open for the circuit breaker to cancel.
	stopPrice := decimal.NewFromInt(50)
	o := &model.Order{
		UserID: "u1", Exchange: "binance", Pair: model.Pair("BTC/USD"),
		Type: model.OrderTypeStop, Side: model.SideBuy, Amount: decimal.NewFromInt(1), StopPrice: &stopPrice,
	}
	created, err := orderMgr.CreateOrder(context.Background(), o)
	require.NoError(t, err)
	require.False(t, created.Status.Terminal())

	b.Publish(context.Background(), bus.EventRiskCircuitBreakerTriggered, map[string]interface{}{
		"userId": "u1", "reasons": []string{"drawdown"}, "ts": time.Now(),
	}, bus.PublishOptions{})

	require.Eventually(t, func() bool {
		got, err := orderMgr.GetOrder(created.ID)
		return err == nil && got.Status == model.OrderStatusCancelled
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, model.StrategyStatusInactive, rec.Status)
	require.Empty(t, sched.ActiveStrategiesForUser("u1"))
}
