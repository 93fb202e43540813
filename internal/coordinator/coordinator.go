// Package coordinator wires the trading pipeline's event-driven
// transitions: a strategy signal becomes a risk check becomes an order,
// a filled order becomes a position update and a performance record,
// and a tripped circuit breaker becomes a user-wide halt. Grounded on
// internal/marketmaking/strategies/service/market_making_service.go's
// role as the glue between strategy output and order submission,
// generalized here into explicit bus subscriptions. Per spec.md §9,
// the coordinator is the only component that holds capability handles
// to every other component; those components never hold a reference
// back to it or to each other.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/orders"
	"github.com/nexustrade/tradingcore/internal/positions"
	"github.com/nexustrade/tradingcore/internal/risk"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

// PriceLookup resolves the current best price for a pair, typically
// backed by the market-data aggregator's cache. Absent a live price,
// the coordinator falls back to the signal's own price.
type PriceLookup func(pair model.Pair) (decimal.Decimal, bool)

// Coordinator owns no state of its own beyond its collaborators'
// handles; every field below is a capability the bus-driven methods
// delegate to.
type Coordinator struct {
	logger    *zap.Logger
	bus       *bus.Bus
	risk      *risk.Manager
	orders    *orders.Manager
	positions *positions.Manager
	scheduler *strategy.Scheduler
	price     PriceLookup

	defaultExchange string
}

// New constructs a Coordinator and subscribes its handlers to the bus.
func New(logger *zap.Logger, b *bus.Bus, riskMgr *risk.Manager, orderMgr *orders.Manager, posMgr *positions.Manager, sched *strategy.Scheduler, price PriceLookup, defaultExchange string) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger: logger.Named("coordinator"), bus: b,
		risk: riskMgr, orders: orderMgr, positions: posMgr, scheduler: sched,
		price: price, defaultExchange: defaultExchange,
	}
	if b != nil {
		b.Subscribe(bus.EventStrategySignal, c.onStrategySignal, bus.SubscribeOptions{})
		b.Subscribe(bus.EventOrderFilled, c.onOrderFilled, bus.SubscribeOptions{})
		b.Subscribe(bus.EventRiskCircuitBreakerTriggered, c.onCircuitBreakerTriggered, bus.SubscribeOptions{})
	}
	return c
}

// onStrategySignal gates a non-hold signal through the risk manager
// and, if allowed, submits the corresponding order; otherwise it
// publishes trading:signalBlocked, per spec.md §4.9.
func (c *Coordinator) onStrategySignal(ctx context.Context, data interface{}) error {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("coordinator: unexpected strategySignal payload shape")
	}
	strategyID, _ := payload["strategyId"].(string)
	userID, _ := payload["userId"].(string)
	sig, ok := payload["signal"].(model.Signal)
	if !ok {
		return fmt.Errorf("coordinator: strategySignal missing signal")
	}
	pair, _ := payload["pair"].(model.Pair)
	if pair == "" {
		if p, ok := payload["pair"].(string); ok {
			pair = model.Pair(p)
		}
	}
	exchange, _ := payload["exchange"].(string)
	if exchange == "" {
		exchange = c.defaultExchange
	}
	if sig.Action == model.SignalHold {
		return nil
	}

	marketPrice := sig.Price
	if c.price != nil {
		if p, ok := c.price(pair); ok {
			marketPrice = p
		}
	}

	tp := risk.TradeParams{
		Asset: pair.Base(), TradeValue: sig.Amount.Mul(sig.Price),
		ExpectedPrice: sig.Price, ExecPrice: marketPrice, MarketPrice: marketPrice,
	}
	pf := c.buildPortfolio(userID)

	decision := c.risk.CheckTrade(userID, tp, pf)
	if !decision.Allowed {
		if c.bus != nil {
			c.bus.Publish(ctx, bus.EventSignalBlocked, map[string]interface{}{
				"strategyId": strategyID, "userId": userID, "signal": sig,
				"failedChecks": decision.FailedChecks, "ts": time.Now(),
			}, bus.PublishOptions{})
		}
		return nil
	}

	side := model.SideBuy
	if sig.Action == model.SignalSell {
		side = model.SideSell
	}
	price := sig.Price
	o := &model.Order{
		UserID: userID, Exchange: exchange, Pair: pair,
		Type: model.OrderTypeLimit, Side: side, Amount: sig.Amount, Price: &price,
		TIF: model.TIFGTC, StrategyID: strategyID,
	}
	if _, err := c.orders.CreateOrder(ctx, o); err != nil {
		c.logger.Warn("order creation failed after risk approval", zap.Error(err), zap.String("strategyId", strategyID))
		return err
	}
	return nil
}

func (c *Coordinator) buildPortfolio(userID string) risk.Portfolio {
	summary := c.positions.GetPortfolioSummary(userID)
	assetValue := make(map[string]decimal.Decimal, len(summary.Positions))
	for _, p := range summary.Positions {
		assetValue[p.Key.Asset] = p.TotalCost.Add(p.UnrealizedPnL)
	}
	return risk.Portfolio{
		PortfolioValue:  summary.TotalValue,
		Equity:          summary.TotalValue,
		CurrentExposure: summary.TotalValue,
		AssetValue:      assetValue,
		InitialEquity:   summary.TotalValue,
	}
}

// onOrderFilled applies the order's latest fill to the user's position,
// feeds the realized P&L back into risk accounting and the owning
// strategy's performance record, and publishes trading:orderCompleted
// once the order is fully filled, per spec.md §4.8/§4.9.
func (c *Coordinator) onOrderFilled(ctx context.Context, data interface{}) error {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("coordinator: unexpected orderFilled payload shape")
	}
	o, ok := payload["order"].(*model.Order)
	if !ok || len(o.Trades) == 0 {
		return fmt.Errorf("coordinator: orderFilled missing order/trades")
	}
	fill := o.Trades[len(o.Trades)-1]
	now := time.Now()

	key := model.PositionKey{UserID: o.UserID, Exchange: o.Exchange, Asset: o.Pair.Base()}
	pos, err := c.positions.UpdatePositionFromTrade(key, fill.Side, fill.Price, fill.Amount, fill.Fee, now)
	if err != nil {
		c.logger.Error("failed to apply fill to position", zap.Error(err), zap.String("orderId", o.ID.String()))
		return err
	}
	realizedPnL := decimal.Zero
	if n := len(pos.Trades); n > 0 {
		realizedPnL = pos.Trades[n-1].RealizedPnL
	}

	c.risk.RecordFill(o.UserID, fill.Side, fill.Price, fill.Amount, fill.Fee, realizedPnL, now)

	if o.StrategyID != "" && c.scheduler != nil {
		c.scheduler.RecordTrade(o.StrategyID, model.PositionTrade{
			Side: fill.Side, Price: fill.Price, Amount: fill.Amount, Fee: fill.Fee,
			RealizedPnL: realizedPnL, Ts: now,
		})
	}

	if o.Status == model.OrderStatusFilled && c.bus != nil {
		c.bus.Publish(ctx, bus.EventOrderCompleted, map[string]interface{}{
			"order": o, "userId": o.UserID, "realizedPnL": realizedPnL, "ts": now,
		}, bus.PublishOptions{})
	}
	return nil
}

// onCircuitBreakerTriggered deactivates every running strategy and
// cancels every open order for the affected user, per spec.md §4.9.
func (c *Coordinator) onCircuitBreakerTriggered(ctx context.Context, data interface{}) error {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("coordinator: unexpected circuitBreakerTriggered payload shape")
	}
	userID, _ := payload["userId"].(string)
	if userID == "" {
		return nil
	}

	if c.scheduler != nil {
		for _, id := range c.scheduler.ActiveStrategiesForUser(userID) {
			c.scheduler.Deactivate(id)
		}
	}

	for _, o := range c.orders.GetUserOrders(userID, orders.Filters{}) {
		if o.Status.Terminal() {
			continue
		}
		if _, err := c.orders.CancelOrder(ctx, o.ID); err != nil {
			c.logger.Warn("failed to cancel order on circuit breaker", zap.Error(err), zap.String("orderId", o.ID.String()))
		}
	}
	return nil
}
