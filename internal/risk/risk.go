// Package risk implements the pre-trade risk gate of spec.md §4.6: ten
// composite checks, a circuit breaker, and per-user daily accounting.
// Grounded on internal/trading/risk/config.go (RiskConfig with
// per-symbol limits), internal/trading/risk/position_tracker.go
// (per-UserSymbol tracking, decimal.Decimal) and manager.go
// (PositionManager.CheckPositionLimit) — generalized from the teacher's
// single position-limit check into the full ten-check gate, keeping the
// teacher's map[UserID]map[Symbol]...-keyed, mutex-guarded state shape.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/config"
	"github.com/nexustrade/tradingcore/internal/model"
)

// TradeParams is the intended trade a caller submits to CheckTrade.
type TradeParams struct {
	Asset         string
	TradeValue    decimal.Decimal
	ExpectedPrice decimal.Decimal
	ExecPrice     decimal.Decimal
	MarketPrice   decimal.Decimal
}

// Portfolio is the minimal state CheckTrade needs about a user's
// holdings, supplied by the caller (internal/positions in production).
type Portfolio struct {
	PortfolioValue  decimal.Decimal
	Equity          decimal.Decimal
	CurrentExposure decimal.Decimal
	AssetValue      map[string]decimal.Decimal
	InitialEquity   decimal.Decimal
}

// CheckResult is one of the ten named predicates.
type CheckResult struct {
	Name    string
	Allowed bool
	Reason  string
}

// Decision is the composite result of CheckTrade.
type Decision struct {
	Allowed      bool
	Checks       []CheckResult
	FailedChecks []string
}

// circuitBreakerChecks are check names that trigger the breaker on
// failure, per spec.md §4.6.
var circuitBreakerChecks = map[string]bool{
	"drawdown":          true,
	"consecutiveLosses": true,
	"dailyLimits":       true,
}

// Manager is the per-process risk gate, holding one RiskState per user.
type Manager struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    config.Risk

	mu     sync.Mutex
	states map[string]*model.RiskState
}

// New constructs a Manager. The trading coordinator calls RecordFill
// directly once it has resolved the fill's realized P&L against
// positions, per spec.md §9's no-back-references wiring: Manager does
// not subscribe to the bus itself.
func New(logger *zap.Logger, b *bus.Bus, cfg config.Risk) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.Named("risk"),
		bus:    b,
		cfg:    cfg,
		states: make(map[string]*model.RiskState),
	}
}

func (m *Manager) stateFor(userID string, now time.Time) *model.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		st = &model.RiskState{UserID: userID}
		m.states[userID] = st
	}
	resetDailyIfNeeded(st, now)
	return st
}

func resetDailyIfNeeded(st *model.RiskState, now time.Time) {
	today := now.Format("2006-01-02")
	if st.DailyStats.Date != today {
		st.DailyStats = model.DailyStats{Date: today}
	}
}

// CheckTrade runs all ten checks and returns the composite decision,
// per spec.md §4.6. On failure it emits risk:checkFailed, and if a
// failed check belongs to {drawdown, consecutiveLosses, dailyLimits}
// it triggers the circuit breaker.
func (m *Manager) CheckTrade(userID string, tp TradeParams, pf Portfolio) Decision {
	now := time.Now()
	st := m.stateFor(userID, now)

	m.mu.Lock()
	checks := []CheckResult{
		checkCircuitBreaker(st, now),
		checkDailyLoss(st, pf, m.cfg),
		checkDailyTradeCount(st, m.cfg),
		checkDailyVolume(st, tp, m.cfg),
		checkPositionSize(tp, pf, m.cfg),
		checkTotalExposure(tp, pf, m.cfg),
		checkConcentration(tp, pf, m.cfg),
		checkCooldown(st, now, m.cfg),
		checkDrawdown(st, pf, m.cfg),
		checkConsecutiveLossesSlippageDeviation(st, tp, m.cfg),
	}
	m.mu.Unlock()

	decision := Decision{Allowed: true}
	for _, c := range checks {
		decision.Checks = append(decision.Checks, c)
		if !c.Allowed {
			decision.Allowed = false
			decision.FailedChecks = append(decision.FailedChecks, c.Name)
		}
	}

	if !decision.Allowed {
		if m.bus != nil {
			m.bus.Publish(context.Background(), bus.EventRiskCheckFailed, map[string]interface{}{
				"userId": userID, "tradeParams": tp, "failedChecks": decision.FailedChecks, "ts": now,
			}, bus.PublishOptions{})
		}
		m.maybeTriggerCircuitBreaker(userID, st, decision.FailedChecks, now)
	}
	return decision
}

func (m *Manager) maybeTriggerCircuitBreaker(userID string, st *model.RiskState, failed []string, now time.Time) {
	var reasons []string
	for _, f := range failed {
		if circuitBreakerChecks[f] {
			reasons = append(reasons, f)
		}
	}
	if len(reasons) == 0 {
		return
	}
	m.mu.Lock()
	duration := time.Duration(m.cfg.CircuitBreakerDurationMs) * time.Millisecond
	if duration <= 0 {
		duration = time.Hour
	}
	st.CircuitBreaker = &model.CircuitBreaker{TriggeredAt: now, Duration: duration, Reasons: reasons}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(context.Background(), bus.EventRiskCircuitBreakerTriggered, map[string]interface{}{
			"userId": userID, "reasons": reasons, "duration": duration, "ts": now,
		}, bus.PublishOptions{})
	}
}

// Reset manually clears a user's circuit breaker and emits
// risk:circuitBreakerReset.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	st, ok := m.states[userID]
	if ok {
		st.CircuitBreaker = nil
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(context.Background(), bus.EventRiskCircuitBreakerReset, map[string]interface{}{"userId": userID}, bus.PublishOptions{})
	}
}

// State returns a copy of the current RiskState, for reporting.
func (m *Manager) State(userID string) model.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[userID]; ok {
		return *st
	}
	return model.RiskState{UserID: userID}
}

// RecordFill updates daily accounting and consecutive-loss tracking for
// one executed fill.
func (m *Manager) RecordFill(userID string, side model.Side, price, amount, fee, realizedPnL decimal.Decimal, now time.Time) {
	st := m.stateFor(userID, now)
	m.mu.Lock()
	defer m.mu.Unlock()

	st.DailyStats.TradeCount++
	st.DailyStats.Volume = st.DailyStats.Volume.Add(price.Mul(amount))
	st.DailyStats.Fees = st.DailyStats.Fees.Add(fee)
	st.DailyStats.RealizedPnL = st.DailyStats.RealizedPnL.Add(realizedPnL)
	st.LastTradeAt = &now

	if realizedPnL.IsNegative() {
		st.ConsecutiveLosses++
	} else if realizedPnL.IsPositive() {
		st.ConsecutiveLosses = 0
	}
}

// --- the ten checks ---

func checkCircuitBreaker(st *model.RiskState, now time.Time) CheckResult {
	if st.CircuitBreaker != nil {
		if st.CircuitBreaker.Active(now) {
			return CheckResult{Name: "circuitBreaker", Allowed: false, Reason: "circuit breaker active"}
		}
		st.CircuitBreaker = nil
	}
	return CheckResult{Name: "circuitBreaker", Allowed: true}
}

func checkDailyLoss(st *model.RiskState, pf Portfolio, cfg config.Risk) CheckResult {
	loss := decimal.Min(decimal.Zero, st.DailyStats.RealizedPnL).Abs()
	limit := pf.InitialEquity.Mul(decimal.NewFromFloat(cfg.MaxDailyLoss))
	if loss.GreaterThanOrEqual(limit) && limit.IsPositive() {
		return CheckResult{Name: "dailyLimits", Allowed: false, Reason: "daily loss limit breached"}
	}
	return CheckResult{Name: "dailyLimits", Allowed: true}
}

func checkDailyTradeCount(st *model.RiskState, cfg config.Risk) CheckResult {
	if st.DailyStats.TradeCount >= cfg.MaxDailyTrades {
		return CheckResult{Name: "dailyTradeCount", Allowed: false, Reason: "daily trade count limit reached"}
	}
	return CheckResult{Name: "dailyTradeCount", Allowed: true}
}

func checkDailyVolume(st *model.RiskState, tp TradeParams, cfg config.Risk) CheckResult {
	total := st.DailyStats.Volume.Add(tp.TradeValue)
	if total.GreaterThan(decimal.NewFromFloat(cfg.MaxDailyVolume)) {
		return CheckResult{Name: "dailyVolume", Allowed: false, Reason: "daily volume limit exceeded"}
	}
	return CheckResult{Name: "dailyVolume", Allowed: true}
}

func checkPositionSize(tp TradeParams, pf Portfolio, cfg config.Risk) CheckResult {
	if pf.PortfolioValue.IsZero() {
		return CheckResult{Name: "positionSize", Allowed: true}
	}
	ratio := tp.TradeValue.Div(pf.PortfolioValue)
	if ratio.GreaterThan(decimal.NewFromFloat(cfg.MaxPositionSize)) {
		return CheckResult{Name: "positionSize", Allowed: false, Reason: "position size exceeds limit"}
	}
	return CheckResult{Name: "positionSize", Allowed: true}
}

func checkTotalExposure(tp TradeParams, pf Portfolio, cfg config.Risk) CheckResult {
	if pf.PortfolioValue.IsZero() {
		return CheckResult{Name: "totalExposure", Allowed: true}
	}
	ratio := pf.CurrentExposure.Add(tp.TradeValue).Div(pf.PortfolioValue)
	if ratio.GreaterThan(decimal.NewFromFloat(cfg.MaxTotalExposure)) {
		return CheckResult{Name: "totalExposure", Allowed: false, Reason: "total exposure exceeds limit"}
	}
	return CheckResult{Name: "totalExposure", Allowed: true}
}

func checkConcentration(tp TradeParams, pf Portfolio, cfg config.Risk) CheckResult {
	if pf.PortfolioValue.IsZero() {
		return CheckResult{Name: "concentration", Allowed: true}
	}
	current := decimal.Zero
	if pf.AssetValue != nil {
		current = pf.AssetValue[tp.Asset]
	}
	ratio := current.Add(tp.TradeValue).Div(pf.PortfolioValue)
	if ratio.GreaterThan(decimal.NewFromFloat(cfg.MaxConcentration)) {
		return CheckResult{Name: "concentration", Allowed: false, Reason: "asset concentration exceeds limit"}
	}
	return CheckResult{Name: "concentration", Allowed: true}
}

func checkCooldown(st *model.RiskState, now time.Time, cfg config.Risk) CheckResult {
	if st.LastTradeAt == nil {
		return CheckResult{Name: "cooldown", Allowed: true}
	}
	elapsed := now.Sub(*st.LastTradeAt)
	if elapsed < time.Duration(cfg.TradeCooldownMs)*time.Millisecond {
		return CheckResult{Name: "cooldown", Allowed: false, Reason: "trade cooldown in effect"}
	}
	return CheckResult{Name: "cooldown", Allowed: true}
}

func checkDrawdown(st *model.RiskState, pf Portfolio, cfg config.Risk) CheckResult {
	if pf.Equity.GreaterThan(st.PeakEquity) {
		st.PeakEquity = pf.Equity
	}
	if st.PeakEquity.IsZero() {
		return CheckResult{Name: "drawdown", Allowed: true}
	}
	ddPct := st.PeakEquity.Sub(pf.Equity).Div(st.PeakEquity).Mul(decimal.NewFromInt(100))
	if ddPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MaxDrawdownPct)) {
		return CheckResult{Name: "drawdown", Allowed: false, Reason: "max drawdown breached"}
	}
	return CheckResult{Name: "drawdown", Allowed: true}
}

func checkConsecutiveLossesSlippageDeviation(st *model.RiskState, tp TradeParams, cfg config.Risk) CheckResult {
	if st.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return CheckResult{Name: "consecutiveLosses", Allowed: false, Reason: "too many consecutive losses"}
	}
	if tp.ExpectedPrice.IsPositive() && tp.ExecPrice.IsPositive() {
		slip := tp.ExecPrice.Sub(tp.ExpectedPrice).Abs().Div(tp.ExpectedPrice).Mul(decimal.NewFromInt(100))
		if slip.GreaterThan(decimal.NewFromFloat(cfg.MaxSlippagePct)) {
			return CheckResult{Name: "consecutiveLosses", Allowed: false, Reason: "slippage exceeds limit"}
		}
	}
	if tp.MarketPrice.IsPositive() && tp.ExecPrice.IsPositive() {
		dev := tp.ExecPrice.Sub(tp.MarketPrice).Abs().Div(tp.MarketPrice).Mul(decimal.NewFromInt(100))
		if dev.GreaterThan(decimal.NewFromFloat(cfg.MaxPriceDeviationPct)) {
			return CheckResult{Name: "consecutiveLosses", Allowed: false, Reason: "price deviation exceeds limit"}
		}
	}
	return CheckResult{Name: "consecutiveLosses", Allowed: true}
}

