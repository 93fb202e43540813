// Package positions is the per-user/asset holdings ledger of
// spec.md §4.8: weighted-average-entry cost basis and realized P&L
// bookkeeping. Grounded on internal/trading/risk/position_tracker.go's
// UserSymbol-keyed, per-key-locked map idiom, generalized from raw
// position deltas into full cost-basis accounting, per the
// single-writer-per-key discipline of spec.md §5.
package positions

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/model"
	obserrors "github.com/nexustrade/tradingcore/internal/obs/errors"
)

// Period buckets GetPnLReport windows.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	PeriodAll Period = "all"
)

// AllocationEntry is one row of GetAllocation's by-value-share report.
type AllocationEntry struct {
	Asset     string
	Value     decimal.Decimal
	SharePct  decimal.Decimal
}

// PortfolioSummary is GetPortfolioSummary's output for one user.
type PortfolioSummary struct {
	TotalValue       decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	TotalUnrealized  decimal.Decimal
	TotalFees        decimal.Decimal
	Positions        []*model.Position
}

// PnLReport is GetPnLReport's output for one period.
type PnLReport struct {
	Period      Period
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	TradeCount  int
}

type entry struct {
	mu  sync.Mutex
	pos *model.Position
}

// Manager is the key-locked position table. Each key's mutex is held
// only for the duration of one mutation, matching spec.md §5's
// "position mutations for a given key are serialized" guarantee.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty Manager.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger.Named("positions"), entries: make(map[string]*entry)}
}

func (m *Manager) entryFor(key model.PositionKey) *entry {
	k := key.String()
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[k]; ok {
		return e
	}
	e = &entry{pos: model.NewPosition(key, time.Now())}
	m.entries[k] = e
	return e
}

// Get returns a snapshot copy of the position at key, or a zeroed one
// if none exists yet.
func (m *Manager) Get(key model.PositionKey) *model.Position {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.pos
	return &cp
}

// UpdatePositionFromTrade applies one fill's cost-basis/realized-P&L
// delta to the position at key, per spec.md §4.8.
func (m *Manager) UpdatePositionFromTrade(key model.PositionKey, side model.Side, price, amount, fee decimal.Decimal, now time.Time) (*model.Position, error) {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos

	pt := model.PositionTrade{Side: side, Price: price, Amount: amount, Fee: fee, Ts: now}

	switch side {
	case model.SideBuy:
		cost := amount.Mul(price).Add(fee)
		newTotal := p.TotalAmount.Add(amount)
		if newTotal.IsPositive() {
			p.AverageEntryPrice = p.TotalCost.Add(cost).Div(newTotal)
		}
		p.TotalAmount = newTotal
		p.AvailableAmount = p.AvailableAmount.Add(amount)
		p.TotalCost = p.TotalCost.Add(cost)
		p.TotalFees = p.TotalFees.Add(fee)
	case model.SideSell:
		if amount.GreaterThan(p.TotalAmount) {
			return nil, obserrors.New(obserrors.Conflict, "sell amount exceeds position size")
		}
		costBasis := amount.Mul(p.AverageEntryPrice)
		realized := amount.Mul(price).Sub(fee).Sub(costBasis)
		p.TotalAmount = p.TotalAmount.Sub(amount)
		p.AvailableAmount = p.AvailableAmount.Sub(amount)
		if p.AvailableAmount.IsNegative() {
			return nil, obserrors.New(obserrors.Conflict, "sell amount exceeds available (unlocked) amount")
		}
		p.TotalCost = p.TotalCost.Sub(costBasis)
		if p.TotalCost.IsNegative() {
			p.TotalCost = decimal.Zero
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		p.TotalFees = p.TotalFees.Add(fee)
		pt.RealizedPnL = realized
	default:
		return nil, obserrors.New(obserrors.Validation, "side must be buy or sell")
	}

	p.Trades = append(p.Trades, pt)
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

// LockAmount moves amount from available to locked, failing with a
// domain error on over-locking.
func (m *Manager) LockAmount(key model.PositionKey, amount decimal.Decimal) error {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos
	if amount.GreaterThan(p.AvailableAmount) {
		return obserrors.New(obserrors.Conflict, "cannot lock more than availableAmount")
	}
	p.AvailableAmount = p.AvailableAmount.Sub(amount)
	p.LockedAmount = p.LockedAmount.Add(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// UnlockAmount moves amount from locked back to available, failing
// with a domain error on over-unlocking.
func (m *Manager) UnlockAmount(key model.PositionKey, amount decimal.Decimal) error {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos
	if amount.GreaterThan(p.LockedAmount) {
		return obserrors.New(obserrors.Conflict, "cannot unlock more than lockedAmount")
	}
	p.LockedAmount = p.LockedAmount.Sub(amount)
	p.AvailableAmount = p.AvailableAmount.Add(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// UpdateUnrealizedPnL recomputes UnrealizedPnL against currentPrice.
func (m *Manager) UpdateUnrealizedPnL(key model.PositionKey, currentPrice decimal.Decimal) decimal.Decimal {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos
	if p.TotalAmount.IsPositive() {
		p.UnrealizedPnL = p.TotalAmount.Mul(currentPrice).Sub(p.TotalCost)
	} else {
		p.UnrealizedPnL = decimal.Zero
	}
	p.UpdatedAt = time.Now()
	return p.UnrealizedPnL
}

// ForUser returns snapshot copies of every position keyed to userID.
func (m *Manager) ForUser(userID string) []*model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Position
	for _, e := range m.entries {
		e.mu.Lock()
		if e.pos.Key.UserID == userID {
			cp := *e.pos
			out = append(out, &cp)
		}
		e.mu.Unlock()
	}
	return out
}

// GetPortfolioSummary aggregates realized/unrealized P&L and total
// fees across all of a user's positions, valued at each position's
// TotalCost+UnrealizedPnL (current marked value).
func (m *Manager) GetPortfolioSummary(userID string) PortfolioSummary {
	positions := m.ForUser(userID)
	summary := PortfolioSummary{
		TotalValue: decimal.Zero, TotalRealizedPnL: decimal.Zero,
		TotalUnrealized: decimal.Zero, TotalFees: decimal.Zero, Positions: positions,
	}
	for _, p := range positions {
		summary.TotalValue = summary.TotalValue.Add(p.TotalCost).Add(p.UnrealizedPnL)
		summary.TotalRealizedPnL = summary.TotalRealizedPnL.Add(p.RealizedPnL)
		summary.TotalUnrealized = summary.TotalUnrealized.Add(p.UnrealizedPnL)
		summary.TotalFees = summary.TotalFees.Add(p.TotalFees)
	}
	return summary
}

// GetAllocation reports each position's share of the user's total
// marked value.
func (m *Manager) GetAllocation(userID string) []AllocationEntry {
	positions := m.ForUser(userID)
	total := decimal.Zero
	values := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		v := p.TotalCost.Add(p.UnrealizedPnL)
		values[p.Key.Asset] = v
		total = total.Add(v)
	}
	out := make([]AllocationEntry, 0, len(positions))
	for asset, v := range values {
		share := decimal.Zero
		if total.IsPositive() {
			share = v.Div(total).Mul(decimal.NewFromInt(100))
		}
		out = append(out, AllocationEntry{Asset: asset, Value: v, SharePct: share})
	}
	return out
}

// GetPnLReport buckets realized P&L and fees for trades within period.
func (m *Manager) GetPnLReport(userID string, period Period, now time.Time) PnLReport {
	var since time.Time
	switch period {
	case Period24h:
		since = now.Add(-24 * time.Hour)
	case Period7d:
		since = now.Add(-7 * 24 * time.Hour)
	case Period30d:
		since = now.Add(-30 * 24 * time.Hour)
	default:
		since = time.Time{}
	}

	report := PnLReport{Period: period, RealizedPnL: decimal.Zero, Fees: decimal.Zero}
	for _, p := range m.ForUser(userID) {
		for _, t := range p.Trades {
			if t.Ts.Before(since) {
				continue
			}
			report.RealizedPnL = report.RealizedPnL.Add(t.RealizedPnL)
			report.Fees = report.Fees.Add(t.Fee)
			report.TradeCount++
		}
	}
	return report
}
