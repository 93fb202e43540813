package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyStats accumulates per-user trading activity for the current
// local day. Resets at the local-day boundary on first access
// (internal/risk owns the reset logic).
type DailyStats struct {
	Date        string          `json:"date"` // YYYY-MM-DD, local
	TradeCount  int             `json:"tradeCount"`
	Volume      decimal.Decimal `json:"volume"`
	Fees        decimal.Decimal `json:"fees"`
	RealizedPnL decimal.Decimal `json:"realizedPnL"`
	Trades      []PositionTrade `json:"trades"`
}

// CircuitBreaker is a per-user trading suspension automatically
// triggered by risk breaches (spec.md §4.6).
type CircuitBreaker struct {
	TriggeredAt time.Time     `json:"triggeredAt"`
	Duration    time.Duration `json:"duration"`
	Reasons     []string      `json:"reasons"`
}

// Active reports whether the breaker is still suspending trading at now.
func (cb *CircuitBreaker) Active(now time.Time) bool {
	if cb == nil {
		return false
	}
	return now.Sub(cb.TriggeredAt) < cb.Duration
}

// RiskState is the per-user mutable risk bookkeeping of spec.md §3.
type RiskState struct {
	UserID             string          `json:"userId"`
	DailyStats         DailyStats      `json:"dailyStats"`
	LastTradeAt        *time.Time      `json:"lastTradeAt,omitempty"`
	PeakEquity         decimal.Decimal `json:"peakEquity"`
	ConsecutiveLosses  int             `json:"consecutiveLosses"`
	CircuitBreaker     *CircuitBreaker `json:"circuitBreaker,omitempty"`
}
