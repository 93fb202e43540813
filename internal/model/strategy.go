package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType enumerates the built-in strategy implementations.
type StrategyType string

const (
	StrategyTypeMeanReversion StrategyType = "mean_reversion"
	StrategyTypeMomentum      StrategyType = "momentum"
	StrategyTypeGrid          StrategyType = "grid"
)

// StrategyStatus is the strategy lifecycle state (spec.md §4.5):
// inactive -> active -> {paused|inactive|error}; paused -> active|inactive;
// error is terminal until reset by deactivate+activate.
type StrategyStatus string

const (
	StrategyStatusInactive StrategyStatus = "inactive"
	StrategyStatusActive   StrategyStatus = "active"
	StrategyStatusPaused   StrategyStatus = "paused"
	StrategyStatusError    StrategyStatus = "error"
)

// SignalAction is the action a strategy recommends for the current tick.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// Signal is the output of Strategy.GenerateSignal.
type Signal struct {
	Action        SignalAction     `json:"action"`
	Confidence    decimal.Decimal  `json:"confidence"`
	Price         decimal.Decimal  `json:"price"`
	Amount        decimal.Decimal  `json:"amount"`
	Reason        string           `json:"reason"`
	StopLoss      *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"takeProfit,omitempty"`
	TrailingStop  *decimal.Decimal `json:"trailingStop,omitempty"`
}

// StrategyPerformance tracks aggregate strategy outcomes for reporting.
type StrategyPerformance struct {
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	RealizedPnL   decimal.Decimal `json:"realizedPnL"`
}

// Strategy is the persisted record of a configured strategy instance.
// The runtime behavior lives in internal/strategy; this is the durable
// shape described in spec.md §3.
type Strategy struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	Type        StrategyType           `json:"type"`
	Pair        Pair                   `json:"pair"`
	Exchange    string                 `json:"exchange"`
	Side        Side                   `json:"side"`
	Params      map[string]interface{} `json:"params"`
	Status      StrategyStatus         `json:"status"`
	Performance StrategyPerformance    `json:"performance"`
	Trades      []PositionTrade        `json:"trades"`
	Signals     []Signal               `json:"signals"`
	LastRunAt   *time.Time             `json:"lastRunAt,omitempty"`
	Error       string                 `json:"error,omitempty"`
}
