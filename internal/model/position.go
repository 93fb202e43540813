package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionKey identifies a position by user, exchange, and asset, per
// spec.md §3.
type PositionKey struct {
	UserID   string
	Exchange string
	Asset    string
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.Exchange, k.Asset)
}

// PositionTrade records one trade's contribution to a position, used by
// GetPnLReport to bucket by period.
type PositionTrade struct {
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	RealizedPnL  decimal.Decimal `json:"realizedPnL"`
	Ts           time.Time       `json:"ts"`
}

// Position is the per-user/asset holding, keyed by PositionKey.
// Invariants: AvailableAmount+LockedAmount=TotalAmount>=0; AverageEntryPrice
// is the weighted average of buy fills net of sold cost basis; RealizedPnL
// accumulates on sells as sellProceeds - amount*avgEntry.
type Position struct {
	Key               PositionKey
	TotalAmount       decimal.Decimal
	AvailableAmount   decimal.Decimal
	LockedAmount      decimal.Decimal
	AverageEntryPrice decimal.Decimal
	TotalCost         decimal.Decimal
	RealizedPnL       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	TotalFees         decimal.Decimal
	Trades            []PositionTrade
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPosition returns a zeroed position for the given key.
func NewPosition(key PositionKey, now time.Time) *Position {
	return &Position{
		Key:               key,
		TotalAmount:       decimal.Zero,
		AvailableAmount:   decimal.Zero,
		LockedAmount:      decimal.Zero,
		AverageEntryPrice: decimal.Zero,
		TotalCost:         decimal.Zero,
		RealizedPnL:       decimal.Zero,
		UnrealizedPnL:     decimal.Zero,
		TotalFees:         decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
