package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the order types the validator and order manager
// accept, per spec.md §3.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStop       OrderType = "stop"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeOCO        OrderType = "oco"
)

// TimeInForce enumerates supported order TIF values.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is a state in the order lifecycle state machine of
// spec.md §4.7. Transitions are monotonic; Filled/Cancelled/Rejected/
// Expired are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Trade is a single fill appended append-only to its parent Order.
type Trade struct {
	TradeID string          `json:"tradeId"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
	Side    Side            `json:"side"`
	Ts      time.Time       `json:"ts"`
}

// Order is the core order aggregate. Invariants (spec.md §3):
// FilledAmount+RemainingAmount=Amount; AveragePrice is the
// amount-weighted mean of Trades' prices; CanCancel iff status is one
// of pending/open/partial.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"userId"`
	Exchange        string          `json:"exchange"`
	Pair            Pair            `json:"pair"`
	Type            OrderType       `json:"type"`
	Side            Side            `json:"side"`
	Amount          decimal.Decimal `json:"amount"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	TIF             TimeInForce     `json:"tif"`
	Status          OrderStatus     `json:"status"`
	FilledAmount    decimal.Decimal `json:"filledAmount"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	AveragePrice    *decimal.Decimal `json:"averagePrice,omitempty"`
	Fee             decimal.Decimal `json:"fee"`
	FeeCcy          string          `json:"feeCcy"`
	StrategyID      string          `json:"strategyId,omitempty"`
	Trades          []Trade         `json:"trades"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	FilledAt        *time.Time      `json:"filledAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	ExternalID      string          `json:"externalId,omitempty"`
}

// CanCancel reports whether the order is still in a cancellable state.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartial:
		return true
	default:
		return false
	}
}

// ApplyFill appends a trade and recomputes FilledAmount, RemainingAmount,
// AveragePrice and Fee, per spec.md §4.7. It does not change Status; the
// caller transitions status based on the returned remaining amount.
func (o *Order) ApplyFill(t Trade) {
	o.Trades = append(o.Trades, t)

	prevFilled := o.FilledAmount
	prevNotional := decimal.Zero
	if o.AveragePrice != nil {
		prevNotional = o.AveragePrice.Mul(prevFilled)
	}
	newFilled := prevFilled.Add(t.Amount)
	newNotional := prevNotional.Add(t.Price.Mul(t.Amount))

	o.FilledAmount = newFilled
	o.RemainingAmount = o.Amount.Sub(newFilled)
	if o.RemainingAmount.IsNegative() {
		o.RemainingAmount = decimal.Zero
	}
	if newFilled.IsPositive() {
		avg := newNotional.Div(newFilled)
		o.AveragePrice = &avg
	}
	o.Fee = o.Fee.Add(t.Fee)
	o.UpdatedAt = t.Ts
}
