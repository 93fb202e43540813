// Package orders implements the order lifecycle state machine, create/
// update validator, and fill accounting of spec.md §4.7. Grounded on
// internal/trading/orderqueue/queue.go and inmemory_queue.go (single
// persistent/priority queue, Enqueue/Dequeue/Acknowledge, Order struct
// with Priority/Timestamp) generalized into the full order lifecycle,
// and on internal/trading/orderbook for the per-pair serialized order
// stream notion. Validator rules are grounded on the
// go-playground/validator-style struct-tag validation used across the
// teacher's internal/trading handlers, reimplemented here as explicit
// Go functions (no HTTP framework in scope).
package orders

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
)

// Limits are the validator's configurable bounds, per spec.md §4.7.
type Limits struct {
	MinOrderAmount   decimal.Decimal
	MaxOrderAmount   decimal.Decimal
	AmountPrecision  int32
	MinOrderValue    decimal.Decimal
	MaxOrderValue    decimal.Decimal
}

// DefaultLimits returns permissive defaults suitable for tests and
// local running.
func DefaultLimits() Limits {
	return Limits{
		MinOrderAmount:  decimal.NewFromFloat(0.0001),
		MaxOrderAmount:  decimal.NewFromInt(1000000),
		AmountPrecision: 8,
		MinOrderValue:   decimal.NewFromFloat(1),
		MaxOrderValue:   decimal.NewFromInt(10000000),
	}
}

// ValidationResult mirrors spec.md §7's "messages plus advisory
// warnings" shape.
type ValidationResult struct {
	Messages []string
	Warnings []string
}

func (r ValidationResult) Valid() bool { return len(r.Messages) == 0 }

var pairRegex = regexp.MustCompile(`^[A-Z]{2,10}[\/-][A-Z]{2,10}$`)

var allowedTypes = map[model.OrderType]bool{
	model.OrderTypeMarket: true, model.OrderTypeLimit: true,
	model.OrderTypeStop: true, model.OrderTypeStopLimit: true, model.OrderTypeOCO: true,
}

var priceRequiredTypes = map[model.OrderType]bool{
	model.OrderTypeLimit: true, model.OrderTypeStopLimit: true, model.OrderTypeOCO: true,
}

var stopPriceRequiredTypes = map[model.OrderType]bool{
	model.OrderTypeStop: true, model.OrderTypeStopLimit: true, model.OrderTypeOCO: true,
}

// ValidateCreate checks an order for creation against Limits, per
// spec.md §4.7.
func ValidateCreate(o *model.Order, limits Limits) ValidationResult {
	var res ValidationResult
	fail := func(msg string) { res.Messages = append(res.Messages, msg) }
	warn := func(msg string) { res.Warnings = append(res.Warnings, msg) }

	if o.UserID == "" {
		fail("userId is required")
	}
	if o.Exchange == "" {
		fail("exchange is required")
	}
	if o.Pair == "" {
		fail("pair is required")
	} else if !pairRegex.MatchString(string(o.Pair)) {
		fail("pair must match ^[A-Z]{2,10}[/-][A-Z]{2,10}$")
	}
	if o.Type == "" {
		fail("type is required")
	} else if !allowedTypes[o.Type] {
		fail(fmt.Sprintf("unknown order type %q", o.Type))
	}
	if o.Side != model.SideBuy && o.Side != model.SideSell {
		fail("side must be buy or sell")
	}
	if o.TIF != "" && o.TIF != model.TIFGTC && o.TIF != model.TIFIOC && o.TIF != model.TIFFOK {
		fail("tif must be one of GTC, IOC, FOK")
	}

	if o.Amount.IsZero() {
		fail("amount is required")
	} else {
		if !o.Amount.IsPositive() {
			fail("amount must be positive")
		}
		if o.Amount.LessThan(limits.MinOrderAmount) || o.Amount.GreaterThan(limits.MaxOrderAmount) {
			fail("amount outside allowed range")
		}
		if o.Amount.Exponent() < -limits.AmountPrecision {
			fail("amount exceeds allowed decimal precision")
		}
	}

	if priceRequiredTypes[o.Type] && o.Price == nil {
		fail(fmt.Sprintf("price is required for order type %q", o.Type))
	}
	if stopPriceRequiredTypes[o.Type] && o.StopPrice == nil {
		fail(fmt.Sprintf("stopPrice is required for order type %q", o.Type))
	}

	if o.Type == model.OrderTypeStopLimit && o.Price != nil && o.StopPrice != nil {
		if o.Side == model.SideBuy && o.StopPrice.LessThan(*o.Price) {
			fail("for buy stop_limit, stopPrice must be >= price")
		}
		if o.Side == model.SideSell && o.StopPrice.GreaterThan(*o.Price) {
			fail("for sell stop_limit, stopPrice must be <= price")
		}
	}

	if o.Price != nil && !o.Amount.IsZero() {
		value := o.Amount.Mul(*o.Price)
		if value.LessThan(limits.MinOrderValue) || value.GreaterThan(limits.MaxOrderValue) {
			fail("order value outside allowed range")
		}
		if value.GreaterThan(limits.MaxOrderValue.Div(decimal.NewFromInt(10))) {
			warn("large order: consider splitting to reduce market impact")
		}
	}
	if o.Type == model.OrderTypeMarket {
		warn("market orders are subject to slippage versus the last quoted price")
	}

	return res
}

// ValidateUpdate checks a proposed amount change against the order's
// current state: updates can only decrease amount, never below
// filledAmount, and never on a terminal order.
func ValidateUpdate(o *model.Order, newAmount decimal.Decimal) ValidationResult {
	var res ValidationResult
	if o.Status.Terminal() {
		res.Messages = append(res.Messages, "cannot update a terminal order")
		return res
	}
	if newAmount.GreaterThan(o.Amount) {
		res.Messages = append(res.Messages, "amount can only be decreased")
	}
	if newAmount.LessThan(o.FilledAmount) {
		res.Messages = append(res.Messages, "amount cannot be decreased below filledAmount")
	}
	return res
}
