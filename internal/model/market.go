package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a single-venue last-price snapshot.
type Ticker struct {
	Exchange  string          `json:"exchange"`
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	High24h   decimal.Decimal `json:"high24h"`
	Low24h    decimal.Decimal `json:"low24h"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"ts"`
}

// PriceLevel is one rung of an order-book ladder.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook is a single-venue order book snapshot or delta.
type OrderBook struct {
	Exchange  string       `json:"exchange"`
	Pair      Pair         `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"ts"`
}

// BestBid returns the highest bid, or the zero value if the book is empty.
func (ob OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, false
	}
	best := ob.Bids[0].Price
	for _, l := range ob.Bids[1:] {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best, true
}

// BestAsk returns the lowest ask, or the zero value if the book is empty.
func (ob OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	best := ob.Asks[0].Price
	for _, l := range ob.Asks[1:] {
		if l.Price.LessThan(best) {
			best = l.Price
		}
	}
	return best, true
}

// TradeTape is a single public trade observed on a venue.
type TradeTape struct {
	Exchange  string          `json:"exchange"`
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"ts"`
}

// AggregatedPrice is the cross-venue VWAP/spread summary the aggregator
// emits every aggregation interval.
type AggregatedPrice struct {
	Pair          Pair            `json:"pair"`
	VWAP          decimal.Decimal `json:"vwap"`
	BestBid       decimal.Decimal `json:"bestBid"`
	BestAsk       decimal.Decimal `json:"bestAsk"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPct     decimal.Decimal `json:"spreadPct"`
	TotalVolume   decimal.Decimal `json:"totalVolume"`
	ExchangeCount int             `json:"exchangeCount"`
	Exchanges     []string        `json:"exchanges"`
	Timestamp     time.Time       `json:"ts"`
}
