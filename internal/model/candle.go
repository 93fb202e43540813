package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar. TimestampMs is the open time of the bar, in
// milliseconds since epoch, per spec.
type Candle struct {
	TimestampMs int64           `json:"timestamp"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

// Validate checks the candle invariants from spec.md §3.
func (c Candle) Validate() error {
	if c.TimestampMs <= 0 {
		return fmt.Errorf("model: candle missing timestamp")
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("model: candle high below open/close")
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return fmt.Errorf("model: candle low above open/close")
	}
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("model: candle low above high")
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("model: candle volume negative")
	}
	if !c.Close.IsPositive() {
		return fmt.Errorf("model: candle close not positive")
	}
	if !c.Open.IsPositive() {
		return fmt.Errorf("model: candle open not positive")
	}
	return nil
}
