// Package strategy defines the shared strategy contract, market
// context, and periodic scheduler of spec.md §4.5. Grounded on
// internal/marketmaking/strategies/common/interfaces.go's
// MarketMakingStrategy interface (Initialize/Start/Stop/OnMarketData/
// OnOrderFill/UpdateConfig/GetConfig/GetMetrics/GetStatus), generalized
// into the spec's generateSignal/updateParams/getConfig contract.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/strategy/indicator"
)

// Indicators bundles the derived technical indicators a MarketContext
// exposes, per spec.md §4.5.
type Indicators struct {
	SMA20     decimal.Decimal
	SMA50     decimal.Decimal
	EMA12     decimal.Decimal
	EMA26     decimal.Decimal
	RSI14     decimal.Decimal
	Bollinger indicator.BollingerBands
}

// MarketContext is the snapshot a strategy observes on each tick.
type MarketContext struct {
	Timestamp     time.Time
	Pair          model.Pair
	Price         decimal.Decimal
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        decimal.Decimal
	RecentCandles []model.Candle
	Indicators    Indicators
}

// BuildIndicators derives Indicators from a closes series ending at the
// current candle, using the standard formulas of spec.md §4.5.
func BuildIndicators(closes []decimal.Decimal) Indicators {
	var ind Indicators
	if v, ok := indicator.SMA(closes, 20); ok {
		ind.SMA20 = v
	}
	if v, ok := indicator.SMA(closes, 50); ok {
		ind.SMA50 = v
	}
	if v, ok := indicator.EMA(closes, 12); ok {
		ind.EMA12 = v
	}
	if v, ok := indicator.EMA(closes, 26); ok {
		ind.EMA26 = v
	}
	if v, ok := indicator.RSI(closes, 14); ok {
		ind.RSI14 = v
	}
	if bb, ok := indicator.Bollinger(closes, 20, decimal.NewFromInt(2)); ok {
		ind.Bollinger = bb
	}
	return ind
}

// Strategy is the contract every built-in and pluggable strategy
// implements, per spec.md §4.5.
type Strategy interface {
	ID() string
	GenerateSignal(ctx MarketContext) model.Signal
	UpdateParams(params map[string]interface{}) error
	GetConfig() map[string]interface{}
}

// ParamSchema describes one tunable parameter, letting the optimizer
// enumerate grids without the strategy exposing its internal struct.
type ParamSchema struct {
	Name    string
	Default interface{}
	Min     interface{}
	Max     interface{}
}

// SchemaProvider is implemented by strategies that declare which
// parameters the optimizer may grid-search (spec.md §4.11).
type SchemaProvider interface {
	ParamSchema() []ParamSchema
}
