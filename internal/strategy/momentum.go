package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
)

// MomentumConfig holds the tunable parameters of spec.md §4.5's
// EMA-cross + MACD momentum strategy.
type MomentumConfig struct {
	MACDThreshold     decimal.Decimal
	MinTrendStrength  decimal.Decimal
	TrailingStopPct   decimal.Decimal
	BalanceFraction   decimal.Decimal
}

func defaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		MACDThreshold:    decimal.Zero,
		MinTrendStrength: decimal.NewFromFloat(0.3),
		TrailingStopPct:  decimal.NewFromFloat(0.02),
		BalanceFraction:  decimal.NewFromFloat(0.1),
	}
}

// Momentum is the EMA12/EMA26 cross + MACD-histogram strategy with a
// trailing stop, per spec.md §4.5. The MACD signal line is approximated
// as 0.8*macdLine (an explicit Open Question in spec.md §9, retained
// here per the implementer decision recorded in DESIGN.md).
type Momentum struct {
	id     string
	config MomentumConfig

	// position tracking for the trailing stop, cleared by
	// UpdateParams({"reset":true}); the scheduler does not send that.
	inPosition   bool
	isLong       bool
	highWater    decimal.Decimal
	lowWater     decimal.Decimal
}

// NewMomentum constructs a Momentum strategy.
func NewMomentum(id string, params map[string]interface{}) (Strategy, error) {
	s := &Momentum{id: id, config: defaultMomentumConfig()}
	if err := s.UpdateParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Momentum) ID() string { return s.id }

func (s *Momentum) UpdateParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "macdThreshold":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("momentum: %s: %w", k, err)
			}
			s.config.MACDThreshold = d
		case "minTrendStrength":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("momentum: %s: %w", k, err)
			}
			s.config.MinTrendStrength = d
		case "trailingStopPct":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("momentum: %s: %w", k, err)
			}
			s.config.TrailingStopPct = d
		case "balanceFraction":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("momentum: %s: %w", k, err)
			}
			s.config.BalanceFraction = d
		case "reset":
			if b, ok := v.(bool); ok && b {
				s.inPosition = false
			}
		}
	}
	return nil
}

func (s *Momentum) GetConfig() map[string]interface{} {
	return map[string]interface{}{
		"macdThreshold":    s.config.MACDThreshold,
		"minTrendStrength": s.config.MinTrendStrength,
		"trailingStopPct":  s.config.TrailingStopPct,
		"balanceFraction":  s.config.BalanceFraction,
	}
}

func (s *Momentum) ParamSchema() []ParamSchema {
	return []ParamSchema{
		{Name: "macdThreshold", Default: 0.0, Min: -5.0, Max: 5.0},
		{Name: "minTrendStrength", Default: 0.3, Min: 0.1, Max: 0.8},
		{Name: "trailingStopPct", Default: 0.02, Min: 0.005, Max: 0.1},
	}
}

// GenerateSignal implements the long/short entry, trailing-stop ratchet
// and opposite-cross exit of spec.md §4.5.
func (s *Momentum) GenerateSignal(ctx MarketContext) model.Signal {
	ema12, ema26 := ctx.Indicators.EMA12, ctx.Indicators.EMA26
	price := ctx.Price
	hold := model.Signal{Action: model.SignalHold, Price: price, Reason: "no setup"}

	if ema12.IsZero() && ema26.IsZero() {
		return hold
	}

	macdLine := ema12.Sub(ema26)
	signalLine := macdLine.Mul(decimal.NewFromFloat(0.8))
	histogram := macdLine.Sub(signalLine)
	trend := trendStrength(ctx.RecentCandles)

	if s.inPosition {
		if s.isLong {
			if price.GreaterThan(s.highWater) {
				s.highWater = price
			}
			stop := s.highWater.Mul(decimal.NewFromInt(1).Sub(s.config.TrailingStopPct))
			if price.LessThanOrEqual(stop) || ema12.LessThan(ema26) {
				s.inPosition = false
				return model.Signal{Action: model.SignalSell, Price: price, Amount: s.config.BalanceFraction, Reason: "trailing stop or opposite cross (long exit)"}
			}
			return hold
		}
		if price.LessThan(s.lowWater) || s.lowWater.IsZero() {
			s.lowWater = price
		}
		stop := s.lowWater.Mul(decimal.NewFromInt(1).Add(s.config.TrailingStopPct))
		if price.GreaterThanOrEqual(stop) || ema12.GreaterThan(ema26) {
			s.inPosition = false
			return model.Signal{Action: model.SignalBuy, Price: price, Amount: s.config.BalanceFraction, Reason: "trailing stop or opposite cross (short exit)"}
		}
		return hold
	}

	switch {
	case ema12.GreaterThan(ema26) && histogram.GreaterThan(s.config.MACDThreshold) && trend.GreaterThanOrEqual(s.config.MinTrendStrength):
		s.inPosition, s.isLong, s.highWater = true, true, price
		return model.Signal{Action: model.SignalBuy, Confidence: clamp01(trend), Price: price, Amount: s.config.BalanceFraction, Reason: "bullish EMA cross with MACD momentum"}

	case ema12.LessThan(ema26) && histogram.LessThan(s.config.MACDThreshold.Neg()) && trend.GreaterThanOrEqual(s.config.MinTrendStrength):
		s.inPosition, s.isLong, s.lowWater = true, false, price
		return model.Signal{Action: model.SignalSell, Confidence: clamp01(trend), Price: price, Amount: s.config.BalanceFraction, Reason: "bearish EMA cross with MACD momentum"}

	default:
		return hold
	}
}

// trendStrength computes |up-down|/(up+down) across recent candles, per
// spec.md §4.5.
func trendStrength(candles []model.Candle) decimal.Decimal {
	if len(candles) < 2 {
		return decimal.Zero
	}
	up, down := decimal.Zero, decimal.Zero
	for i := 1; i < len(candles); i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close)
		if delta.IsPositive() {
			up = up.Add(delta)
		} else {
			down = down.Add(delta.Abs())
		}
	}
	total := up.Add(down)
	if total.IsZero() {
		return decimal.Zero
	}
	return up.Sub(down).Abs().Div(total)
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}
