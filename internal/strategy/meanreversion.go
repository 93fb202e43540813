package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
)

// MeanReversionConfig holds the tunable parameters of spec.md §4.5's
// Bollinger+RSI mean-reversion strategy.
type MeanReversionConfig struct {
	RSIOverbought      decimal.Decimal
	RSIOversold        decimal.Decimal
	StopLossPct        decimal.Decimal
	TakeProfitAtMean   bool
	BalanceFraction    decimal.Decimal
}

func defaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		RSIOverbought:    decimal.NewFromInt(70),
		RSIOversold:      decimal.NewFromInt(30),
		StopLossPct:      decimal.NewFromFloat(0.02),
		TakeProfitAtMean: true,
		BalanceFraction:  decimal.NewFromFloat(0.1),
	}
}

// MeanReversion is the BB+RSI entry/exit strategy of spec.md §4.5.
type MeanReversion struct {
	id     string
	config MeanReversionConfig
}

// NewMeanReversion constructs a MeanReversion strategy, applying any
// overrides present in params.
func NewMeanReversion(id string, params map[string]interface{}) (Strategy, error) {
	s := &MeanReversion{id: id, config: defaultMeanReversionConfig()}
	if err := s.UpdateParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MeanReversion) ID() string { return s.id }

func (s *MeanReversion) UpdateParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "rsiOverbought":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("meanreversion: %s: %w", k, err)
			}
			s.config.RSIOverbought = d
		case "rsiOversold":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("meanreversion: %s: %w", k, err)
			}
			s.config.RSIOversold = d
		case "stopLossPct":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("meanreversion: %s: %w", k, err)
			}
			s.config.StopLossPct = d
		case "takeProfitAtMean":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("meanreversion: takeProfitAtMean must be bool")
			}
			s.config.TakeProfitAtMean = b
		case "balanceFraction":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("meanreversion: %s: %w", k, err)
			}
			s.config.BalanceFraction = d
		}
	}
	return nil
}

func (s *MeanReversion) GetConfig() map[string]interface{} {
	return map[string]interface{}{
		"rsiOverbought":    s.config.RSIOverbought,
		"rsiOversold":      s.config.RSIOversold,
		"stopLossPct":      s.config.StopLossPct,
		"takeProfitAtMean": s.config.TakeProfitAtMean,
		"balanceFraction":  s.config.BalanceFraction,
	}
}

func (s *MeanReversion) ParamSchema() []ParamSchema {
	return []ParamSchema{
		{Name: "rsiOverbought", Default: 70.0, Min: 55.0, Max: 85.0},
		{Name: "rsiOversold", Default: 30.0, Min: 15.0, Max: 45.0},
		{Name: "stopLossPct", Default: 0.02, Min: 0.005, Max: 0.05},
	}
}

// GenerateSignal implements the entry/exit logic of spec.md §4.5 and
// the literal scenario in spec.md §8 #2.
func (s *MeanReversion) GenerateSignal(ctx MarketContext) model.Signal {
	bb := ctx.Indicators.Bollinger
	rsi := ctx.Indicators.RSI14
	price := ctx.Price

	hold := model.Signal{Action: model.SignalHold, Price: price, Reason: "no setup"}
	if bb.Upper.IsZero() && bb.Lower.IsZero() {
		return hold
	}

	amount := s.config.BalanceFraction

	switch {
	case price.GreaterThan(bb.Upper) && rsi.GreaterThan(s.config.RSIOverbought):
		stop := price.Mul(decimal.NewFromInt(1).Add(s.config.StopLossPct))
		sig := model.Signal{
			Action:     model.SignalSell,
			Confidence: s.confidence(rsi, s.config.RSIOverbought, price, bb.Upper, bb.Middle),
			Price:      price,
			Amount:     amount,
			Reason:     "price above upper band with overbought RSI",
			StopLoss:   &stop,
		}
		if s.config.TakeProfitAtMean {
			tp := bb.Middle
			sig.TakeProfit = &tp
		}
		return sig

	case price.LessThan(bb.Lower) && rsi.LessThan(s.config.RSIOversold):
		stop := price.Mul(decimal.NewFromInt(1).Sub(s.config.StopLossPct))
		sig := model.Signal{
			Action:     model.SignalBuy,
			Confidence: s.confidence(s.config.RSIOversold, rsi, bb.Lower, price, bb.Middle),
			Price:      price,
			Amount:     amount,
			Reason:     "price below lower band with oversold RSI",
			StopLoss:   &stop,
		}
		if s.config.TakeProfitAtMean {
			tp := bb.Middle
			sig.TakeProfit = &tp
		}
		return sig

	default:
		return hold
	}
}

// confidence blends RSI extremity and band distance, clamped to [0.5,1]
// per spec.md §4.5.
func (s *MeanReversion) confidence(rsiHi, rsiLo, bandA, bandB, mid decimal.Decimal) decimal.Decimal {
	rsiExtremity := rsiHi.Sub(rsiLo).Div(decimal.NewFromInt(100)).Abs()
	bandDistance := decimal.Zero
	if !mid.IsZero() {
		bandDistance = bandA.Sub(bandB).Abs().Div(mid.Abs().Add(decimal.NewFromFloat(1e-9)))
	}
	conf := rsiExtremity.Add(bandDistance).Div(decimal.NewFromInt(2)).Add(decimal.NewFromFloat(0.5))
	half := decimal.NewFromFloat(0.5)
	one := decimal.NewFromInt(1)
	if conf.LessThan(half) {
		return half
	}
	if conf.GreaterThan(one) {
		return one
	}
	return conf
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case string:
		return decimal.NewFromString(x)
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}
