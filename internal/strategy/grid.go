package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
)

// GridConfig holds the tunable parameters of spec.md §4.5's grid
// strategy.
type GridConfig struct {
	Levels              int
	GridSpacingPct      decimal.Decimal
	RebalanceThreshold  decimal.Decimal
	OrderAmount         decimal.Decimal
}

func defaultGridConfig() GridConfig {
	return GridConfig{
		Levels:             10,
		GridSpacingPct:     decimal.NewFromFloat(0.01),
		RebalanceThreshold: decimal.NewFromFloat(0.5),
		OrderAmount:        decimal.NewFromFloat(0.01),
	}
}

type gridLevel struct {
	price  decimal.Decimal
	side   model.Side
	filled bool
}

// Grid is the symmetric price-ladder strategy of spec.md §4.5.
type Grid struct {
	id     string
	config GridConfig

	centerPrice    decimal.Decimal
	levels         []gridLevel
	lastRebalance  time.Time
}

// NewGrid constructs a Grid strategy. Levels are initialized lazily on
// the first tick once a center price is known.
func NewGrid(id string, params map[string]interface{}) (Strategy, error) {
	s := &Grid{id: id, config: defaultGridConfig()}
	if err := s.UpdateParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Grid) ID() string { return s.id }

func (s *Grid) UpdateParams(params map[string]interface{}) error {
	var center *decimal.Decimal
	for k, v := range params {
		switch k {
		case "levels":
			n, ok := v.(int)
			if !ok {
				if f, ok := v.(float64); ok {
					n = int(f)
				} else {
					return fmt.Errorf("grid: levels must be int")
				}
			}
			s.config.Levels = n
		case "gridSpacingPct":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("grid: %s: %w", k, err)
			}
			s.config.GridSpacingPct = d
		case "rebalanceThreshold":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("grid: %s: %w", k, err)
			}
			s.config.RebalanceThreshold = d
		case "orderAmount":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("grid: %s: %w", k, err)
			}
			s.config.OrderAmount = d
		case "centerPrice":
			d, err := toDecimal(v)
			if err != nil {
				return fmt.Errorf("grid: %s: %w", k, err)
			}
			center = &d
		}
	}
	if center != nil {
		s.initLevels(*center)
	}
	return nil
}

func (s *Grid) GetConfig() map[string]interface{} {
	return map[string]interface{}{
		"levels":             s.config.Levels,
		"gridSpacingPct":     s.config.GridSpacingPct,
		"rebalanceThreshold": s.config.RebalanceThreshold,
		"orderAmount":        s.config.OrderAmount,
	}
}

func (s *Grid) ParamSchema() []ParamSchema {
	return []ParamSchema{
		{Name: "levels", Default: 10, Min: 4, Max: 40},
		{Name: "gridSpacingPct", Default: 0.01, Min: 0.002, Max: 0.05},
	}
}

// initLevels lays out N levels symmetrically around centerPrice,
// gridSpacingPct apart, N/2 buys below and N/2 sells above, per
// spec.md §4.5.
func (s *Grid) initLevels(centerPrice decimal.Decimal) {
	s.centerPrice = centerPrice
	s.levels = nil
	half := s.config.Levels / 2
	step := centerPrice.Mul(s.config.GridSpacingPct)

	for i := 1; i <= half; i++ {
		below := centerPrice.Sub(step.Mul(decimal.NewFromInt(int64(i))))
		above := centerPrice.Add(step.Mul(decimal.NewFromInt(int64(i))))
		s.levels = append(s.levels, gridLevel{price: below, side: model.SideBuy})
		s.levels = append(s.levels, gridLevel{price: above, side: model.SideSell})
	}
}

func (s *Grid) gridRange() decimal.Decimal {
	if len(s.levels) == 0 {
		return decimal.Zero
	}
	lo, hi := s.levels[0].price, s.levels[0].price
	for _, l := range s.levels {
		if l.price.LessThan(lo) {
			lo = l.price
		}
		if l.price.GreaterThan(hi) {
			hi = l.price
		}
	}
	return hi.Sub(lo)
}

// GenerateSignal fills the nearest crossed pending level and opens the
// opposite-side order at the next adjacent level, rebalancing the
// center when price reaches rebalanceThreshold*gridRange (minimum
// interval 5 minutes), per spec.md §4.5.
func (s *Grid) GenerateSignal(ctx MarketContext) model.Signal {
	hold := model.Signal{Action: model.SignalHold, Price: ctx.Price, Reason: "no crossing"}

	if len(s.levels) == 0 {
		s.initLevels(ctx.Price)
		s.lastRebalance = ctx.Timestamp
		return hold
	}

	if s.shouldRebalance(ctx) {
		s.initLevels(ctx.Price)
		s.lastRebalance = ctx.Timestamp
		return hold
	}

	for i := range s.levels {
		lvl := &s.levels[i]
		if lvl.filled {
			continue
		}
		crossed := (lvl.side == model.SideBuy && ctx.Price.LessThanOrEqual(lvl.price)) ||
			(lvl.side == model.SideSell && ctx.Price.GreaterThanOrEqual(lvl.price))
		if !crossed {
			continue
		}
		lvl.filled = true
		s.openOppositeLevel(*lvl)
		return model.Signal{
			Action: signalForSide(lvl.side),
			Price:  lvl.price,
			Amount: s.config.OrderAmount,
			Reason: "grid level crossed",
		}
	}
	return hold
}

func (s *Grid) shouldRebalance(ctx MarketContext) bool {
	if ctx.Timestamp.Sub(s.lastRebalance) < 5*time.Minute {
		return false
	}
	rng := s.gridRange()
	if rng.IsZero() {
		return false
	}
	dist := ctx.Price.Sub(s.centerPrice).Abs()
	return dist.GreaterThanOrEqual(rng.Mul(s.config.RebalanceThreshold))
}

func (s *Grid) openOppositeLevel(filled gridLevel) {
	step := s.centerPrice.Mul(s.config.GridSpacingPct)
	var next gridLevel
	if filled.side == model.SideBuy {
		next = gridLevel{price: filled.price.Add(step), side: model.SideSell}
	} else {
		next = gridLevel{price: filled.price.Sub(step), side: model.SideBuy}
	}
	s.levels = append(s.levels, next)
}

func signalForSide(side model.Side) model.SignalAction {
	if side == model.SideBuy {
		return model.SignalBuy
	}
	return model.SignalSell
}
