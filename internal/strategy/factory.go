package strategy

import (
	"fmt"
	"sync"

	"github.com/nexustrade/tradingcore/internal/model"
)

// Creator builds one strategy instance from an id and a raw param map,
// mirroring the tagged-variant construction of
// internal/marketmaking/strategies/factory/factory.go's
// StrategyCreator.
type Creator func(id string, params map[string]interface{}) (Strategy, error)

// Factory is the closed-set registry of strategy types (spec.md §9:
// "dynamic, config-driven dispatch ... modeled as tagged variants plus
// a factory"). Both live execution (internal/coordinator) and the
// walk-forward optimizer (internal/optimize) share one Factory.
type Factory struct {
	mu       sync.RWMutex
	creators map[model.StrategyType]Creator
}

// NewFactory returns a Factory pre-registered with the three built-ins.
func NewFactory() *Factory {
	f := &Factory{creators: make(map[model.StrategyType]Creator)}
	f.Register(model.StrategyTypeMeanReversion, func(id string, params map[string]interface{}) (Strategy, error) {
		return NewMeanReversion(id, params)
	})
	f.Register(model.StrategyTypeMomentum, func(id string, params map[string]interface{}) (Strategy, error) {
		return NewMomentum(id, params)
	})
	f.Register(model.StrategyTypeGrid, func(id string, params map[string]interface{}) (Strategy, error) {
		return NewGrid(id, params)
	})
	return f
}

// Register adds or replaces a creator for typ.
func (f *Factory) Register(typ model.StrategyType, c Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[typ] = c
}

// Create instantiates a strategy of typ with the given id and params.
func (f *Factory) Create(typ model.StrategyType, id string, params map[string]interface{}) (Strategy, error) {
	f.mu.RLock()
	c, ok := f.creators[typ]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown type %q", typ)
	}
	return c(id, params)
}

// Types lists the registered strategy types.
func (f *Factory) Types() []model.StrategyType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.StrategyType, 0, len(f.creators))
	for t := range f.creators {
		out = append(out, t)
	}
	return out
}
