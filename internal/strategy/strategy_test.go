package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/strategy/indicator"
)

func TestMeanReversionSellScenario(t *testing.T) {
	s, err := NewMeanReversion("s1", map[string]interface{}{"rsiOverbought": 70})
	require.NoError(t, err)

	ctx := MarketContext{
		Price: decimal.NewFromInt(105),
		Indicators: Indicators{
			RSI14: decimal.NewFromInt(75),
			Bollinger: indicator.BollingerBands{
				Upper:  decimal.NewFromInt(100),
				Middle: decimal.NewFromInt(95),
				Lower:  decimal.NewFromInt(90),
			},
		},
	}

	sig := s.GenerateSignal(ctx)
	require.Equal(t, model.SignalSell, sig.Action)
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.True(t, sig.StopLoss.Equal(decimal.NewFromFloat(107.1)))
	assert.True(t, sig.TakeProfit.Equal(decimal.NewFromInt(95)))
}

func TestGridInitLevelsSymmetric(t *testing.T) {
	g, err := NewGrid("g1", map[string]interface{}{"levels": 4, "centerPrice": 100.0})
	require.NoError(t, err)
	grid := g.(*Grid)
	require.Len(t, grid.levels, 4)
}

func TestSchedulerNonReentrancy(t *testing.T) {
	sched := New(nil, nil, func(pair model.Pair) (MarketContext, bool) {
		time.Sleep(50 * time.Millisecond)
		return MarketContext{Price: decimal.NewFromInt(1)}, true
	}, time.Hour)

	rec := &model.Strategy{ID: "s1", Pair: model.Pair("BTC/USD"), Params: map[string]interface{}{}}
	stratImpl, _ := NewMeanReversion("s1", nil)
	sched.Activate(&Entry{Record: rec, Strategy: stratImpl})

	var runs int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.runTick(context.Background())
			atomic.AddInt32(&runs, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), runs) // all calls return, but only one actually executes the build()
}
