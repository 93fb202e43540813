// Package optimize is the walk-forward parameter optimizer of
// spec.md §4.11. No teacher file implements walk-forward optimization
// directly; this is grounded on the strategy.Factory's tagged-variant
// construction (internal/marketmaking/strategies/factory/factory.go,
// shared via internal/strategy/factory.go) for Cartesian parameter-grid
// enumeration, and on the metrics vocabulary already present as
// BacktestResult fields in backtesting.go (SharpeRatio, MaxDrawdown,
// ProfitFactor, WinRate, CalmarRatio).
//
// The walk-forward split advances the test window by testSize while
// holding trainSize fixed, so consecutive splits' train windows
// overlap. This is retained as specified, not a bug: see spec.md §9 and
// DESIGN.md.
package optimize

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/backtest"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

// Config configures one walk-forward optimization run, per spec.md §4.11.
type Config struct {
	TrainRatio float64
	NSplits    int
	Metric     string
	MinTrades  int
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{TrainRatio: 0.7, NSplits: 3, Metric: "composite", MinTrades: 10}
}

// ParamGrid maps a parameter name to its candidate values; Cartesian
// product over all entries defines the search space.
type ParamGrid map[string][]interface{}

// Split is one walk-forward window: train is [StartIdx,TrainEnd), test
// is [TrainEnd,TestEnd).
type Split struct {
	StartIdx, TrainEnd, TestEnd int
}

// ComputeSplits derives the walk-forward windows for n candles, per
// spec.md §4.11: splitSize=floor(n/nSplits), trainSize=floor(splitSize*
// trainRatio), testSize=splitSize-trainSize; split i starts at
// i*testSize.
func ComputeSplits(n int, cfg Config) []Split {
	if cfg.NSplits <= 0 || n <= 0 {
		return nil
	}
	splitSize := n / cfg.NSplits
	trainSize := int(float64(splitSize) * cfg.TrainRatio)
	testSize := splitSize - trainSize
	if trainSize <= 0 || testSize <= 0 {
		return nil
	}
	splits := make([]Split, 0, cfg.NSplits)
	for i := 0; i < cfg.NSplits; i++ {
		startIdx := i * testSize
		trainEnd := startIdx + trainSize
		testEnd := trainEnd + testSize
		if testEnd > n {
			break
		}
		splits = append(splits, Split{StartIdx: startIdx, TrainEnd: trainEnd, TestEnd: testEnd})
	}
	return splits
}

// CartesianProduct enumerates every combination of grid's parameter
// values as param maps, for the factory to instantiate.
func CartesianProduct(grid ParamGrid) []map[string]interface{} {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	if len(names) == 0 {
		return []map[string]interface{}{{}}
	}
	var out []map[string]interface{}
	var rec func(idx int, cur map[string]interface{})
	rec = func(idx int, cur map[string]interface{}) {
		if idx == len(names) {
			cp := make(map[string]interface{}, len(cur))
			for k, v := range cur {
				cp[k] = v
			}
			out = append(out, cp)
			return
		}
		name := names[idx]
		for _, v := range grid[name] {
			cur[name] = v
			rec(idx+1, cur)
		}
		delete(cur, name)
	}
	rec(0, map[string]interface{}{})
	return out
}

// CandidateResult is one parameter combination's score for a split.
type CandidateResult struct {
	Params  map[string]interface{}
	Score   decimal.Decimal
	Summary backtest.Summary
}

// SplitResult is one walk-forward split's outcome.
type SplitResult struct {
	Split       Split
	BestParams  map[string]interface{}
	TrainScore  decimal.Decimal
	TestScore   decimal.Decimal
	TestResult  backtest.Summary
	AllResults  []CandidateResult
}

// AggregateStats summarizes scores across all splits.
type AggregateStats struct {
	MeanTrain, StdTrain     float64
	MeanTest, StdTest       float64
	MinTest, MaxTest        float64
	Consistency             float64
	AvgTestTrades           float64
}

// Report is the optimizer's full output.
type Report struct {
	Splits          []SplitResult
	Aggregate       AggregateStats
	OverfitFlag     bool
	LowConsistency  bool
	LowTradeFreq    bool
}

// Optimizer runs walk-forward parameter search for one strategy type
// over one candle series.
type Optimizer struct {
	factory *strategy.Factory
	engine  *backtest.Engine
}

// New constructs an Optimizer sharing factory and engine with live
// execution, per spec.md §4.11.
func New(factory *strategy.Factory, engine *backtest.Engine) *Optimizer {
	return &Optimizer{factory: factory, engine: engine}
}

// Optimize runs the walk-forward search described in spec.md §4.11.
func (o *Optimizer) Optimize(typ model.StrategyType, pair model.Pair, candles []model.Candle, grid ParamGrid, btCfg backtest.Config, cfg Config) (*Report, error) {
	splits := ComputeSplits(len(candles), cfg)
	if len(splits) == 0 {
		return nil, fmt.Errorf("optimize: no valid splits for %d candles with nSplits=%d", len(candles), cfg.NSplits)
	}
	combos := CartesianProduct(grid)
	minTrades := cfg.MinTrades
	if len(candles) < 100 || len(combos) == 1 {
		minTrades = 1
	}

	var splitResults []SplitResult
	for _, sp := range splits {
		train := candles[sp.StartIdx:sp.TrainEnd]
		test := candles[sp.TrainEnd:sp.TestEnd]

		var results []CandidateResult
		var best *CandidateResult
		for _, params := range combos {
			strat, err := o.factory.Create(typ, "opt", params)
			if err != nil {
				return nil, err
			}
			res, err := o.engine.Run(strat, pair, train, btCfg)
			if err != nil {
				continue
			}
			if res.Summary.TotalTrades < minTrades {
				continue
			}
			score := decimal.NewFromFloat(Metric(cfg.Metric, res.Summary))
			cand := CandidateResult{Params: params, Score: score, Summary: res.Summary}
			results = append(results, cand)
			if best == nil || cand.Score.GreaterThan(best.Score) {
				b := cand
				best = &b
			}
		}
		if best == nil {
			continue
		}

		testStrat, err := o.factory.Create(typ, "opt-test", best.Params)
		if err != nil {
			return nil, err
		}
		testRes, err := o.engine.Run(testStrat, pair, test, btCfg)
		if err != nil {
			return nil, err
		}
		testScore := decimal.NewFromFloat(Metric(cfg.Metric, testRes.Summary))

		splitResults = append(splitResults, SplitResult{
			Split: sp, BestParams: best.Params, TrainScore: best.Score,
			TestScore: testScore, TestResult: testRes.Summary, AllResults: results,
		})
	}

	agg := aggregate(splitResults)
	report := &Report{
		Splits:    splitResults,
		Aggregate: agg,
	}
	report.OverfitFlag = agg.MeanTrain > 1.5*agg.MeanTest
	report.LowConsistency = agg.Consistency < 0.5
	report.LowTradeFreq = agg.AvgTestTrades < float64(cfg.MinTrades)
	return report, nil
}

// Metric computes one of the named scores from a backtest summary, per
// spec.md §4.11. "composite" blends the others with the spec's weights.
func Metric(name string, s backtest.Summary) float64 {
	sharpe, _ := s.SharpeRatio.Float64()
	totalReturn, _ := s.TotalReturnPct.Float64()
	profitFactor, _ := s.ProfitFactor.Float64()
	winRate, _ := s.WinRate.Float64()
	maxDDPct, _ := s.MaxDrawdownPct.Float64()

	calmar := 0.0
	if maxDDPct != 0 {
		calmar = totalReturn / maxDDPct
	}

	switch name {
	case "sharpeRatio":
		return sharpe
	case "totalReturn":
		return totalReturn
	case "profitFactor":
		return profitFactor
	case "winRate":
		return winRate
	case "calmarRatio":
		return calmar
	default: // "composite"
		return 0.3*sharpe + 0.25*totalReturn + 0.2*profitFactor + 0.15*winRate - 0.1*maxDDPct
	}
}

func aggregate(splits []SplitResult) AggregateStats {
	if len(splits) == 0 {
		return AggregateStats{}
	}
	trainScores := make([]float64, len(splits))
	testScores := make([]float64, len(splits))
	totalTestTrades := 0
	for i, sp := range splits {
		trainScores[i], _ = sp.TrainScore.Float64()
		testScores[i], _ = sp.TestScore.Float64()
		totalTestTrades += sp.TestResult.TotalTrades
	}

	meanTrain, stdTrain := meanStd(trainScores)
	meanTest, stdTest := meanStd(testScores)
	minTest, maxTest := testScores[0], testScores[0]
	for _, v := range testScores {
		if v < minTest {
			minTest = v
		}
		if v > maxTest {
			maxTest = v
		}
	}

	consistency := 0.0
	if meanTest > 0 {
		consistency = math.Max(0, 1-stdTest/meanTest)
	}

	return AggregateStats{
		MeanTrain: meanTrain, StdTrain: stdTrain,
		MeanTest: meanTest, StdTest: stdTest,
		MinTest: minTest, MaxTest: maxTest,
		Consistency:   consistency,
		AvgTestTrades: float64(totalTestTrades) / float64(len(splits)),
	}
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return mean, math.Sqrt(variance)
}
