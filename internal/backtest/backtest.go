// Package backtest is the deterministic strategy replay engine of
// spec.md §4.10. Directly grounded on
// internal/marketmaking/marketmaker/backtesting.go and
// backtest_strategy_adapter.go — BacktestEngine, VirtualPortfolio,
// EquityPoint/DrawdownPoint, and the Sharpe/max-drawdown helpers are
// adapted from the teacher's skeleton (whose helper bodies were TODO
// stubs there) into a concrete execution model: slippage, taker-fee
// accounting, FIFO trade pairing, forced end-of-run close.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/strategy"
	"github.com/nexustrade/tradingcore/internal/strategy/indicator"
)

// SlippageModel selects how executed price deviates from the signal
// target price, per spec.md §4.10.
type SlippageModel string

const (
	SlippageNone    SlippageModel = "none"
	SlippageFixed   SlippageModel = "fixed"
	SlippageDynamic SlippageModel = "dynamic"
)

// Config configures one backtest run.
type Config struct {
	InitialBalance  decimal.Decimal
	SlippageModel   SlippageModel
	SlippageBps     decimal.Decimal
	TakerFee        decimal.Decimal
	IndicatorWindow int
}

// DefaultConfig returns spec.md §6's defaults: no slippage, 0.2% taker
// fee, 26-candle indicator window — the slowest indicator any built-in
// strategy reads is momentum's EMA26, so the window floor tracks that
// rather than Bollinger/RSI's shorter 20/14 lookbacks.
func DefaultConfig() Config {
	return Config{
		InitialBalance:  decimal.NewFromInt(10000),
		SlippageModel:   SlippageNone,
		SlippageBps:     decimal.NewFromInt(5),
		TakerFee:        decimal.NewFromFloat(0.002),
		IndicatorWindow: 26,
	}
}

// Trade is one executed fill in the backtest, with PnL populated once a
// sell has been FIFO-matched against prior buy lots.
type Trade struct {
	ID     string
	Pair   model.Pair
	Side   model.Side
	Amount decimal.Decimal
	Price  decimal.Decimal
	Fee    decimal.Decimal
	Ts     time.Time
	PnL    *decimal.Decimal
}

// EquityPoint is one sample of total equity (balance + marked holdings).
type EquityPoint struct {
	Ts     time.Time
	Equity decimal.Decimal
}

// DrawdownPoint is one sample of the running peak-to-trough drawdown.
type DrawdownPoint struct {
	Ts          time.Time
	Drawdown    decimal.Decimal
	DrawdownPct decimal.Decimal
}

// SignalPoint records a non-hold signal emitted during the run.
type SignalPoint struct {
	Ts     time.Time
	Signal model.Signal
}

// Summary is the backtest's top-line result shape, per spec.md §4.10.
type Summary struct {
	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	TotalReturnPct decimal.Decimal
	TotalTrades    int
	Winning        int
	Losing         int
	WinRate        decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal
	ProfitFactor   decimal.Decimal
	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    decimal.Decimal
	DurationMs     int64
}

// Result is the engine's full output.
type Result struct {
	Summary     Summary
	Trades      []Trade
	EquityCurve []EquityPoint
	Signals     []SignalPoint
	Drawdowns   []DrawdownPoint
}

type buyLot struct {
	amount, price decimal.Decimal
}

// Engine replays a strategy over a candle series with no access to
// wall-clock time or live venues, per spec.md §4.10.
type Engine struct {
	logger *zap.Logger
}

// New constructs an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("backtest")}
}

// Run replays strategy over candles for pair and returns the full
// result shape.
func (e *Engine) Run(strat strategy.Strategy, pair model.Pair, candles []model.Candle, cfg Config) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: no candles supplied")
	}
	window := cfg.IndicatorWindow
	if window <= 0 {
		window = 26
	}

	balance := cfg.InitialBalance
	holdings := decimal.Zero
	fifo := make([]buyLot, 0)

	var trades []Trade
	var equityCurve []EquityPoint
	var signals []SignalPoint
	var drawdowns []DrawdownPoint
	peak := cfg.InitialBalance

	for i, candle := range candles {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		recent := candles[start : i+1]
		closes := make([]decimal.Decimal, len(recent))
		for j, c := range recent {
			closes[j] = c.Close
		}

		mctx := strategy.MarketContext{
			Timestamp:     time.UnixMilli(candle.TimestampMs),
			Pair:          pair,
			Price:         candle.Close,
			Open:          candle.Open,
			High:          candle.High,
			Low:           candle.Low,
			Close:         candle.Close,
			Volume:        candle.Volume,
			RecentCandles: recent,
			Indicators:    strategy.BuildIndicators(closes),
		}

		sig := safeGenerateSignal(strat, mctx)
		if sig.Action != model.SignalHold {
			signals = append(signals, SignalPoint{Ts: mctx.Timestamp, Signal: sig})
			trade, err := e.executeSignal(&balance, &holdings, &fifo, pair, sig, candle, closes, cfg, mctx.Timestamp, len(trades))
			if err != nil {
				e.logger.Debug("signal skipped", zap.Error(err))
			} else if trade != nil {
				trades = append(trades, *trade)
			}
		}

		equity := balance.Add(holdings.Mul(candle.Close))
		equityCurve = append(equityCurve, EquityPoint{Ts: mctx.Timestamp, Equity: equity})

		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		ddPct := decimal.Zero
		if peak.IsPositive() {
			ddPct = dd.Div(peak).Mul(decimal.NewFromInt(100))
		}
		drawdowns = append(drawdowns, DrawdownPoint{Ts: mctx.Timestamp, Drawdown: dd, DrawdownPct: ddPct})
	}

	last := candles[len(candles)-1]
	if holdings.IsPositive() {
		closeTrade, err := e.forceClose(&balance, &holdings, &fifo, pair, last.Close, cfg, time.UnixMilli(last.TimestampMs), len(trades))
		if err == nil && closeTrade != nil {
			trades = append(trades, *closeTrade)
			if len(equityCurve) > 0 {
				equityCurve[len(equityCurve)-1].Equity = balance
			}
		}
	}

	summary := summarize(cfg.InitialBalance, balance, trades, equityCurve, drawdowns, candles)
	return &Result{Summary: summary, Trades: trades, EquityCurve: equityCurve, Signals: signals, Drawdowns: drawdowns}, nil
}

func safeGenerateSignal(strat strategy.Strategy, ctx strategy.MarketContext) model.Signal {
	defer func() { recover() }()
	return strat.GenerateSignal(ctx)
}

// executeSignal applies spec.md §4.10's execution model: amount
// normalization, adverse slippage, symmetric taker fee, and
// insufficient-balance/holdings skip.
func (e *Engine) executeSignal(balance, holdings *decimal.Decimal, fifo *[]buyLot, pair model.Pair, sig model.Signal, candle model.Candle, closes []decimal.Decimal, cfg Config, ts time.Time, seq int) (*Trade, error) {
	target := candle.Close
	if !sig.Price.IsZero() {
		target = sig.Price
	}

	slip := e.slippage(cfg, closes)
	var exec decimal.Decimal
	switch sig.Action {
	case model.SignalBuy:
		exec = target.Mul(decimal.NewFromInt(1).Add(slip))
	case model.SignalSell:
		exec = target.Mul(decimal.NewFromInt(1).Sub(slip))
	default:
		return nil, fmt.Errorf("not a tradeable action")
	}

	amount := sig.Amount
	if amount.IsZero() {
		amount = decimal.NewFromFloat(0.1)
	}
	if amount.IsPositive() && amount.LessThanOrEqual(decimal.NewFromInt(1)) {
		amount = balance.Mul(amount).Div(exec)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("non-positive amount")
	}

	fee := amount.Mul(exec).Mul(cfg.TakerFee)

	switch sig.Action {
	case model.SignalBuy:
		cost := amount.Mul(exec).Add(fee)
		if cost.GreaterThan(*balance) {
			return nil, fmt.Errorf("insufficient balance for buy")
		}
		*balance = balance.Sub(cost)
		*holdings = holdings.Add(amount)
		*fifo = append(*fifo, buyLot{amount: amount, price: exec})
		return &Trade{ID: tradeID(pair, ts, seq), Pair: pair, Side: model.SideBuy, Amount: amount, Price: exec, Fee: fee, Ts: ts}, nil

	case model.SignalSell:
		if amount.GreaterThan(*holdings) {
			return nil, fmt.Errorf("insufficient holdings for sell")
		}
		proceeds := amount.Mul(exec).Sub(fee)
		*balance = balance.Add(proceeds)
		*holdings = holdings.Sub(amount)
		avgEntry := matchFIFO(fifo, amount)
		pnl := amount.Mul(exec.Sub(avgEntry))
		return &Trade{ID: tradeID(pair, ts, seq), Pair: pair, Side: model.SideSell, Amount: amount, Price: exec, Fee: fee, Ts: ts, PnL: &pnl}, nil
	}
	return nil, fmt.Errorf("unreachable")
}

// forceClose liquidates all remaining holdings at closePrice with no
// slippage, applying the same taker fee, at end-of-run.
func (e *Engine) forceClose(balance, holdings *decimal.Decimal, fifo *[]buyLot, pair model.Pair, closePrice decimal.Decimal, cfg Config, ts time.Time, seq int) (*Trade, error) {
	amount := *holdings
	if !amount.IsPositive() {
		return nil, nil
	}
	fee := amount.Mul(closePrice).Mul(cfg.TakerFee)
	proceeds := amount.Mul(closePrice).Sub(fee)
	*balance = balance.Add(proceeds)
	*holdings = decimal.Zero
	avgEntry := matchFIFO(fifo, amount)
	pnl := amount.Mul(closePrice.Sub(avgEntry))
	return &Trade{ID: tradeID(pair, ts, seq), Pair: pair, Side: model.SideSell, Amount: amount, Price: closePrice, Fee: fee, Ts: ts, PnL: &pnl}, nil
}

// tradeID deterministically identifies a trade by pair, timestamp and
// its position in the run's trade sequence, preserving spec.md §8's
// deterministic-replay property (same inputs, same output, ID
// included) instead of a random UUID.
func tradeID(pair model.Pair, ts time.Time, seq int) string {
	return fmt.Sprintf("%s:%d:%d", pair, ts.UnixMilli(), seq)
}

func (e *Engine) slippage(cfg Config, closes []decimal.Decimal) decimal.Decimal {
	switch cfg.SlippageModel {
	case SlippageFixed:
		return cfg.SlippageBps.Div(decimal.NewFromInt(10000))
	case SlippageDynamic:
		vol := indicator.StdDevReturns(closes)
		base := cfg.SlippageBps.Div(decimal.NewFromInt(10000))
		return base.Mul(decimal.NewFromInt(1).Add(vol))
	default:
		return decimal.Zero
	}
}

// matchFIFO pairs amount against the oldest unmatched buy lots,
// returning the weighted-average entry price of the matched portion,
// per spec.md §4.10's "match each sell to its prior unmatched buy
// (FIFO)".
func matchFIFO(fifo *[]buyLot, amount decimal.Decimal) decimal.Decimal {
	remaining := amount
	cost := decimal.Zero
	queue := *fifo
	i := 0
	for remaining.IsPositive() && i < len(queue) {
		lot := &queue[i]
		if lot.amount.LessThanOrEqual(remaining) {
			cost = cost.Add(lot.amount.Mul(lot.price))
			remaining = remaining.Sub(lot.amount)
			i++
		} else {
			cost = cost.Add(remaining.Mul(lot.price))
			lot.amount = lot.amount.Sub(remaining)
			remaining = decimal.Zero
		}
	}
	*fifo = queue[i:]
	matched := amount.Sub(remaining)
	if matched.IsZero() {
		return decimal.Zero
	}
	return cost.Div(matched)
}

func summarize(initial, final decimal.Decimal, trades []Trade, equityCurve []EquityPoint, drawdowns []DrawdownPoint, candles []model.Candle) Summary {
	s := Summary{InitialBalance: initial, FinalBalance: final}
	if initial.IsPositive() {
		s.TotalReturnPct = final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100))
	}

	var winSum, lossSum decimal.Decimal
	for _, tr := range trades {
		if tr.PnL == nil {
			continue
		}
		s.TotalTrades++
		if tr.PnL.IsPositive() {
			s.Winning++
			winSum = winSum.Add(*tr.PnL)
		} else if tr.PnL.IsNegative() {
			s.Losing++
			lossSum = lossSum.Add(*tr.PnL)
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Winning)).Div(decimal.NewFromInt(int64(s.TotalTrades))).Mul(decimal.NewFromInt(100))
	}
	if s.Winning > 0 {
		s.AvgWin = winSum.Div(decimal.NewFromInt(int64(s.Winning)))
	}
	if s.Losing > 0 {
		s.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(s.Losing)))
	}
	if !lossSum.IsZero() {
		s.ProfitFactor = winSum.Div(lossSum.Abs())
	}

	for _, dd := range drawdowns {
		if dd.Drawdown.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd.Drawdown
		}
		if dd.DrawdownPct.GreaterThan(s.MaxDrawdownPct) {
			s.MaxDrawdownPct = dd.DrawdownPct
		}
	}

	s.SharpeRatio = decimal.NewFromFloat(sharpeRatio(equityCurve))

	if len(candles) > 1 {
		s.DurationMs = candles[len(candles)-1].TimestampMs - candles[0].TimestampMs
	}
	return s
}

// sharpeRatio is annualized with factor sqrt(252) from per-step
// percentage returns of total equity, per spec.md §4.10. Computed in
// float64 to match the teacher's calculateSharpeRatio/
// calculateVolatility helpers in backtesting.go.
func sharpeRatio(equityCurve []EquityPoint) float64 {
	if len(equityCurve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev, _ := equityCurve[i-1].Equity.Float64()
		cur, _ := equityCurve[i].Equity.Float64()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean / std) * math.Sqrt(252)
}
