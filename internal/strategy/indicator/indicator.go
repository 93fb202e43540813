// Package indicator computes the technical indicators marketCtx exposes
// per spec.md §4.5: SMA, EMA, RSI (Wilder), Bollinger Bands. The teacher
// computes ad-hoc volatility/VWAP inline in its market-making
// strategies; this factors the math out into an independently-tested
// package, as the spec's strategy contract requires.
package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA is the arithmetic mean of the last n closes. Returns false if
// fewer than n values are available.
func SMA(closes []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if len(closes) < n || n <= 0 {
		return decimal.Zero, false
	}
	window := closes[len(closes)-n:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

// EMA computes the exponential moving average series with smoothing
// factor alpha=2/(n+1), seeded by the SMA of the first n values, per
// spec.md §4.5. Returns the final EMA value.
func EMA(closes []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if len(closes) < n || n <= 0 {
		return decimal.Zero, false
	}
	seed, ok := SMA(closes[:n], n)
	if !ok {
		return decimal.Zero, false
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(n + 1)))
	ema := seed
	for _, c := range closes[n:] {
		ema = c.Sub(ema).Mul(alpha).Add(ema)
	}
	return ema, true
}

// EMASeries returns the full EMA series aligned to closes[n-1:], for
// callers (e.g. momentum) that need the running value at each step.
func EMASeries(closes []decimal.Decimal, n int) ([]decimal.Decimal, bool) {
	if len(closes) < n || n <= 0 {
		return nil, false
	}
	seed, ok := SMA(closes[:n], n)
	if !ok {
		return nil, false
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(n + 1)))
	out := make([]decimal.Decimal, 0, len(closes)-n+1)
	ema := seed
	out = append(out, ema)
	for _, c := range closes[n:] {
		ema = c.Sub(ema).Mul(alpha).Add(ema)
		out = append(out, ema)
	}
	return out, true
}

// RSI computes the Wilder relative strength index over the last n
// periods.
func RSI(closes []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if len(closes) < n+1 || n <= 0 {
		return decimal.Zero, false
	}
	start := len(closes) - n - 1
	window := closes[start:]

	gainSum, lossSum := decimal.Zero, decimal.Zero
	for i := 1; i < len(window); i++ {
		delta := window[i].Sub(window[i-1])
		if delta.IsPositive() {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Abs())
		}
	}
	avgGain := gainSum.Div(decimal.NewFromInt(int64(n)))
	avgLoss := lossSum.Div(decimal.NewFromInt(int64(n)))

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100), true
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return rsi, true
}

// BollingerBands is the {upper,middle,lower} band triple.
type BollingerBands struct {
	Upper, Middle, Lower decimal.Decimal
}

// Bollinger computes bands over the last n closes with width
// stdDev*sigma, middle=SMA(n).
func Bollinger(closes []decimal.Decimal, n int, sigma decimal.Decimal) (BollingerBands, bool) {
	mean, ok := SMA(closes, n)
	if !ok {
		return BollingerBands{}, false
	}
	window := closes[len(closes)-n:]

	variance := decimal.Zero
	for _, c := range window {
		diff := c.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))
	stdDev := sqrtDecimal(variance)
	width := stdDev.Mul(sigma)

	return BollingerBands{
		Upper:  mean.Add(width),
		Middle: mean,
		Lower:  mean.Sub(width),
	}, true
}

// sqrtDecimal uses Newton's method since shopspring/decimal has no
// built-in Sqrt in the version the teacher pins.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 40; i++ {
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}

// StdDevReturns computes the standard deviation of simple returns
// between consecutive closes, used by the backtest engine's dynamic
// slippage model.
func StdDevReturns(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) < 2 {
		return decimal.Zero
	}
	returns := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1].IsZero() {
			continue
		}
		returns = append(returns, closes[i].Sub(closes[i-1]).Div(closes[i-1]))
	}
	if len(returns) == 0 {
		return decimal.Zero
	}
	mean := decimal.Zero
	for _, r := range returns {
		mean = mean.Add(r)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(returns))))

	variance := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(returns))))
	return sqrtDecimal(variance)
}
