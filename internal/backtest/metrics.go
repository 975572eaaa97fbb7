package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"fathom/internal/market"
	"fathom/internal/portfolio"
)

// Metrics summarizes one run. Money figures are decimals; the ratio
// statistics (sharpe, win rate) are derived from floats since they feed
// comparisons, not bookkeeping.
type Metrics struct {
	TotalReturnPct decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    decimal.Decimal
	ProfitFactor   decimal.Decimal

	WinRate       decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
}

var metricsHundred = decimal.NewFromInt(100)

// ComputeMetrics derives the run statistics from the equity curve and the
// closed positions. Sharpe uses per-bar simple returns, sample standard
// deviation, zero risk-free rate, annualized by the bar count of one year.
func ComputeMetrics(initial decimal.Decimal, equity []EquityPoint, positions []portfolio.Position, timeframe string) Metrics {
	var m Metrics

	if initial.IsPositive() && len(equity) > 0 {
		final := equity[len(equity)-1].Equity
		m.TotalReturnPct = final.Sub(initial).Div(initial).Mul(metricsHundred)
	}
	m.MaxDrawdownPct = maxDrawdownPct(initial, equity)
	m.SharpeRatio = sharpe(equity, timeframe)

	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	for _, pos := range positions {
		m.TotalTrades++
		if pos.PnL.IsPositive() {
			m.WinningTrades++
			grossWin = grossWin.Add(pos.PnL)
		} else {
			m.LosingTrades++
			grossLoss = grossLoss.Add(pos.PnL.Abs())
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(metricsHundred)
	}
	if grossLoss.IsPositive() {
		m.ProfitFactor = grossWin.Div(grossLoss)
	}
	return m
}

// maxDrawdownPct walks the curve tracking the running peak. The initial
// equity seeds the peak so a curve that only falls still reports a drawdown.
func maxDrawdownPct(initial decimal.Decimal, equity []EquityPoint) decimal.Decimal {
	peak := initial
	maxDD := decimal.Zero
	for _, pt := range equity {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(pt.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.Mul(metricsHundred)
}

func sharpe(equity []EquityPoint, timeframe string) decimal.Decimal {
	if len(equity) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity.InexactFloat64()
		cur := equity[i].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return decimal.Zero
	}

	annualize := 1.0
	if tf, err := market.ParseTimeframe(timeframe); err == nil {
		annualize = math.Sqrt(tf.PeriodsPerYear())
	}
	ratio := mean / std * annualize
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(ratio)
}
