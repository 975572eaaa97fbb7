package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fathom/internal/portfolio"
)

func curve(values ...string) []EquityPoint {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Equity: dec(v)}
	}
	return out
}

func closedPos(pnl string) portfolio.Position {
	return portfolio.Position{Status: portfolio.StatusClosed, PnL: dec(pnl)}
}

func TestComputeMetricsTotals(t *testing.T) {
	positions := []portfolio.Position{
		closedPos("100"), closedPos("-40"), closedPos("60"), closedPos("-20"),
	}
	m := ComputeMetrics(dec("10000"), curve("10000", "10100", "10060", "10120", "10100"), positions, "1h")

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.True(t, m.WinRate.Equal(dec("50")))
	// gross win 160 / gross loss 60
	assert.True(t, m.ProfitFactor.Round(4).Equal(dec("2.6667")), "profit factor %s", m.ProfitFactor)
	assert.True(t, m.TotalReturnPct.Equal(dec("1")))
}

func TestMaxDrawdownFromInitialPeak(t *testing.T) {
	// a curve that only falls still reports a drawdown because the initial
	// equity seeds the peak
	m := ComputeMetrics(dec("10000"), curve("9800", "9500", "9000"), nil, "1h")
	assert.True(t, m.MaxDrawdownPct.Equal(dec("10")), "drawdown %s", m.MaxDrawdownPct)
}

func TestMaxDrawdownTracksRunningPeak(t *testing.T) {
	// peak 12000, trough 9600: 20%
	m := ComputeMetrics(dec("10000"), curve("11000", "12000", "9600", "10000"), nil, "1h")
	assert.True(t, m.MaxDrawdownPct.Equal(dec("20")))
}

func TestSharpeZeroForFlatCurve(t *testing.T) {
	m := ComputeMetrics(dec("10000"), curve("10000", "10000", "10000", "10000"), nil, "1h")
	assert.True(t, m.SharpeRatio.IsZero(), "flat curve has zero volatility, sharpe must be 0 not NaN")
}

func TestSharpePositiveForRisingCurve(t *testing.T) {
	m := ComputeMetrics(dec("10000"), curve("10000", "10100", "10150", "10300", "10320"), nil, "1h")
	assert.True(t, m.SharpeRatio.IsPositive(), "sharpe %s", m.SharpeRatio)
}

func TestSharpeNeedsEnoughSamples(t *testing.T) {
	m := ComputeMetrics(dec("10000"), curve("10000", "10100"), nil, "1h")
	assert.True(t, m.SharpeRatio.IsZero())
}

func TestMetricsEmptyInputs(t *testing.T) {
	m := ComputeMetrics(decimal.Zero, nil, nil, "1h")
	assert.True(t, m.TotalReturnPct.IsZero())
	assert.True(t, m.MaxDrawdownPct.IsZero())
	assert.True(t, m.SharpeRatio.IsZero())
	assert.Equal(t, 0, m.TotalTrades)
	assert.True(t, m.WinRate.IsZero())
	assert.True(t, m.ProfitFactor.IsZero())
}
