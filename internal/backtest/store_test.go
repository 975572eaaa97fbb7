package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fathom/internal/portfolio"
)

func openResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleResult(id string) *Result {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Result{
		ID:            id,
		StrategyID:    "cross-test",
		Symbol:        "BTCUSDT",
		Timeframe:     "1h",
		Start:         start,
		End:           start.Add(3 * time.Hour),
		Bars:          4,
		InitialEquity: decimal.NewFromInt(10000),
		FinalEquity:   decimal.RequireFromString("10020.5"),
		Rejected:      1,
		Metrics: Metrics{
			TotalReturnPct: decimal.RequireFromString("0.205"),
			MaxDrawdownPct: decimal.RequireFromString("1.5"),
			SharpeRatio:    decimal.RequireFromString("0.9123"),
			ProfitFactor:   decimal.RequireFromString("2.6667"),
			WinRate:        decimal.NewFromInt(50),
			TotalTrades:    2,
			WinningTrades:  1,
			LosingTrades:   1,
		},
		Equity: []EquityPoint{
			{Time: start, Equity: decimal.NewFromInt(10000)},
			{Time: start.Add(time.Hour), Equity: decimal.RequireFromString("10010.25")},
			{Time: start.Add(2 * time.Hour), Equity: decimal.RequireFromString("10020.5")},
		},
		Trades: []portfolio.Trade{
			{
				ID:          id + "-t1",
				PositionID:  "pos-1",
				Direction:   portfolio.Long,
				SignalType:  portfolio.SignalEntry,
				Quantity:    decimal.NewFromInt(1),
				Price:       decimal.NewFromInt(100),
				Commission:  decimal.RequireFromString("0.1"),
				RealizedPnL: decimal.Zero,
				ExecutedAt:  start.Add(time.Hour),
			},
			{
				ID:         id + "-t2",
				Direction:  portfolio.Long,
				SignalType: portfolio.SignalEntry,
				Quantity:   decimal.NewFromInt(1),
				Price:      decimal.NewFromInt(100),
				ExecutedAt: start.Add(2 * time.Hour),
				Failed:     true,
				Note:       "max_position_size_exceeded",
			},
		},
	}
}

func TestResultStoreRoundTrip(t *testing.T) {
	store := openResultStore(t)
	ctx := context.Background()
	res := sampleResult("run-1")

	require.NoError(t, store.SaveResult(ctx, res))

	sum, err := store.GetSummary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "cross-test", sum.StrategyID)
	assert.Equal(t, "BTCUSDT", sum.Symbol)
	assert.Equal(t, "1h", sum.Timeframe)
	assert.Equal(t, 4, sum.Bars)
	assert.Equal(t, 1, sum.Rejected)
	assert.True(t, res.Start.Equal(sum.Start))
	assert.True(t, res.End.Equal(sum.End))
	assert.True(t, sum.FinalEquity.Equal(decimal.RequireFromString("10020.5")), "equity survives exactly")
	assert.True(t, sum.Metrics.ProfitFactor.Equal(decimal.RequireFromString("2.6667")))
	assert.True(t, sum.Metrics.SharpeRatio.Equal(decimal.RequireFromString("0.9123")))
	assert.Equal(t, 2, sum.Metrics.TotalTrades)

	curve, err := store.EquityCurve(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, curve, 3)
	assert.True(t, res.Equity[0].Time.Equal(curve[0].Time))
	assert.True(t, curve[1].Equity.Equal(decimal.RequireFromString("10010.25")))
	assert.True(t, curve[2].Equity.Equal(decimal.RequireFromString("10020.5")))
}

func TestResultStoreListSummariesNewestFirst(t *testing.T) {
	store := openResultStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveResult(ctx, sampleResult("run-a")))
	// created_at has millisecond resolution; make the second insert later.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.SaveResult(ctx, sampleResult("run-b")))

	sums, err := store.ListSummaries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "run-b", sums[0].ID)
	assert.Equal(t, "run-a", sums[1].ID)
}

func TestResultStoreRejectsNilResult(t *testing.T) {
	store := openResultStore(t)
	require.Error(t, store.SaveResult(context.Background(), nil))
}

func TestResultStoreGetSummaryMissing(t *testing.T) {
	store := openResultStore(t)
	_, err := store.GetSummary(context.Background(), "nope")
	require.Error(t, err)
}
