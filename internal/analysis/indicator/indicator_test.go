package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fathom/internal/market"
)

func windowOf(closes ...float64) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, 0, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out = append(out, market.Candle{
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return out
}

func TestComputeSMA(t *testing.T) {
	p := NewTalibProvider()
	spec := Spec{Name: "sma_3", Kind: "sma", Params: map[string]int{"period": 3}}

	v, err := p.Compute(context.Background(), spec, windowOf(1, 2, 3, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, "sma_3", v.Name)
	assert.False(t, v.IsComposite())
	assert.InDelta(t, 4.0, v.Scalar.InexactFloat64(), 1e-9, "mean of the last three closes")
}

func TestComputeRSIAllGains(t *testing.T) {
	p := NewTalibProvider()
	spec := Spec{Name: "rsi_3", Kind: "rsi", Params: map[string]int{"period": 3}}

	v, err := p.Compute(context.Background(), spec, windowOf(1, 2, 3, 4, 5, 6, 7, 8))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v.Scalar.InexactFloat64(), 1e-9, "monotone rise pins RSI at 100")
}

func TestComputeBBandsFlatSeries(t *testing.T) {
	p := NewTalibProvider()
	spec := Spec{Name: "bb", Kind: "bbands", Params: map[string]int{"period": 5}}

	v, err := p.Compute(context.Background(), spec, windowOf(100, 100, 100, 100, 100, 100))
	require.NoError(t, err)
	require.True(t, v.IsComposite())
	for _, name := range []string{"upper", "middle", "lower"} {
		d, ok := v.Component(name)
		require.True(t, ok, name)
		assert.InDelta(t, 100.0, d.InexactFloat64(), 1e-9, "zero deviation collapses band %s", name)
	}
}

func TestComputeMACDHasAllComponents(t *testing.T) {
	p := NewTalibProvider()
	spec := Spec{Name: "macd", Kind: "macd", Params: map[string]int{"fast": 3, "slow": 6, "signal": 2}}

	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	v, err := p.Compute(context.Background(), spec, windowOf(closes...))
	require.NoError(t, err)
	require.True(t, v.IsComposite())
	for _, name := range []string{"macd", "signal", "histogram"} {
		_, ok := v.Component(name)
		assert.True(t, ok, "component %s", name)
	}
	_, ok := v.Component("")
	assert.False(t, ok, "composite has no bare scalar read")
}

func TestComputeShortWindow(t *testing.T) {
	p := NewTalibProvider()
	spec := Spec{Name: "sma_20", Kind: "sma"} // default period 20

	_, err := p.Compute(context.Background(), spec, windowOf(1, 2, 3))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestComputeUnknownKind(t *testing.T) {
	p := NewTalibProvider()

	_, err := p.Compute(context.Background(), Spec{Name: "x", Kind: "vwap"}, windowOf(1, 2, 3))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

func TestWarmupCatalog(t *testing.T) {
	cases := []struct {
		spec Spec
		want int
	}{
		{Spec{Kind: "sma", Params: map[string]int{"period": 10}}, 10},
		{Spec{Kind: "sma"}, 20},
		{Spec{Kind: "ema", Params: map[string]int{"period": 10}}, 20},
		{Spec{Kind: "rsi", Params: map[string]int{"period": 14}}, 15},
		{Spec{Kind: "macd"}, 35},
		{Spec{Kind: "stoch"}, 20},
	}
	for _, tc := range cases {
		got, ok := Warmup(tc.spec)
		require.True(t, ok, tc.spec.Kind)
		assert.Equal(t, tc.want, got, tc.spec.Kind)
	}

	_, ok := Warmup(Spec{Kind: "vwap"})
	assert.False(t, ok)
	assert.True(t, KnownKind("bbands"))
	assert.False(t, KnownKind("vwap"))
}

func TestScalarComponentRead(t *testing.T) {
	v := Value{Name: "rsi", Scalar: decimal.NewFromInt(55)}
	d, ok := v.Component("")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(55)))

	_, ok = v.Component("signal")
	assert.False(t, ok, "scalar has no named components")
}
