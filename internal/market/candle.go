// Package market holds candle data types shared by the live engine and the
// backtester. Prices are exact decimals end to end; float64 only appears at
// the indicator-math boundary.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket. Immutable once produced by a feed.
type Candle struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Body returns |close-open|.
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// Range returns high-low.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// UpperShadow returns high minus the top of the body.
func (c Candle) UpperShadow() decimal.Decimal {
	top := c.Open
	if c.Close.GreaterThan(top) {
		top = c.Close
	}
	return c.High.Sub(top)
}

// LowerShadow returns the bottom of the body minus low.
func (c Candle) LowerShadow() decimal.Decimal {
	bottom := c.Open
	if c.Close.LessThan(bottom) {
		bottom = c.Close
	}
	return bottom.Sub(c.Low)
}

// Bullish reports close > open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Bearish reports close < open.
func (c Candle) Bearish() bool {
	return c.Close.LessThan(c.Open)
}

// Closes extracts close prices as float64 for indicator math.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

// Highs extracts high prices as float64 for indicator math.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.High.Float64()
	}
	return out
}

// Lows extracts low prices as float64 for indicator math.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Low.Float64()
	}
	return out
}
