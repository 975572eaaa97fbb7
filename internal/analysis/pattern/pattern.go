// Package pattern classifies candles against candlestick pattern rules.
// Detection is pure and stateless beyond the supplied lookback window; all
// geometry uses exact decimal ratios, never floats.
package pattern

import (
	"github.com/shopspring/decimal"

	"fathom/internal/market"
)

// Tag identifies one detected candlestick pattern.
type Tag string

const (
	Doji             Tag = "doji"
	Hammer           Tag = "hammer"
	InvertedHammer   Tag = "inverted_hammer"
	HangingMan       Tag = "hanging_man"
	ShootingStar     Tag = "shooting_star"
	BullishEngulfing Tag = "bullish_engulfing"
	BearishEngulfing Tag = "bearish_engulfing"
	BullishHarami    Tag = "bullish_harami"
	BearishHarami    Tag = "bearish_harami"
	MorningStar      Tag = "morning_star"
	EveningStar      Tag = "evening_star"
)

// Fixed ratio thresholds. Applied via decimal mul/div so results are bit-exact
// across platforms.
var (
	ratioTwo    = decimal.NewFromInt(2)
	ratioHalf   = decimal.New(5, -1)  // 0.5
	ratioTenth  = decimal.New(1, -1)  // 0.1
	ratioThird  = decimal.New(3, -1)  // 0.3
	ratioSixty  = decimal.New(6, -1)  // 0.6
	ratioThreeT = decimal.New(25, -2) // 0.25
)

// Detect classifies the last candle of the window. The two preceding candles,
// when present, feed the multi-candle rules; multiple tags may match at once.
func Detect(window []market.Candle) []Tag {
	if len(window) == 0 {
		return nil
	}
	cur := window[len(window)-1]
	var prev, prev2 market.Candle
	hasPrev := len(window) >= 2
	hasPrev2 := len(window) >= 3
	if hasPrev {
		prev = window[len(window)-2]
	}
	if hasPrev2 {
		prev2 = window[len(window)-3]
	}

	var tags []Tag
	add := func(ok bool, t Tag) {
		if ok {
			tags = append(tags, t)
		}
	}

	add(isDoji(cur), Doji)
	add(isHammerShape(cur) && hasPrev && prev.Bearish(), Hammer)
	add(isHammerShape(cur) && hasPrev && prev.Bullish(), HangingMan)
	add(isInvertedHammerShape(cur) && hasPrev && prev.Bearish(), InvertedHammer)
	add(isInvertedHammerShape(cur) && hasPrev && prev.Bullish(), ShootingStar)
	if hasPrev {
		add(isBullishEngulfing(prev, cur), BullishEngulfing)
		add(isBearishEngulfing(prev, cur), BearishEngulfing)
		add(isBullishHarami(prev, cur), BullishHarami)
		add(isBearishHarami(prev, cur), BearishHarami)
	}
	if hasPrev2 {
		add(isMorningStar(prev2, prev, cur), MorningStar)
		add(isEveningStar(prev2, prev, cur), EveningStar)
	}
	return tags
}

// isDoji: body within 10% of the full range.
func isDoji(c market.Candle) bool {
	rng := c.Range()
	if rng.IsZero() {
		return false
	}
	return c.Body().LessThanOrEqual(rng.Mul(ratioTenth))
}

// isHammerShape: lower shadow at least twice the body, upper shadow at most
// half the body, body in the upper part of the range.
func isHammerShape(c market.Candle) bool {
	body := c.Body()
	if body.IsZero() {
		return false
	}
	return c.LowerShadow().GreaterThanOrEqual(body.Mul(ratioTwo)) &&
		c.UpperShadow().LessThanOrEqual(body.Mul(ratioHalf))
}

// isInvertedHammerShape is the upside-down hammer geometry.
func isInvertedHammerShape(c market.Candle) bool {
	body := c.Body()
	if body.IsZero() {
		return false
	}
	return c.UpperShadow().GreaterThanOrEqual(body.Mul(ratioTwo)) &&
		c.LowerShadow().LessThanOrEqual(body.Mul(ratioHalf))
}

// isBullishEngulfing: bearish candle followed by a bullish one whose body
// fully contains the previous body.
func isBullishEngulfing(prev, cur market.Candle) bool {
	return prev.Bearish() && cur.Bullish() &&
		cur.Open.LessThanOrEqual(prev.Close) &&
		cur.Close.GreaterThanOrEqual(prev.Open) &&
		cur.Body().GreaterThan(prev.Body())
}

func isBearishEngulfing(prev, cur market.Candle) bool {
	return prev.Bullish() && cur.Bearish() &&
		cur.Open.GreaterThanOrEqual(prev.Close) &&
		cur.Close.LessThanOrEqual(prev.Open) &&
		cur.Body().GreaterThan(prev.Body())
}

// isBullishHarami: small bullish body inside the previous large bearish body.
func isBullishHarami(prev, cur market.Candle) bool {
	return prev.Bearish() && cur.Bullish() &&
		cur.Open.GreaterThanOrEqual(prev.Close) &&
		cur.Close.LessThanOrEqual(prev.Open) &&
		cur.Body().LessThanOrEqual(prev.Body().Mul(ratioSixty))
}

func isBearishHarami(prev, cur market.Candle) bool {
	return prev.Bullish() && cur.Bearish() &&
		cur.Open.LessThanOrEqual(prev.Close) &&
		cur.Close.GreaterThanOrEqual(prev.Open) &&
		cur.Body().LessThanOrEqual(prev.Body().Mul(ratioSixty))
}

// isMorningStar: large bearish candle, small-bodied middle candle, bullish
// candle closing above the midpoint of the first body.
func isMorningStar(first, middle, last market.Candle) bool {
	if !first.Bearish() || !last.Bullish() {
		return false
	}
	if middle.Body().GreaterThan(first.Body().Mul(ratioThird)) {
		return false
	}
	if last.Body().LessThan(first.Body().Mul(ratioThreeT)) {
		return false
	}
	midpoint := first.Open.Add(first.Close).Div(ratioTwo)
	return last.Close.GreaterThan(midpoint)
}

func isEveningStar(first, middle, last market.Candle) bool {
	if !first.Bullish() || !last.Bearish() {
		return false
	}
	if middle.Body().GreaterThan(first.Body().Mul(ratioThird)) {
		return false
	}
	if last.Body().LessThan(first.Body().Mul(ratioThreeT)) {
		return false
	}
	midpoint := first.Open.Add(first.Close).Div(ratioTwo)
	return last.Close.LessThan(midpoint)
}
