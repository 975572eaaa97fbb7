package market

// Series is a rolling, append-only candle window. The engine keeps one per
// session and trims it to a fixed capacity so long-lived sessions stay bounded.
type Series struct {
	candles []Candle
	maxLen  int
}

// NewSeries returns a Series that retains at most maxLen candles. maxLen <= 0
// means unbounded (backtests slice the historical data directly instead).
func NewSeries(maxLen int) *Series {
	return &Series{maxLen: maxLen}
}

// Append adds a candle. Out-of-order candles (timestamp not after the last
// one) replace the final entry, matching how exchanges restate the forming bar.
func (s *Series) Append(c Candle) {
	n := len(s.candles)
	if n > 0 && !c.Timestamp.After(s.candles[n-1].Timestamp) {
		s.candles[n-1] = c
		return
	}
	s.candles = append(s.candles, c)
	if s.maxLen > 0 && len(s.candles) > s.maxLen {
		// shift instead of re-slicing so the backing array doesn't grow forever
		copy(s.candles, s.candles[len(s.candles)-s.maxLen:])
		s.candles = s.candles[:s.maxLen]
	}
}

// Cap returns the retention limit; zero means unbounded.
func (s *Series) Cap() int {
	return s.maxLen
}

// Len returns the number of retained candles.
func (s *Series) Len() int {
	return len(s.candles)
}

// Last returns the most recent candle.
func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// At returns the candle lag bars back from the end (lag 0 = latest).
func (s *Series) At(lag int) (Candle, bool) {
	idx := len(s.candles) - 1 - lag
	if lag < 0 || idx < 0 {
		return Candle{}, false
	}
	return s.candles[idx], true
}

// Window returns a copy of up to n trailing candles.
func (s *Series) Window(n int) []Candle {
	if n <= 0 || n > len(s.candles) {
		n = len(s.candles)
	}
	out := make([]Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out
}
