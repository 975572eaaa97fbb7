package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAt(t *testing.T, m *Manager, dir Direction, price string, qty string) Position {
	t.Helper()
	pos, err := m.Open(entrySignal(dir, price), dec(qty))
	require.NoError(t, err)
	return pos
}

func TestStateTrackAndLookup(t *testing.T) {
	m := NewManager()
	s := NewState(dec("10000"))
	assert.Equal(t, 0, s.OpenCount())

	pos := openAt(t, m, Long, "50000", "0.1")
	s.Track(pos)
	assert.Equal(t, 1, s.OpenCount())

	got, ok := s.OpenPosition("BTC/USDT", "strat-1")
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)

	_, ok = s.OpenPosition("ETH/USDT", "strat-1")
	assert.False(t, ok)
}

func TestMarkToMarketEquityIdentity(t *testing.T) {
	m := NewManager()
	s := NewState(dec("10000"))
	pos := openAt(t, m, Long, "50000", "0.1")
	s.Track(pos)

	// price up 1000: unrealized +100
	s.MarkToMarket(func(p Position) decimal.Decimal {
		return m.UnrealizedPnL(p, dec("51000"))
	})
	assert.True(t, s.CurrentEquity.Equal(dec("10100")), "equity: %s", s.CurrentEquity)
	assert.True(t, s.PeakEquity.Equal(dec("10100")))

	// price back down: equity follows, the peak does not
	s.MarkToMarket(func(p Position) decimal.Decimal {
		return m.UnrealizedPnL(p, dec("49000"))
	})
	assert.True(t, s.CurrentEquity.Equal(dec("9900")))
	assert.True(t, s.PeakEquity.Equal(dec("10100")))
}

func TestSettleFoldsRealizedPnL(t *testing.T) {
	m := NewManager()
	s := NewState(dec("10000"))
	pos := openAt(t, m, Long, "50000", "0.1")
	s.Track(pos)

	closed, err := m.Close(pos, exitSignal("51000"))
	require.NoError(t, err)
	s.Settle(closed, nil)

	assert.Equal(t, 0, s.OpenCount())
	assert.True(t, s.RealizedPnLToday.Equal(dec("100")))
	assert.True(t, s.CurrentEquity.Equal(dec("10100")))
}

func TestApplyCost(t *testing.T) {
	s := NewState(dec("10000"))
	s.ApplyCost(dec("12.5"))
	s.MarkToMarket(nil)
	assert.True(t, s.CurrentEquity.Equal(dec("9987.5")))
}

func TestStartNewDayRollsBaseline(t *testing.T) {
	s := NewState(dec("10000"))
	s.RealizedPnLToday = dec("-300")
	s.MarkToMarket(nil)
	assert.True(t, s.CurrentEquity.Equal(dec("9700")))

	s.StartNewDay()
	assert.True(t, s.DailyStartEquity.Equal(dec("9700")))
	assert.True(t, s.RealizedPnLToday.IsZero())
	// the all-time peak survives the day roll
	assert.True(t, s.PeakEquity.Equal(dec("10000")))
}
