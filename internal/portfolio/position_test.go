package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func entrySignal(dir Direction, price string) Signal {
	return Signal{
		Type:       SignalEntry,
		Direction:  dir,
		Symbol:     "BTC/USDT",
		Price:      dec(price),
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		StrategyID: "strat-1",
	}
}

func exitSignal(price string) Signal {
	return Signal{
		Type:       SignalExit,
		Symbol:     "BTC/USDT",
		Price:      dec(price),
		Timestamp:  time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
		StrategyID: "strat-1",
	}
}

func TestOpenPosition(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Long, "50000"), dec("0.1"))
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, Long, pos.Direction)
	assert.True(t, pos.EntryPrice.Equal(dec("50000")))
	assert.True(t, pos.Quantity.Equal(dec("0.1")))
	assert.True(t, pos.PnL.IsZero())
}

func TestOpenRejectsBadInput(t *testing.T) {
	m := NewManager()
	_, err := m.Open(exitSignal("50000"), dec("0.1"))
	assert.ErrorIs(t, err, ErrSignalType)

	_, err = m.Open(entrySignal(Long, "50000"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = m.Open(entrySignal(Long, "50000"), dec("-1"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCloseLongPnL(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Long, "50000"), dec("0.1"))
	require.NoError(t, err)

	closed, err := m.Close(pos, exitSignal("51000"))
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	// (51000 - 50000) * 0.1 = 100
	assert.True(t, closed.PnL.Equal(dec("100")), "pnl: %s", closed.PnL)
	// 100 / 5000 * 100 = 2%
	assert.True(t, closed.PnLPercent.Equal(dec("2")), "pnl%%: %s", closed.PnLPercent)

	// the input value is untouched
	assert.Equal(t, StatusOpen, pos.Status)
}

func TestCloseShortPnL(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Short, "50000"), dec("0.1"))
	require.NoError(t, err)

	closed, err := m.Close(pos, exitSignal("49000"))
	require.NoError(t, err)
	// (50000 - 49000) * 0.1 = 100
	assert.True(t, closed.PnL.Equal(dec("100")))

	losing, err := m.Close(pos, exitSignal("52000"))
	require.NoError(t, err)
	assert.True(t, losing.PnL.Equal(dec("-200")))
	assert.True(t, losing.PnLPercent.Equal(dec("-4")))
}

func TestRoundTripAtSamePriceIsFlat(t *testing.T) {
	m := NewManager()
	for _, dir := range []Direction{Long, Short} {
		pos, err := m.Open(entrySignal(dir, "50000"), dec("0.37"))
		require.NoError(t, err)

		closed, err := m.Close(pos, exitSignal("50000"))
		require.NoError(t, err)
		assert.True(t, closed.PnL.IsZero(), "%s pnl: %s", dir, closed.PnL)
		assert.True(t, closed.PnLPercent.IsZero(), "%s pnl%%: %s", dir, closed.PnLPercent)
	}
}

func TestDoubleCloseFails(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Long, "50000"), dec("0.1"))
	require.NoError(t, err)
	closed, err := m.Close(pos, exitSignal("51000"))
	require.NoError(t, err)

	_, err = m.Close(closed, exitSignal("52000"))
	assert.ErrorIs(t, err, ErrPositionClosed)
}

func TestCloseRequiresExitSignal(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Long, "50000"), dec("0.1"))
	require.NoError(t, err)
	_, err = m.Close(pos, entrySignal(Long, "51000"))
	assert.ErrorIs(t, err, ErrSignalType)
}

func TestUnrealizedPnL(t *testing.T) {
	m := NewManager()
	long, err := m.Open(entrySignal(Long, "50000"), dec("0.5"))
	require.NoError(t, err)
	assert.True(t, m.UnrealizedPnL(long, dec("50200")).Equal(dec("100")))
	assert.True(t, m.UnrealizedPnL(long, dec("49800")).Equal(dec("-100")))

	short, err := m.Open(entrySignal(Short, "50000"), dec("0.5"))
	require.NoError(t, err)
	assert.True(t, m.UnrealizedPnL(short, dec("49800")).Equal(dec("100")))

	// closed positions answer with the stored realized value, whatever the
	// mark price says now.
	closed, err := m.Close(long, exitSignal("51000"))
	require.NoError(t, err)
	assert.True(t, m.UnrealizedPnL(closed, dec("1")).Equal(closed.PnL))
}

func TestTradeRecords(t *testing.T) {
	m := NewManager()
	pos, err := m.Open(entrySignal(Long, "50000"), dec("0.1"))
	require.NoError(t, err)

	entry := NewTrade(pos, entrySignal(Long, "50000"), dec("2.5"))
	assert.Equal(t, pos.ID, entry.PositionID)
	assert.False(t, entry.Failed)
	assert.True(t, entry.RealizedPnL.IsZero())
	assert.True(t, entry.Commission.Equal(dec("2.5")))

	closed, err := m.Close(pos, exitSignal("51000"))
	require.NoError(t, err)
	exit := NewTrade(closed, exitSignal("51000"), decimal.Zero)
	assert.True(t, exit.RealizedPnL.Equal(dec("100")))

	failed := NewFailedTrade(entrySignal(Long, "50000"), dec("0.1"), "max_position_size_exceeded")
	assert.True(t, failed.Failed)
	assert.Empty(t, failed.PositionID)
	assert.Equal(t, "max_position_size_exceeded", failed.Note)
}
