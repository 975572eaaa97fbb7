package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity rejects non-positive position sizes.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrPositionClosed rejects a second close of the same position.
	ErrPositionClosed = errors.New("position already closed")
	// ErrSignalType rejects an entry signal passed to Close or vice versa.
	ErrSignalType = errors.New("wrong signal type for operation")
)

// Status is the position lifecycle state.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is one opened trade. Exit fields and P&L are only meaningful once
// Status is closed; a closed position is never resurrected.
type Position struct {
	ID         string
	StrategyID string
	Symbol     string
	Direction  Direction
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Status     Status

	ExitPrice  decimal.Decimal
	ExitTime   time.Time
	PnL        decimal.Decimal
	PnLPercent decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Manager creates and closes positions. It holds no state of its own; callers
// own persistence of the returned values.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Open creates a new open position from an entry signal.
func (m *Manager) Open(sig Signal, quantity decimal.Decimal) (Position, error) {
	if sig.Type != SignalEntry {
		return Position{}, fmt.Errorf("%w: open requires an entry signal, got %s", ErrSignalType, sig.Type)
	}
	if !quantity.IsPositive() {
		return Position{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}
	return Position{
		ID:         uuid.NewString(),
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Quantity:   quantity,
		EntryPrice: sig.Price,
		EntryTime:  sig.Timestamp,
		Status:     StatusOpen,
	}, nil
}

// Close returns a closed copy of pos with realized P&L filled in. The input
// value is left untouched.
func (m *Manager) Close(pos Position, sig Signal) (Position, error) {
	if pos.Status != StatusOpen {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosed, pos.ID)
	}
	if sig.Type != SignalExit {
		return Position{}, fmt.Errorf("%w: close requires an exit signal, got %s", ErrSignalType, sig.Type)
	}
	pnl := directionalPnL(pos.Direction, pos.EntryPrice, sig.Price, pos.Quantity)
	closed := pos
	closed.Status = StatusClosed
	closed.ExitPrice = sig.Price
	closed.ExitTime = sig.Timestamp
	closed.PnL = pnl
	closed.PnLPercent = pnlPercent(pnl, pos.EntryPrice, pos.Quantity)
	return closed, nil
}

// UnrealizedPnL values an open position at the given price. For closed
// positions it returns the stored realized P&L, so repeated calls are
// idempotent either way.
func (m *Manager) UnrealizedPnL(pos Position, price decimal.Decimal) decimal.Decimal {
	if pos.Status == StatusClosed {
		return pos.PnL
	}
	return directionalPnL(pos.Direction, pos.EntryPrice, price, pos.Quantity)
}

// directionalPnL: (exit-entry)*qty for long, (entry-exit)*qty for short.
func directionalPnL(dir Direction, entry, exit, qty decimal.Decimal) decimal.Decimal {
	if dir == Short {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}

func pnlPercent(pnl, entry, qty decimal.Decimal) decimal.Decimal {
	notional := entry.Mul(qty)
	if notional.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(notional).Mul(hundred)
}
