// Package portfolio owns the position lifecycle and portfolio equity state.
// Positions are plain values; every mutation returns a new value so concurrent
// readers never observe a half-applied close.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalType marks a signal as entry or exit.
type SignalType string

const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Direction is the trade direction of a signal or position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Signal is an ephemeral entry/exit trigger produced by condition evaluation.
// It is consumed immediately by position management and never stored.
type Signal struct {
	Type       SignalType
	Direction  Direction
	Symbol     string
	Price      decimal.Decimal
	Timestamp  time.Time
	StrategyID string
}
