// Package event defines the notifications the engines publish and the Sink
// interface an outer transport (sockets, queues, UI) implements. The core
// never knows what carries the events.
package event

import (
	"time"

	"github.com/shopspring/decimal"

	"fathom/internal/portfolio"
)

// Type enumerates the published event kinds.
type Type string

const (
	TypeSignal           Type = "signal"
	TypePositionOpened   Type = "position_opened"
	TypePositionClosed   Type = "position_closed"
	TypePnLUpdated       Type = "pnl_updated"
	TypeSessionStatus    Type = "session_status"
	TypeBacktestProgress Type = "backtest_progress"
	TypeBacktestDone     Type = "backtest_done"
	TypeTradeRejected    Type = "trade_rejected"
	TypeOrderFailed      Type = "order_failed"
)

// Event is one notification. Payload fields are filled per type; consumers
// switch on Type.
type Event struct {
	Type       Type
	SessionID  string
	StrategyID string
	Symbol     string
	At         time.Time

	Signal   *portfolio.Signal
	Position *portfolio.Position
	Equity   decimal.Decimal
	Status   string
	Progress decimal.Decimal
	Reason   string
	Payload  any
}

// Sink receives events. Implementations must not block; slow consumers should
// buffer or drop on their side of the boundary.
type Sink interface {
	Publish(Event)
}

// NopSink discards everything. Useful default and test double.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Multi fans one event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
