package portfolio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is an executed order record tied to a position. Rejected and failed
// submissions are recorded too, so post-hoc analysis can explain every
// decision the engine made.
type Trade struct {
	ID          string
	PositionID  string
	StrategyID  string
	Symbol      string
	Direction   Direction
	SignalType  SignalType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Commission  decimal.Decimal
	RealizedPnL decimal.Decimal
	ExecutedAt  time.Time

	// Failed marks trades whose order submission errored or was rejected by
	// risk control; Note carries the reason.
	Failed bool
	Note   string
}

// NewTrade builds a trade record for a filled signal.
func NewTrade(pos Position, sig Signal, commission decimal.Decimal) Trade {
	t := Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		SignalType: sig.Type,
		Quantity:   pos.Quantity,
		Price:      sig.Price,
		Commission: commission,
		ExecutedAt: sig.Timestamp,
	}
	if sig.Type == SignalExit {
		t.RealizedPnL = pos.PnL
	}
	return t
}

// NewFailedTrade records a signal that never became a position: rejected by
// risk control or failed at the venue.
func NewFailedTrade(sig Signal, quantity decimal.Decimal, note string) Trade {
	return Trade{
		ID:         uuid.NewString(),
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		SignalType: sig.Type,
		Quantity:   quantity,
		Price:      sig.Price,
		ExecutedAt: sig.Timestamp,
		Failed:     true,
		Note:       note,
	}
}
