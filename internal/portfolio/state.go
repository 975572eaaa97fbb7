package portfolio

import (
	"github.com/shopspring/decimal"
)

// State tracks one session's equity and open positions. It is not
// goroutine-safe on purpose: every session serializes all access through its
// own actor loop, so no locking is needed here.
type State struct {
	CurrentEquity    decimal.Decimal
	PeakEquity       decimal.Decimal
	DailyStartEquity decimal.Decimal
	RealizedPnLToday decimal.Decimal
	openPositions    map[string]Position
}

// NewState starts a portfolio at the given equity.
func NewState(initialEquity decimal.Decimal) *State {
	return &State{
		CurrentEquity:    initialEquity,
		PeakEquity:       initialEquity,
		DailyStartEquity: initialEquity,
		openPositions:    make(map[string]Position),
	}
}

func positionKey(symbol, strategyID string) string {
	return symbol + "|" + strategyID
}

// OpenCount returns the number of currently open positions.
func (s *State) OpenCount() int {
	return len(s.openPositions)
}

// OpenPosition returns the open position for symbol+strategy, if any.
func (s *State) OpenPosition(symbol, strategyID string) (Position, bool) {
	pos, ok := s.openPositions[positionKey(symbol, strategyID)]
	return pos, ok
}

// OpenPositions returns a copy of all open positions.
func (s *State) OpenPositions() []Position {
	out := make([]Position, 0, len(s.openPositions))
	for _, pos := range s.openPositions {
		out = append(out, pos)
	}
	return out
}

// Track records a newly opened position.
func (s *State) Track(pos Position) {
	s.openPositions[positionKey(pos.Symbol, pos.StrategyID)] = pos
}

// Settle removes a closed position and folds its realized P&L into today's
// total, then refreshes equity against the remaining marks.
func (s *State) Settle(closed Position, marks func(Position) decimal.Decimal) {
	delete(s.openPositions, positionKey(closed.Symbol, closed.StrategyID))
	s.RealizedPnLToday = s.RealizedPnLToday.Add(closed.PnL)
	s.MarkToMarket(marks)
}

// ApplyCost subtracts an execution cost (commission) from today's realized
// P&L so equity reflects it immediately.
func (s *State) ApplyCost(cost decimal.Decimal) {
	s.RealizedPnLToday = s.RealizedPnLToday.Sub(cost)
}

// MarkToMarket recomputes the equity identity
// current = daily_start + realized_today + sum(unrealized) and advances the
// peak high-water mark. marks returns the unrealized P&L of one open position;
// nil marks values only realized P&L.
func (s *State) MarkToMarket(marks func(Position) decimal.Decimal) {
	equity := s.DailyStartEquity.Add(s.RealizedPnLToday)
	if marks != nil {
		for _, pos := range s.openPositions {
			equity = equity.Add(marks(pos))
		}
	}
	s.CurrentEquity = equity
	if equity.GreaterThan(s.PeakEquity) {
		s.PeakEquity = equity
	}
}

// StartNewDay rolls the daily baseline forward: today's realized P&L is folded
// into the starting equity and the counter resets. The peak is preserved
// across days (drawdown is measured from the all-time high).
func (s *State) StartNewDay() {
	s.DailyStartEquity = s.DailyStartEquity.Add(s.RealizedPnLToday)
	s.RealizedPnLToday = decimal.Zero
}
