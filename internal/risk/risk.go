// Package risk implements pre-trade admission control. Checks run in a fixed
// order so a given portfolio state always produces the same rejection reason.
package risk

import (
	"github.com/shopspring/decimal"

	"fathom/internal/portfolio"
)

// Reason enumerates why a trade was rejected.
type Reason string

const (
	ReasonMaxConcurrentPositions Reason = "max_concurrent_positions"
	ReasonMaxDrawdownExceeded    Reason = "max_drawdown_exceeded"
	ReasonDailyLossLimitHit      Reason = "daily_loss_limit_hit"
	ReasonMaxPositionSize        Reason = "max_position_size_exceeded"
)

// Limits are the per-session risk limits. Percentages are ratios (0.25 = 25%).
// Immutable for the lifetime of a session.
type Limits struct {
	MaxPositionSizePct     decimal.Decimal `yaml:"max_position_size_pct"`
	MaxDailyLossPct        decimal.Decimal `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct         decimal.Decimal `yaml:"max_drawdown_pct"`
	MaxConcurrentPositions int             `yaml:"max_concurrent_positions"`
}

// DefaultLimits are applied when a strategy definition carries none.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct:     decimal.New(25, -2), // 0.25
		MaxDailyLossPct:        decimal.New(3, -2),  // 0.03
		MaxDrawdownPct:         decimal.New(15, -2), // 0.15
		MaxConcurrentPositions: 5,
	}
}

// Proposed describes the trade asking for admission.
type Proposed struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Decision is the admission result.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allowed() Decision {
	return Decision{Allowed: true}
}

func rejected(r Reason) Decision {
	return Decision{Reason: r}
}

// Check runs the four limit checks in fixed order; the first failing check
// wins. A session that opens positions exclusively through its own actor loop
// always checks against the same snapshot it subsequently mutates.
func Check(proposed Proposed, state *portfolio.State, limits Limits) Decision {
	if limits.MaxConcurrentPositions > 0 && state.OpenCount()+1 > limits.MaxConcurrentPositions {
		return rejected(ReasonMaxConcurrentPositions)
	}
	if limits.MaxDrawdownPct.IsPositive() && drawdownPct(state).GreaterThan(limits.MaxDrawdownPct) {
		return rejected(ReasonMaxDrawdownExceeded)
	}
	if limits.MaxDailyLossPct.IsPositive() && dailyLossPct(state).GreaterThan(limits.MaxDailyLossPct) {
		return rejected(ReasonDailyLossLimitHit)
	}
	if limits.MaxPositionSizePct.IsPositive() && positionSizePct(proposed, state).GreaterThan(limits.MaxPositionSizePct) {
		return rejected(ReasonMaxPositionSize)
	}
	return allowed()
}

// Metrics reports how much of each limit is used, as ratios of the limit
// (1 = at the limit). Pure reporting; nothing here rejects a trade.
type Metrics struct {
	PositionSizeUtilization decimal.Decimal
	DailyLossUtilization    decimal.Decimal
	DrawdownUtilization     decimal.Decimal
	ConcurrentUtilization   decimal.Decimal
	ConcurrentPositions     int
	CanOpenNewPosition      bool
}

// CalculateMetrics is a pure function of the portfolio state and limits.
// Exposure uses the entry notional of the open positions.
func CalculateMetrics(state *portfolio.State, limits Limits) Metrics {
	m := Metrics{
		PositionSizeUtilization: utilization(exposurePct(state), limits.MaxPositionSizePct),
		DailyLossUtilization:    utilization(dailyLossPct(state), limits.MaxDailyLossPct),
		DrawdownUtilization:     utilization(drawdownPct(state), limits.MaxDrawdownPct),
		ConcurrentPositions:     state.OpenCount(),
	}
	if limits.MaxConcurrentPositions > 0 {
		m.ConcurrentUtilization = decimal.NewFromInt(int64(state.OpenCount())).
			Div(decimal.NewFromInt(int64(limits.MaxConcurrentPositions)))
	}
	m.CanOpenNewPosition = true
	if limits.MaxConcurrentPositions > 0 && state.OpenCount() >= limits.MaxConcurrentPositions {
		m.CanOpenNewPosition = false
	}
	if limits.MaxDrawdownPct.IsPositive() && drawdownPct(state).GreaterThan(limits.MaxDrawdownPct) {
		m.CanOpenNewPosition = false
	}
	if limits.MaxDailyLossPct.IsPositive() && dailyLossPct(state).GreaterThan(limits.MaxDailyLossPct) {
		m.CanOpenNewPosition = false
	}
	return m
}

func utilization(value, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return value.Div(limit)
}

// exposurePct: total entry notional of open positions over current equity.
func exposurePct(state *portfolio.State) decimal.Decimal {
	if !state.CurrentEquity.IsPositive() {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, pos := range state.OpenPositions() {
		total = total.Add(pos.EntryPrice.Mul(pos.Quantity))
	}
	return total.Div(state.CurrentEquity)
}

// drawdownPct: (peak - current) / peak, zero while at or above the peak.
func drawdownPct(state *portfolio.State) decimal.Decimal {
	if !state.PeakEquity.IsPositive() {
		return decimal.Zero
	}
	dd := state.PeakEquity.Sub(state.CurrentEquity)
	if !dd.IsPositive() {
		return decimal.Zero
	}
	return dd.Div(state.PeakEquity)
}

// dailyLossPct: (daily_start - current) / daily_start, zero while in profit.
func dailyLossPct(state *portfolio.State) decimal.Decimal {
	if !state.DailyStartEquity.IsPositive() {
		return decimal.Zero
	}
	loss := state.DailyStartEquity.Sub(state.CurrentEquity)
	if !loss.IsPositive() {
		return decimal.Zero
	}
	return loss.Div(state.DailyStartEquity)
}

// positionSizePct: (quantity * price) / current_equity.
func positionSizePct(p Proposed, state *portfolio.State) decimal.Decimal {
	if !state.CurrentEquity.IsPositive() {
		// No equity left: any sized trade is oversized.
		return decimal.NewFromInt(1)
	}
	return p.Quantity.Mul(p.Price).Div(state.CurrentEquity)
}
