// Package strategy holds the normalized Strategy Definition consumed by the
// engines. The surface syntax that produces it (DSL, builders) lives outside
// this module; here it is plain data.
package strategy

import (
	"github.com/shopspring/decimal"

	"fathom/internal/analysis/indicator"
	"fathom/internal/portfolio"
	"fathom/internal/risk"
	"fathom/internal/strategy/condition"
)

// Definition is one complete, already-normalized strategy.
type Definition struct {
	ID        string
	Name      string
	Symbol    string
	Timeframe string

	// Ordered: the engine resolves indicators in declaration order.
	Indicators []indicator.Spec

	// Entry trees per direction; a definition may trade only one side.
	Entry map[portfolio.Direction]condition.Condition
	// Exit is evaluated while a position is open.
	Exit condition.Condition
	// Stop is optional and, when present, evaluated before Exit.
	Stop condition.Condition

	Sizing SizingPolicy
	Limits risk.Limits
}

// SizingMode selects how target quantity is derived from equity and price.
type SizingMode string

const (
	SizingFixedQuantity SizingMode = "fixed_quantity"
	SizingEquityPct     SizingMode = "equity_pct"
)

// SizingPolicy computes the target quantity for an entry signal.
type SizingPolicy struct {
	Mode      SizingMode
	Quantity  decimal.Decimal // fixed_quantity
	EquityPct decimal.Decimal // equity_pct, ratio of current equity
}

// TargetQuantity returns the quantity to open at the given equity and price.
// Zero means the signal cannot be sized and is dropped.
func (p SizingPolicy) TargetQuantity(equity, price decimal.Decimal) decimal.Decimal {
	switch p.Mode {
	case SizingFixedQuantity:
		return p.Quantity
	case SizingEquityPct:
		if !price.IsPositive() || !equity.IsPositive() {
			return decimal.Zero
		}
		return equity.Mul(p.EquityPct).Div(price)
	default:
		return decimal.Zero
	}
}

// IndicatorNames returns the declared indicator names in order.
func (d *Definition) IndicatorNames() []string {
	names := make([]string, len(d.Indicators))
	for i, spec := range d.Indicators {
		names[i] = spec.Name
	}
	return names
}

// conditionTrees lists every tree of the definition for validation walks.
func (d *Definition) conditionTrees() []condition.Condition {
	var trees []condition.Condition
	for _, c := range d.Entry {
		trees = append(trees, c)
	}
	if d.Exit != nil {
		trees = append(trees, d.Exit)
	}
	if d.Stop != nil {
		trees = append(trees, d.Stop)
	}
	return trees
}
