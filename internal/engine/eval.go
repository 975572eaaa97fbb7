package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fathom/internal/analysis/indicator"
	"fathom/internal/analysis/pattern"
	"fathom/internal/market"
	"fathom/internal/portfolio"
	"fathom/internal/strategy"
	"fathom/internal/strategy/condition"
)

// ContextBuilder resolves all of a definition's indicators once per bar and
// assembles the evaluation context, carrying the previous bar's snapshot for
// lag/cross lookups. Both the live engine and the backtester drive their
// evaluation through this type so replay results match live behavior exactly.
type ContextBuilder struct {
	def      *strategy.Definition
	provider indicator.Provider

	prev       map[string]indicator.Value
	prevCandle market.Candle
	hasPrev    bool
}

func NewContextBuilder(def *strategy.Definition, provider indicator.Provider) *ContextBuilder {
	return &ContextBuilder{def: def, provider: provider}
}

// Next builds the context for the bar closing the window. ready is false
// while any indicator still reports insufficient data; per policy that bar
// produces no signal and no error.
func (b *ContextBuilder) Next(ctx context.Context, window []market.Candle) (*condition.Context, bool, error) {
	if len(window) == 0 {
		return nil, false, nil
	}
	candle := window[len(window)-1]

	current := make(map[string]indicator.Value, len(b.def.Indicators)+4)
	for _, spec := range b.def.Indicators {
		val, err := b.provider.Compute(ctx, spec, window)
		if err != nil {
			if errors.Is(err, indicator.ErrInsufficientData) {
				// Window not warmed up yet: advance the candle history but
				// keep the previous indicator snapshot empty.
				b.prevCandle = candle
				b.hasPrev = true
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("resolving %s: %w", spec.Name, err)
		}
		current[spec.Name] = val
	}
	for _, tag := range pattern.Detect(window) {
		current[patternContextName(tag)] = indicator.Value{
			Name:   patternContextName(tag),
			Scalar: decimal.NewFromInt(1),
		}
	}

	evalCtx := &condition.Context{
		Current:  current,
		Previous: b.prev,
		Candle:   candle,
	}
	if b.prev == nil {
		evalCtx.Previous = map[string]indicator.Value{}
	}
	if b.hasPrev {
		evalCtx.PrevCandle = b.prevCandle
		evalCtx.HasPrev = true
	}

	b.prev = current
	b.prevCandle = candle
	b.hasPrev = true
	return evalCtx, true, nil
}

// patternContextName maps a detected pattern into the reserved context
// namespace conditions may reference without declaring.
func patternContextName(tag pattern.Tag) string {
	return "pattern." + string(tag)
}

// NextSignal derives at most one signal for the bar: entry evaluation when
// the strategy is flat, stop-then-exit evaluation when it holds a position.
func NextSignal(def *strategy.Definition, evalCtx *condition.Context, open *portfolio.Position) (portfolio.Signal, bool, error) {
	candle := evalCtx.Candle
	if open == nil {
		for _, dir := range []portfolio.Direction{portfolio.Long, portfolio.Short} {
			tree, ok := def.Entry[dir]
			if !ok {
				continue
			}
			hit, err := condition.Evaluate(tree, evalCtx)
			if err != nil {
				return portfolio.Signal{}, false, err
			}
			if hit {
				return portfolio.Signal{
					Type:       portfolio.SignalEntry,
					Direction:  dir,
					Symbol:     def.Symbol,
					Price:      candle.Close,
					Timestamp:  candle.Timestamp,
					StrategyID: def.ID,
				}, true, nil
			}
		}
		return portfolio.Signal{}, false, nil
	}

	trees := make([]condition.Condition, 0, 2)
	if def.Stop != nil {
		trees = append(trees, def.Stop)
	}
	if def.Exit != nil {
		trees = append(trees, def.Exit)
	}
	for _, tree := range trees {
		hit, err := condition.Evaluate(tree, evalCtx)
		if err != nil {
			return portfolio.Signal{}, false, err
		}
		if hit {
			return portfolio.Signal{
				Type:       portfolio.SignalExit,
				Direction:  open.Direction,
				Symbol:     open.Symbol,
				Price:      candle.Close,
				Timestamp:  candle.Timestamp,
				StrategyID: def.ID,
			}, true, nil
		}
	}
	return portfolio.Signal{}, false, nil
}
