package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fathom/internal/analysis/indicator"
	"fathom/internal/market"
)

// ErrMissingIndicator means a condition references an indicator name that was
// never resolved into the context. This is a definition-integrity bug caught
// at session start, not an expected runtime condition.
var ErrMissingIndicator = errors.New("indicator not present in context")

// Context is the per-bar snapshot evaluation reads from. The engine resolves
// every indicator exactly once per bar before evaluating any tree, so all
// nodes see one consistent view.
type Context struct {
	Current  map[string]indicator.Value
	Previous map[string]indicator.Value

	Candle     market.Candle
	PrevCandle market.Candle
	HasPrev    bool
}

// NewContext returns an empty context for the given candle pair.
func NewContext(candle market.Candle) *Context {
	return &Context{
		Current:  make(map[string]indicator.Value),
		Previous: make(map[string]indicator.Value),
		Candle:   candle,
	}
}

func (c *Context) resolve(op Operand, previous bool) (decimal.Decimal, bool, error) {
	switch v := op.(type) {
	case Literal:
		return v.Value, true, nil
	case IndicatorRef:
		vals := c.Current
		if previous || v.Lag > 0 {
			vals = c.Previous
		}
		val, ok := vals[v.Name]
		if !ok {
			// pattern.* names only appear on bars where the pattern fired;
			// absent means "not detected", which reads as zero.
			if strings.HasPrefix(v.Name, "pattern.") {
				return decimal.Zero, true, nil
			}
			if previous || v.Lag > 0 {
				// History not filled yet: defined but not resolvable.
				if _, defined := c.Current[v.Name]; defined {
					return decimal.Zero, false, nil
				}
			}
			return decimal.Zero, false, fmt.Errorf("%w: %s", ErrMissingIndicator, v.Name)
		}
		d, ok := val.Component(v.Component)
		if !ok {
			return decimal.Zero, false, fmt.Errorf("%w: %s has no component %q", ErrMissingIndicator, v.Name, v.Component)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("unsupported operand %T", op)
	}
}

// Evaluate walks the tree and returns its boolean value. It never mutates the
// context and never re-queries an indicator provider.
func Evaluate(cond Condition, ctx *Context) (bool, error) {
	switch n := cond.(type) {
	case Comparison:
		left, ok, err := ctx.resolve(n.Left, false)
		if err != nil || !ok {
			return false, err
		}
		right, ok, err := ctx.resolve(n.Right, false)
		if err != nil || !ok {
			return false, err
		}
		return compare(left, n.Op, right)
	case CrossAbove:
		return evalCross(ctx, n.A, n.B, true)
	case CrossBelow:
		return evalCross(ctx, n.A, n.B, false)
	case AllOf:
		for _, child := range n.Children {
			ok, err := Evaluate(child, ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case AnyOf:
		for _, child := range n.Children {
			ok, err := Evaluate(child, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Evaluate(n.Child, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unsupported condition node %T", cond)
	}
}

// evalCross implements the two-sample crossing rule. With fewer than two data
// points it evaluates to false rather than erroring; a missing indicator name
// still errors because that is a definition bug.
func evalCross(ctx *Context, a, b Operand, above bool) (bool, error) {
	curA, ok, err := ctx.resolve(a, false)
	if err != nil || !ok {
		return false, err
	}
	curB, ok, err := ctx.resolve(b, false)
	if err != nil || !ok {
		return false, err
	}
	prevA, ok, err := ctx.resolve(a, true)
	if err != nil || !ok {
		return false, err
	}
	prevB, ok, err := ctx.resolve(b, true)
	if err != nil || !ok {
		return false, err
	}
	if above {
		return prevA.LessThanOrEqual(prevB) && curA.GreaterThan(curB), nil
	}
	return prevA.GreaterThanOrEqual(prevB) && curA.LessThan(curB), nil
}

func compare(left decimal.Decimal, op Op, right decimal.Decimal) (bool, error) {
	switch op {
	case OpGT:
		return left.GreaterThan(right), nil
	case OpLT:
		return left.LessThan(right), nil
	case OpGTE:
		return left.GreaterThanOrEqual(right), nil
	case OpLTE:
		return left.LessThanOrEqual(right), nil
	case OpEQ:
		return left.Equal(right), nil
	default:
		return false, fmt.Errorf("unsupported comparison operator %q", op)
	}
}
