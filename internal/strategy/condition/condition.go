// Package condition implements the boolean condition trees a strategy is
// built from. Trees are immutable after construction; evaluation is a pure
// function of the per-bar Context.
package condition

import (
	"github.com/shopspring/decimal"
)

// Op is a decimal comparison operator.
type Op string

const (
	OpGT  Op = ">"
	OpLT  Op = "<"
	OpGTE Op = ">="
	OpLTE Op = "<="
	OpEQ  Op = "=="
)

// Valid reports whether the operator is one of the supported five.
func (o Op) Valid() bool {
	switch o {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ:
		return true
	}
	return false
}

// Operand is either an indicator reference or a literal decimal.
type Operand interface {
	operand()
}

// IndicatorRef resolves an indicator value from the evaluation context.
// Component selects a named component of composite indicators (e.g. "signal"
// of a macd). Lag 0 reads the current bar, lag 1 the previous one.
type IndicatorRef struct {
	Name      string
	Component string
	Lag       int
}

func (IndicatorRef) operand() {}

// Literal is a constant decimal operand.
type Literal struct {
	Value decimal.Decimal
}

func (Literal) operand() {}

// Condition is one node of a strategy's boolean tree.
type Condition interface {
	condition()
}

// Comparison compares two resolved operands with Op.
type Comparison struct {
	Left  Operand
	Op    Op
	Right Operand
}

// CrossAbove is true when A was at or below B on the previous bar and is
// strictly above it now.
type CrossAbove struct {
	A Operand
	B Operand
}

// CrossBelow is the mirror of CrossAbove.
type CrossBelow struct {
	A Operand
	B Operand
}

// AllOf is a short-circuit logical AND over its children, left to right.
type AllOf struct {
	Children []Condition
}

// AnyOf is a short-circuit logical OR over its children, left to right.
type AnyOf struct {
	Children []Condition
}

// Not negates a single child.
type Not struct {
	Child Condition
}

func (Comparison) condition() {}
func (CrossAbove) condition() {}
func (CrossBelow) condition() {}
func (AllOf) condition()      {}
func (AnyOf) condition()      {}
func (Not) condition()        {}
