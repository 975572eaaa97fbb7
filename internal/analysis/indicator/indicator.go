// Package indicator defines the numeric-provider boundary. The engine resolves
// every indicator exactly once per bar through Provider; condition evaluation
// only ever sees the resolved snapshot.
package indicator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fathom/internal/market"
)

// ErrInsufficientData signals that the candle window is shorter than the
// indicator's warmup. Callers treat the affected evaluation as no-signal and
// keep processing; it is not a session error.
var ErrInsufficientData = errors.New("insufficient data for indicator")

// Spec identifies one indicator instance inside a strategy definition.
type Spec struct {
	Name   string         `yaml:"name" json:"name"`
	Kind   string         `yaml:"kind" json:"kind"`
	Params map[string]int `yaml:"params,omitempty" json:"params,omitempty"`
}

// Value is a resolved indicator result: either a single scalar or a set of
// named components (e.g. macd/signal/histogram).
type Value struct {
	Name       string
	Scalar     decimal.Decimal
	Components map[string]decimal.Decimal
}

// IsComposite reports whether the value carries named components.
func (v Value) IsComposite() bool {
	return len(v.Components) > 0
}

// Component returns the named component, or the scalar when name is empty on
// a scalar value.
func (v Value) Component(name string) (decimal.Decimal, bool) {
	if name == "" {
		if v.IsComposite() {
			return decimal.Zero, false
		}
		return v.Scalar, true
	}
	d, ok := v.Components[name]
	return d, ok
}

// Provider computes one indicator over a price window.
type Provider interface {
	Compute(ctx context.Context, spec Spec, window []market.Candle) (Value, error)
}

func scalar(name string, f float64) Value {
	return Value{Name: name, Scalar: decimal.NewFromFloat(f)}
}

func composite(name string, parts map[string]float64) Value {
	comps := make(map[string]decimal.Decimal, len(parts))
	for k, f := range parts {
		comps[k] = decimal.NewFromFloat(f)
	}
	return Value{Name: name, Components: comps}
}

func missingParam(spec Spec, key string) error {
	return fmt.Errorf("indicator %s (%s): missing param %q", spec.Name, spec.Kind, key)
}
