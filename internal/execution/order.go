// Package execution submits orders to a venue with bounded retries and
// explicit partial-failure semantics for batches. Venue implementations live
// behind the Venue interface; the paper venue here is the only built-in.
package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order side on the venue.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// Order is one submission request.
type Order struct {
	ID         string
	SessionID  string
	StrategyID string
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	// Price is the limit price, or the reference price a paper fill uses for
	// market orders.
	Price     decimal.Decimal
	Timestamp time.Time
}

// State is the outcome of a submission or status query.
type State string

const (
	StateFilled   State = "filled"
	StateOpen     State = "open"
	StateRejected State = "rejected"
	StateError    State = "error"
)

// Result reports one order's outcome. Err is set for rejected/error states.
type Result struct {
	OrderID        string
	Symbol         string
	State          State
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
	Err            error
}

// ErrMissingParameters fails validation before any network interaction.
var ErrMissingParameters = errors.New("missing order parameters")

// Error classifies a venue failure. Transient failures are retried with
// backoff; permanent ones surface immediately.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("execution %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable execution error.
func IsTransient(err error) bool {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Transient
	}
	return false
}

// validate fails fast on incomplete orders.
func (o Order) validate() error {
	var missing []string
	if strings.TrimSpace(o.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		missing = append(missing, "side")
	}
	if o.Type != TypeMarket && o.Type != TypeLimit {
		missing = append(missing, "type")
	}
	if !o.Quantity.IsPositive() {
		missing = append(missing, "quantity")
	}
	if o.Type == TypeLimit && !o.Price.IsPositive() {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameters, strings.Join(missing, ", "))
	}
	return nil
}
