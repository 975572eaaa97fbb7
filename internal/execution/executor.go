package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fathom/internal/logger"
	"fathom/internal/pkg/circuit"
)

// Executor wraps a Venue with validation, bounded retry and a circuit
// breaker. One Executor may serve many sessions; it holds no session state.
type Executor struct {
	venue   Venue
	policy  RetryPolicy
	breaker *circuit.Breaker
}

// NewExecutor builds an executor over the given venue.
func NewExecutor(venue Venue, policy RetryPolicy) *Executor {
	return &Executor{
		venue:   venue,
		policy:  policy,
		breaker: circuit.NewBreaker(venue.Name(), 5, 30*time.Second),
	}
}

// Execute validates and submits one order. Transient venue failures are
// retried up to the policy's attempt bound with backoff; permanent failures
// come back immediately. The returned Result always carries the order's
// terminal view: errors are reported in-band so batch callers can keep going.
func (e *Executor) Execute(ctx context.Context, order Order) Result {
	if err := order.validate(); err != nil {
		return Result{OrderID: order.ID, Symbol: order.Symbol, State: StateRejected, Err: err}
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if !e.breaker.Allow() {
			lastErr = &Error{Op: "place", Transient: true, Err: fmt.Errorf("circuit open for venue %s", e.venue.Name())}
			break
		}
		res, err := e.venue.PlaceOrder(ctx, order)
		if err == nil {
			e.breaker.RecordSuccess()
			res.OrderID = firstNonEmpty(res.OrderID, order.ID)
			res.Symbol = order.Symbol
			return res
		}
		e.breaker.RecordFailure()
		lastErr = err
		if !e.policy.ShouldRetry(err, attempt) {
			break
		}
		pause := e.policy.Backoff(attempt)
		logger.Warnf("executor: retrying %s %s after %v (attempt %d): %v",
			order.Side, order.Symbol, pause, attempt, err)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(pause):
			continue
		}
		break
	}
	return Result{OrderID: order.ID, Symbol: order.Symbol, State: StateError, Err: lastErr}
}

// ExecuteBatch submits each order independently and returns one result per
// order, in input order. A failing order never aborts the rest of the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, orders []Order) []Result {
	results := make([]Result, len(orders))
	for i, order := range orders {
		results[i] = e.Execute(ctx, order)
	}
	return results
}

// Cancel cancels a resting order on the venue.
func (e *Executor) Cancel(ctx context.Context, orderID, symbol string) error {
	return e.venue.CancelOrder(ctx, orderID, symbol)
}

// Status queries the venue for an order's current state.
func (e *Executor) Status(ctx context.Context, orderID, symbol string) (Result, error) {
	return e.venue.OrderStatus(ctx, orderID, symbol)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
