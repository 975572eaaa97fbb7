package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Venue is the exchange-facing boundary: place, cancel, query. Real venue
// adapters (binance, etc.) implement this outside the executor.
type Venue interface {
	Name() string
	PlaceOrder(ctx context.Context, order Order) (Result, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	OrderStatus(ctx context.Context, orderID, symbol string) (Result, error)
}

// PaperVenue simulates fills in memory: market orders fill immediately at the
// reference price, limit orders rest open until cancelled. Used for paper
// trading sessions and tests.
type PaperVenue struct {
	mu     sync.Mutex
	orders map[string]Result
}

func NewPaperVenue() *PaperVenue {
	return &PaperVenue{orders: make(map[string]Result)}
}

func (v *PaperVenue) Name() string {
	return "paper"
}

func (v *PaperVenue) PlaceOrder(_ context.Context, order Order) (Result, error) {
	res := Result{
		OrderID: uuid.NewString(),
		Symbol:  order.Symbol,
	}
	switch order.Type {
	case TypeMarket:
		res.State = StateFilled
		res.FilledQuantity = order.Quantity
		res.FillPrice = order.Price
	case TypeLimit:
		res.State = StateOpen
	default:
		return Result{}, &Error{Op: "place", Err: fmt.Errorf("unsupported order type %q", order.Type)}
	}
	v.mu.Lock()
	v.orders[res.OrderID] = res
	v.mu.Unlock()
	return res, nil
}

func (v *PaperVenue) CancelOrder(_ context.Context, orderID, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.orders[orderID]
	if !ok {
		return &Error{Op: "cancel", Err: fmt.Errorf("unknown order %s", orderID)}
	}
	if res.State == StateFilled {
		return &Error{Op: "cancel", Err: fmt.Errorf("order %s already filled", orderID)}
	}
	res.State = StateRejected
	res.Err = fmt.Errorf("cancelled")
	v.orders[orderID] = res
	return nil
}

func (v *PaperVenue) OrderStatus(_ context.Context, orderID, symbol string) (Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.orders[orderID]
	if !ok {
		return Result{}, &Error{Op: "status", Err: fmt.Errorf("unknown order %s", orderID)}
	}
	return res, nil
}
