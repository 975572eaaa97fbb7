package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"fathom/internal/execution"
)

// Venue places real orders through the Binance futures API. It satisfies
// execution.Venue; retry and circuit breaking stay in the executor.
type Venue struct {
	client *futures.Client
}

// NewVenue builds a live order venue. Credentials are required.
func NewVenue(cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance venue requires API credentials")
	}
	client := futures.NewClient(final.APIKey, final.APISecret)
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	return &Venue{client: client}, nil
}

func (v *Venue) Name() string { return "binance" }

func (v *Venue) PlaceOrder(ctx context.Context, order execution.Order) (execution.Result, error) {
	svc := v.client.NewCreateOrderService().
		Symbol(normalizeSymbol(order.Symbol)).
		Side(sideType(order.Side)).
		Quantity(order.Quantity.String()).
		NewClientOrderID(order.ID)
	switch order.Type {
	case execution.TypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(order.Price.String())
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return execution.Result{OrderID: order.ID, Symbol: order.Symbol, State: execution.StateError, Err: err}, err
	}
	return convertOrder(order.ID, order.Symbol, resp.Status, resp.ExecutedQuantity, resp.AvgPrice), nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	_, err := v.client.NewCancelOrderService().
		Symbol(normalizeSymbol(symbol)).
		OrigClientOrderID(orderID).
		Do(ctx)
	return err
}

func (v *Venue) OrderStatus(ctx context.Context, orderID, symbol string) (execution.Result, error) {
	resp, err := v.client.NewGetOrderService().
		Symbol(normalizeSymbol(symbol)).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return execution.Result{OrderID: orderID, Symbol: symbol, State: execution.StateError, Err: err}, err
	}
	return convertOrder(orderID, symbol, resp.Status, resp.ExecutedQuantity, resp.AvgPrice), nil
}

func sideType(side execution.Side) futures.SideType {
	if side == execution.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func convertOrder(orderID, symbol string, status futures.OrderStatusType, executedQty, avgPrice string) execution.Result {
	res := execution.Result{OrderID: orderID, Symbol: symbol}
	res.FilledQuantity = parseDecimal(executedQty)
	res.FillPrice = parseDecimal(avgPrice)

	switch status {
	case futures.OrderStatusTypeFilled:
		res.State = execution.StateFilled
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		res.State = execution.StateOpen
	case futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired, futures.OrderStatusTypeCanceled:
		res.State = execution.StateRejected
		res.Err = fmt.Errorf("order %s: venue status %s", orderID, status)
	default:
		res.State = execution.StateError
		res.Err = fmt.Errorf("order %s: unknown venue status %q", orderID, status)
	}
	return res
}

func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}
