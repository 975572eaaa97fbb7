package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fathom/internal/analysis/indicator"
	"fathom/internal/event"
	"fathom/internal/execution"
	"fathom/internal/market"
	"fathom/internal/portfolio"
	"fathom/internal/risk"
	"fathom/internal/strategy"
	"fathom/internal/strategy/condition"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// scriptProvider replays fixed per-bar values keyed by indicator name; the
// last value repeats once the script runs out.
type scriptProvider struct {
	series map[string][]string
}

func (p *scriptProvider) Compute(_ context.Context, spec indicator.Spec, window []market.Candle) (indicator.Value, error) {
	vals, ok := p.series[spec.Name]
	if !ok {
		return indicator.Value{}, fmt.Errorf("no script for indicator %s", spec.Name)
	}
	idx := len(window) - 1
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	v, err := decimal.NewFromString(vals[idx])
	if err != nil {
		return indicator.Value{}, err
	}
	return indicator.Value{Name: spec.Name, Scalar: v}, nil
}

// captureSink records published events for inspection.
type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Publish(e event.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) byType(t event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// memoryRecorder is an in-memory TradeRecorder.
type memoryRecorder struct {
	mu     sync.Mutex
	trades []portfolio.Trade
}

func (r *memoryRecorder) SaveTrade(_ context.Context, t portfolio.Trade) error {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) all() []portfolio.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]portfolio.Trade(nil), r.trades...)
}

func crossoverDef() *strategy.Definition {
	ref := func(name string) condition.IndicatorRef { return condition.IndicatorRef{Name: name} }
	return &strategy.Definition{
		ID:        "cross-live",
		Name:      "crossover",
		Symbol:    "BTC/USDT",
		Timeframe: "1h",
		Indicators: []indicator.Spec{
			{Name: "fast", Kind: "sma", Params: map[string]int{"period": 2}},
			{Name: "slow", Kind: "sma", Params: map[string]int{"period": 5}},
		},
		Entry: map[portfolio.Direction]condition.Condition{
			portfolio.Long: condition.CrossAbove{A: ref("fast"), B: ref("slow")},
		},
		Exit:   condition.CrossBelow{A: ref("fast"), B: ref("slow")},
		Sizing: strategy.SizingPolicy{Mode: strategy.SizingFixedQuantity, Quantity: dec("0.1")},
		Limits: risk.DefaultLimits(),
	}
}

func hourlyCandle(i int, close string) market.Candle {
	v := dec(close)
	return market.Candle{
		Open: v, High: v, Low: v, Close: v,
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
	}
}

func newTestEngine(t *testing.T, sink event.Sink, trades TradeRecorder, series map[string][]string) *Engine {
	t.Helper()
	eng, err := New(Config{
		SessionID:     "session-test",
		Definition:    crossoverDef(),
		Provider:      &scriptProvider{series: series},
		Executor:      execution.NewExecutor(execution.NewPaperVenue(), execution.DefaultRetryPolicy()),
		Sink:          sink,
		Trades:        trades,
		InitialEquity: dec("10000"),
	})
	require.NoError(t, err)
	return eng
}

func crossSeries() map[string][]string {
	return map[string][]string{
		// cross above at bar 2, cross below at bar 4
		"fast": {"90", "95", "105", "105", "95"},
		"slow": {"100", "100", "100", "100", "100"},
	}
}

func TestEngineLifecycle(t *testing.T) {
	eng := newTestEngine(t, nil, nil, crossSeries())
	assert.Equal(t, StateIdle, eng.Status())

	require.NoError(t, eng.Start())
	assert.Equal(t, StateRunning, eng.Status())
	assert.Error(t, eng.Start(), "double start must fail")

	eng.Stop()
	assert.Equal(t, StateStopped, eng.Status())
	assert.Error(t, eng.OnCandle(hourlyCandle(0, "100")), "candles after stop are refused")
	eng.Stop() // idempotent
}

func TestEngineOpensAndClosesPosition(t *testing.T) {
	sink := &captureSink{}
	rec := &memoryRecorder{}
	eng := newTestEngine(t, sink, rec, crossSeries())
	require.NoError(t, eng.Start())
	defer eng.Stop()

	closes := []string{"100", "100", "100", "110", "120"}
	for i, c := range closes[:3] {
		require.NoError(t, eng.OnCandle(hourlyCandle(i, c)))
	}

	// bar 2 crosses above: entry order fills asynchronously
	require.Eventually(t, func() bool {
		return len(eng.View().OpenPositions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	view := eng.View()
	pos := view.OpenPositions[0]
	assert.Equal(t, portfolio.Long, pos.Direction)
	assert.True(t, pos.EntryPrice.Equal(dec("100")))
	assert.True(t, pos.Quantity.Equal(dec("0.1")))

	for i, c := range closes[3:] {
		require.NoError(t, eng.OnCandle(hourlyCandle(3+i, c)))
	}

	// bar 4 crosses below: the position closes with (120-100)*0.1 = 2
	require.Eventually(t, func() bool {
		return len(eng.View().OpenPositions) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return eng.View().Equity.Equal(dec("10002"))
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, sink.byType(event.TypeSignal), 2)
	assert.Len(t, sink.byType(event.TypePositionOpened), 1)
	closedEvents := sink.byType(event.TypePositionClosed)
	require.Len(t, closedEvents, 1)
	assert.True(t, closedEvents[0].Position.PnL.Equal(dec("2")))

	trades := rec.all()
	require.Len(t, trades, 2)
	assert.Equal(t, portfolio.SignalEntry, trades[0].SignalType)
	assert.Equal(t, portfolio.SignalExit, trades[1].SignalType)
	assert.True(t, trades[1].RealizedPnL.Equal(dec("2")))
}

func TestEnginePauseSuspendsSignals(t *testing.T) {
	sink := &captureSink{}
	eng := newTestEngine(t, sink, nil, crossSeries())
	require.NoError(t, eng.Start())
	defer eng.Stop()

	ctx := context.Background()
	require.NoError(t, eng.Pause(ctx))
	assert.Equal(t, StatePaused, eng.Status())

	// the cross bar arrives while paused: history advances, nothing trades
	for i, c := range []string{"100", "100", "100"} {
		require.NoError(t, eng.OnCandle(hourlyCandle(i, c)))
	}
	require.NoError(t, eng.Resume(ctx)) // sync barrier: candles are processed
	assert.Empty(t, sink.byType(event.TypeSignal))
	assert.Empty(t, eng.View().OpenPositions)
	assert.Equal(t, StateRunning, eng.Status())
}

// slowVenue fills market orders like the paper venue but holds each
// PlaceOrder open until released, so tests can park an order in flight.
type slowVenue struct {
	paper   *execution.PaperVenue
	started chan struct{}
	release chan struct{}
}

func newSlowVenue() *slowVenue {
	return &slowVenue{
		paper:   execution.NewPaperVenue(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (v *slowVenue) Name() string { return "slow" }

func (v *slowVenue) PlaceOrder(ctx context.Context, order execution.Order) (execution.Result, error) {
	select {
	case v.started <- struct{}{}:
	default:
	}
	<-v.release
	return v.paper.PlaceOrder(ctx, order)
}

func (v *slowVenue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return v.paper.CancelOrder(ctx, orderID, symbol)
}

func (v *slowVenue) OrderStatus(ctx context.Context, orderID, symbol string) (execution.Result, error) {
	return v.paper.OrderStatus(ctx, orderID, symbol)
}

func TestEngineStopSettlesInFlightFill(t *testing.T) {
	sink := &captureSink{}
	rec := &memoryRecorder{}
	venue := newSlowVenue()
	eng, err := New(Config{
		SessionID:     "session-test",
		Definition:    crossoverDef(),
		Provider:      &scriptProvider{series: crossSeries()},
		Executor:      execution.NewExecutor(venue, execution.DefaultRetryPolicy()),
		Sink:          sink,
		Trades:        rec,
		InitialEquity: dec("10000"),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	// bar 2 crosses above and dispatches an entry that parks at the venue
	for i, c := range []string{"100", "100", "100"} {
		require.NoError(t, eng.OnCandle(hourlyCandle(i, c)))
	}
	select {
	case <-venue.started:
	case <-time.After(2 * time.Second):
		t.Fatal("entry order never reached the venue")
	}

	stopped := make(chan struct{})
	go func() {
		eng.Stop()
		close(stopped)
	}()

	// Stop must wait for the venue, not tear down around it
	select {
	case <-stopped:
		t.Fatal("stop returned while the order was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(venue.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not finish after the venue released the fill")
	}

	// the fill that landed during shutdown is settled and recorded
	assert.Equal(t, StateStopped, eng.Status())
	view := eng.View()
	require.Len(t, view.OpenPositions, 1, "shutdown fill must be tracked in session state")
	assert.True(t, view.OpenPositions[0].EntryPrice.Equal(dec("100")))
	assert.Len(t, sink.byType(event.TypePositionOpened), 1)

	trades := rec.all()
	require.Len(t, trades, 1)
	assert.Equal(t, portfolio.SignalEntry, trades[0].SignalType)
	assert.False(t, trades[0].Failed)
}

func TestEngineResumeSeesPausedHistory(t *testing.T) {
	sink := &captureSink{}
	eng := newTestEngine(t, sink, nil, map[string][]string{
		"fast": {"90", "95", "105", "106", "107"},
		"slow": {"100", "100", "100", "100", "100"},
	})
	require.NoError(t, eng.Start())
	defer eng.Stop()

	ctx := context.Background()
	for i, c := range []string{"100", "100"} {
		require.NoError(t, eng.OnCandle(hourlyCandle(i, c)))
	}
	require.NoError(t, eng.Pause(ctx))

	// the cross above happens entirely inside the pause
	require.NoError(t, eng.OnCandle(hourlyCandle(2, "100")))
	require.NoError(t, eng.OnCandle(hourlyCandle(3, "100")))
	require.NoError(t, eng.Resume(ctx))

	// fast has been above slow since bar 2; evaluating bar 4 against the real
	// previous bar must not re-detect the cross from the pre-pause snapshot
	require.NoError(t, eng.OnCandle(hourlyCandle(4, "100")))
	require.NoError(t, eng.Pause(ctx)) // barrier
	assert.Empty(t, sink.byType(event.TypeSignal))
	assert.Empty(t, eng.View().OpenPositions)
}

func TestEngineRejectsOversizedEntry(t *testing.T) {
	sink := &captureSink{}
	rec := &memoryRecorder{}
	eng, err := New(Config{
		Definition: &strategy.Definition{
			ID:        "oversized",
			Name:      "oversized",
			Symbol:    "BTC/USDT",
			Timeframe: "1h",
			Indicators: []indicator.Spec{
				{Name: "fast", Kind: "sma", Params: map[string]int{"period": 2}},
				{Name: "slow", Kind: "sma", Params: map[string]int{"period": 5}},
			},
			Entry: map[portfolio.Direction]condition.Condition{
				portfolio.Long: condition.CrossAbove{
					A: condition.IndicatorRef{Name: "fast"},
					B: condition.IndicatorRef{Name: "slow"},
				},
			},
			Exit: condition.CrossBelow{
				A: condition.IndicatorRef{Name: "fast"},
				B: condition.IndicatorRef{Name: "slow"},
			},
			// 1 BTC at 100k notional against 10k equity
			Sizing: strategy.SizingPolicy{Mode: strategy.SizingFixedQuantity, Quantity: dec("1")},
			Limits: risk.Limits{MaxPositionSizePct: dec("0.25")},
		},
		Provider:      &scriptProvider{series: crossSeries()},
		Executor:      execution.NewExecutor(execution.NewPaperVenue(), execution.DefaultRetryPolicy()),
		Sink:          sink,
		Trades:        rec,
		InitialEquity: dec("10000"),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	for i, c := range []string{"100000", "100000", "100000"} {
		require.NoError(t, eng.OnCandle(hourlyCandle(i, c)))
	}

	require.Eventually(t, func() bool {
		return len(sink.byType(event.TypeTradeRejected)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, eng.View().OpenPositions)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	failed := rec.all()[0]
	assert.True(t, failed.Failed)
	assert.Equal(t, string(risk.ReasonMaxPositionSize), failed.Note)
}

func TestEngineSeedDoesNotTrade(t *testing.T) {
	sink := &captureSink{}
	eng := newTestEngine(t, sink, nil, crossSeries())

	// seeded history contains the crossover; it must produce no orders
	history := make([]market.Candle, 3)
	for i := range history {
		history[i] = hourlyCandle(i, "100")
	}
	require.NoError(t, eng.Seed(context.Background(), history))
	require.NoError(t, eng.Start())
	defer eng.Stop()

	assert.Empty(t, sink.byType(event.TypeSignal))
	assert.Empty(t, eng.View().OpenPositions)

	// the first live bar continues from the seeded context: fast stays above
	// slow, so no fresh cross fires either
	require.NoError(t, eng.OnCandle(hourlyCandle(3, "110")))
	require.NoError(t, eng.Pause(context.Background())) // barrier
	assert.Empty(t, sink.byType(event.TypeSignal))

	// seeding a started session is refused
	assert.Error(t, eng.Seed(context.Background(), history))
}

func TestEngineValidatesConfig(t *testing.T) {
	base := Config{
		Definition:    crossoverDef(),
		Provider:      &scriptProvider{series: crossSeries()},
		Executor:      execution.NewExecutor(execution.NewPaperVenue(), execution.DefaultRetryPolicy()),
		InitialEquity: dec("10000"),
	}

	bad := base
	bad.Definition = nil
	_, err := New(bad)
	assert.Error(t, err)

	bad = base
	bad.Provider = nil
	_, err = New(bad)
	assert.Error(t, err)

	bad = base
	bad.Executor = nil
	_, err = New(bad)
	assert.Error(t, err)

	bad = base
	bad.InitialEquity = decimal.Zero
	_, err = New(bad)
	assert.Error(t, err)

	bad = base
	bad.Definition = &strategy.Definition{ID: "broken", Timeframe: "1h"}
	_, err = New(bad)
	var verr *strategy.ValidationError
	assert.ErrorAs(t, err, &verr)
}
