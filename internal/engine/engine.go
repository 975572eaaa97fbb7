// Package engine runs one live strategy session as an event-driven actor.
// All state mutation happens inside a single run loop; candles, control
// messages, and asynchronous order results are serialized through one channel
// so no locking is needed on the session state.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fathom/internal/analysis/indicator"
	"fathom/internal/event"
	"fathom/internal/execution"
	"fathom/internal/logger"
	"fathom/internal/market"
	"fathom/internal/portfolio"
	"fathom/internal/risk"
	"fathom/internal/strategy"
)

// SessionState is the lifecycle state of one engine.
type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateRunning SessionState = "running"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// TradeRecorder persists executed and failed trade records. Implementations
// must tolerate being called from the actor loop and return quickly.
type TradeRecorder interface {
	SaveTrade(ctx context.Context, trade portfolio.Trade) error
}

const (
	defaultLookback = 500
	orderTimeout    = 30 * time.Second
)

// Config wires one session.
type Config struct {
	SessionID  string
	Definition *strategy.Definition
	Provider   indicator.Provider
	Executor   *execution.Executor
	Sink       event.Sink
	Trades     TradeRecorder // optional

	InitialEquity decimal.Decimal
	// Lookback is how many candles the session retains; raised automatically
	// to cover the slowest indicator's warmup.
	Lookback int
}

type msgKind int

const (
	msgCandle msgKind = iota
	msgOrderResult
	msgPause
	msgResume
)

type orderResult struct {
	sig portfolio.Signal
	qty decimal.Decimal
	res execution.Result
}

type envelope struct {
	kind    msgKind
	candle  market.Candle
	result  orderResult
	replyCh chan error
}

// Snapshot is the read-only view handed to callers outside the loop.
type Snapshot struct {
	SessionID     string
	State         SessionState
	Equity        decimal.Decimal
	OpenPositions []portfolio.Position
	Risk          risk.Metrics
	LastCandle    time.Time
}

// Engine is one live strategy session.
type Engine struct {
	id       string
	def      *strategy.Definition
	provider indicator.Provider
	executor *execution.Executor
	sink     event.Sink
	trades   TradeRecorder

	series  *market.Series
	builder *ContextBuilder
	manager *portfolio.Manager
	state   *portfolio.State

	msgCh    chan envelope
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	// Loop-owned; never touched outside runLoop.
	paused       bool
	pendingOrder bool
	curDay       time.Time

	status   atomic.Value // SessionState
	snapshot atomic.Value // Snapshot
	stopOnce sync.Once
}

// New validates the definition and builds an idle session.
func New(cfg Config) (*Engine, error) {
	if cfg.Definition == nil {
		return nil, fmt.Errorf("engine: nil definition")
	}
	if err := strategy.Validate(cfg.Definition); err != nil {
		return nil, err
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("engine: nil indicator provider")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("engine: nil executor")
	}
	if !cfg.InitialEquity.IsPositive() {
		return nil, fmt.Errorf("engine: initial equity must be positive, got %s", cfg.InitialEquity)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Sink == nil {
		cfg.Sink = event.NopSink{}
	}

	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	for _, spec := range cfg.Definition.Indicators {
		if w, ok := indicator.Warmup(spec); ok && w+2 > lookback {
			lookback = w + 2
		}
	}

	e := &Engine{
		id:       cfg.SessionID,
		def:      cfg.Definition,
		provider: cfg.Provider,
		executor: cfg.Executor,
		sink:     cfg.Sink,
		trades:   cfg.Trades,
		series:   market.NewSeries(lookback),
		builder:  NewContextBuilder(cfg.Definition, cfg.Provider),
		manager:  portfolio.NewManager(),
		state:    portfolio.NewState(cfg.InitialEquity),
		msgCh:    make(chan envelope, 128),
		stopCh:   make(chan struct{}),
	}
	e.status.Store(StateIdle)
	e.refreshSnapshot()
	return e, nil
}

// ID returns the session identifier.
func (e *Engine) ID() string { return e.id }

// Lookback is how many candles the session retains, covering the slowest
// indicator's warmup. Callers use it to size the history prefetch.
func (e *Engine) Lookback() int { return e.series.Cap() }

// Seed preloads historical candles into an idle session so the first live bar
// arrives with a warm indicator context. Seeded bars never produce signals.
func (e *Engine) Seed(ctx context.Context, candles []market.Candle) error {
	if e.Status() != StateIdle {
		return fmt.Errorf("engine %s: seed requires an idle session, got %s", e.id, e.Status())
	}
	for _, c := range candles {
		e.series.Append(c)
		e.rollDay(c.Timestamp)
		if _, _, err := e.builder.Next(ctx, e.series.Window(e.series.Len())); err != nil {
			return err
		}
	}
	e.refreshSnapshot()
	return nil
}

// Status reports the session lifecycle state.
func (e *Engine) Status() SessionState {
	return e.status.Load().(SessionState)
}

// View returns the latest snapshot of the session.
func (e *Engine) View() Snapshot {
	return e.snapshot.Load().(Snapshot)
}

// Start moves the session to running and launches the actor loop.
func (e *Engine) Start() error {
	if e.Status() != StateIdle {
		return fmt.Errorf("engine %s: start from %s", e.id, e.Status())
	}
	e.status.Store(StateRunning)
	e.publishStatus(string(StateRunning))
	e.wg.Add(1)
	go e.runLoop()
	logger.Infof("engine %s: session started (%s %s)", e.id, e.def.Symbol, e.def.Timeframe)
	return nil
}

// Stop tears the session down: the loop exits, then any order still at the
// venue is resolved and its result settled, so a fill that lands during
// shutdown is recorded rather than orphaned.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		e.drainPending()
		e.status.Store(StateStopped)
		e.refreshSnapshot()
		e.publishStatus(string(StateStopped))
		logger.Infof("engine %s: session stopped", e.id)
	})
}

// drainPending runs after the loop has exited. It keeps reading msgCh until
// every dispatch goroutine has delivered its result, settling order outcomes
// and rejecting late sync calls. Stop owns the session state at this point,
// so handling results here is still single-threaded.
func (e *Engine) drainPending() {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	for {
		select {
		case msg := <-e.msgCh:
			e.flushStopped(msg)
		case <-done:
			for {
				select {
				case msg := <-e.msgCh:
					e.flushStopped(msg)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) flushStopped(msg envelope) {
	if msg.kind == msgOrderResult {
		e.handle(msg)
		return
	}
	// Buffered candles are stale at this point; sync callers get told.
	if msg.replyCh != nil {
		msg.replyCh <- fmt.Errorf("engine %s: session stopped", e.id)
		close(msg.replyCh)
	}
}

// OnCandle feeds one closed candle into the session.
func (e *Engine) OnCandle(c market.Candle) error {
	return e.send(envelope{kind: msgCandle, candle: c})
}

// Pause suspends signal evaluation; candle history keeps accumulating.
func (e *Engine) Pause(ctx context.Context) error {
	return e.sendSync(ctx, envelope{kind: msgPause})
}

// Resume re-enables signal evaluation.
func (e *Engine) Resume(ctx context.Context) error {
	return e.sendSync(ctx, envelope{kind: msgResume})
}

func (e *Engine) send(msg envelope) error {
	select {
	case e.msgCh <- msg:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("engine %s: session stopped", e.id)
	}
}

func (e *Engine) sendSync(ctx context.Context, msg envelope) error {
	msg.replyCh = make(chan error, 1)
	if err := e.send(msg); err != nil {
		return err
	}
	select {
	case err := <-msg.replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return fmt.Errorf("engine %s: stopped during sync call", e.id)
	}
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.msgCh:
			e.handle(msg)
		case <-e.stopCh:
			return
		}
	}
}

// handle processes one message with panic isolation: a bad bar or handler
// bug must not take the whole session down.
func (e *Engine) handle(msg envelope) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine %s: panic handling message: %v", e.id, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if msg.replyCh != nil {
			msg.replyCh <- err
			close(msg.replyCh)
		}
	}()

	switch msg.kind {
	case msgPause:
		e.paused = true
		e.status.Store(StatePaused)
		e.refreshSnapshot()
		e.publishStatus(string(StatePaused))
	case msgResume:
		e.paused = false
		e.status.Store(StateRunning)
		e.refreshSnapshot()
		e.publishStatus(string(StateRunning))
	case msgCandle:
		err = e.handleCandle(msg.candle)
	case msgOrderResult:
		err = e.handleOrderResult(msg.result)
	}
	if err != nil {
		logger.Errorf("engine %s: %v", e.id, err)
	}
}

func (e *Engine) handleCandle(c market.Candle) error {
	e.series.Append(c)
	e.rollDay(c.Timestamp)

	// Mark open positions to the new close before any decision is made.
	if e.state.OpenCount() > 0 {
		e.state.MarkToMarket(func(p portfolio.Position) decimal.Decimal {
			return e.manager.UnrealizedPnL(p, c.Close)
		})
		e.publishPnL(c.Timestamp)
	}
	e.refreshSnapshot()

	// The context builder advances on every bar, paused included, so the
	// first evaluation after Resume sees the true previous bar instead of a
	// stale pre-pause snapshot.
	evalCtx, ready, err := e.builder.Next(context.Background(), e.series.Window(e.series.Len()))
	if err != nil {
		return err
	}
	if !ready || e.paused {
		return nil
	}
	// One order in flight at a time; the bar that lands while we wait for the
	// venue is history, not a second trigger.
	if e.pendingOrder {
		return nil
	}

	var openPtr *portfolio.Position
	if open, ok := e.state.OpenPosition(e.def.Symbol, e.def.ID); ok {
		openPtr = &open
	}
	sig, fired, err := NextSignal(e.def, evalCtx, openPtr)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}
	e.sink.Publish(event.Event{
		Type:       event.TypeSignal,
		SessionID:  e.id,
		StrategyID: e.def.ID,
		Symbol:     sig.Symbol,
		At:         sig.Timestamp,
		Signal:     &sig,
	})

	if sig.Type == portfolio.SignalEntry {
		return e.placeEntry(sig)
	}
	return e.placeExit(sig, openPtr)
}

// rollDay folds realized P&L into the daily baseline at each UTC date change
// observed on the candle clock.
func (e *Engine) rollDay(ts time.Time) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if e.curDay.IsZero() {
		e.curDay = day
		return
	}
	if day.After(e.curDay) {
		e.state.StartNewDay()
		e.curDay = day
		logger.Debugf("engine %s: daily baseline rolled to %s", e.id, day.Format("2006-01-02"))
	}
}

func (e *Engine) placeEntry(sig portfolio.Signal) error {
	qty := e.def.Sizing.TargetQuantity(e.state.CurrentEquity, sig.Price)
	if !qty.IsPositive() {
		logger.Debugf("engine %s: entry signal unsizable at equity %s", e.id, e.state.CurrentEquity)
		return nil
	}

	decision := risk.Check(risk.Proposed{Symbol: sig.Symbol, Quantity: qty, Price: sig.Price}, e.state, e.def.Limits)
	if !decision.Allowed {
		reason := string(decision.Reason)
		logger.Warnf("engine %s: entry rejected by risk control: %s", e.id, reason)
		e.sink.Publish(event.Event{
			Type:       event.TypeTradeRejected,
			SessionID:  e.id,
			StrategyID: e.def.ID,
			Symbol:     sig.Symbol,
			At:         sig.Timestamp,
			Signal:     &sig,
			Reason:     reason,
		})
		e.recordTrade(portfolio.NewFailedTrade(sig, qty, reason))
		return nil
	}

	e.dispatch(sig, qty)
	return nil
}

func (e *Engine) placeExit(sig portfolio.Signal, open *portfolio.Position) error {
	if open == nil {
		return fmt.Errorf("exit signal with no open position for %s", sig.Symbol)
	}
	e.dispatch(sig, open.Quantity)
	return nil
}

// dispatch submits the order on its own goroutine and reports the outcome
// back into the loop, so a slow venue never blocks candle ingestion.
func (e *Engine) dispatch(sig portfolio.Signal, qty decimal.Decimal) {
	e.pendingOrder = true
	order := execution.Order{
		ID:         uuid.NewString(),
		SessionID:  e.id,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Side:       orderSide(sig),
		Type:       execution.TypeMarket,
		Quantity:   qty,
		Price:      sig.Price,
		Timestamp:  sig.Timestamp,
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
		defer cancel()

		res := e.executor.Execute(ctx, order)
		// Unconditional send: either the run loop or Stop's drain reads it,
		// so the result can never be lost during shutdown.
		e.msgCh <- envelope{kind: msgOrderResult, result: orderResult{sig: sig, qty: qty, res: res}}
	}()
}

func orderSide(sig portfolio.Signal) execution.Side {
	long := sig.Direction == portfolio.Long
	if sig.Type == portfolio.SignalExit {
		long = !long
	}
	if long {
		return execution.SideBuy
	}
	return execution.SideSell
}

func (e *Engine) handleOrderResult(r orderResult) error {
	e.pendingOrder = false

	if r.res.State != execution.StateFilled {
		reason := "order not filled"
		if r.res.Err != nil {
			reason = r.res.Err.Error()
		}
		logger.Errorf("engine %s: %s order for %s failed: %s", e.id, r.sig.Type, r.sig.Symbol, reason)
		e.sink.Publish(event.Event{
			Type:       event.TypeOrderFailed,
			SessionID:  e.id,
			StrategyID: e.def.ID,
			Symbol:     r.sig.Symbol,
			At:         time.Now(),
			Signal:     &r.sig,
			Reason:     reason,
		})
		e.recordTrade(portfolio.NewFailedTrade(r.sig, r.qty, reason))
		return nil
	}

	fill := r.sig
	if r.res.FillPrice.IsPositive() {
		fill.Price = r.res.FillPrice
	}

	switch r.sig.Type {
	case portfolio.SignalEntry:
		qty := r.qty
		if r.res.FilledQuantity.IsPositive() {
			qty = r.res.FilledQuantity
		}
		pos, err := e.manager.Open(fill, qty)
		if err != nil {
			return err
		}
		e.state.Track(pos)
		e.sink.Publish(event.Event{
			Type:       event.TypePositionOpened,
			SessionID:  e.id,
			StrategyID: e.def.ID,
			Symbol:     pos.Symbol,
			At:         pos.EntryTime,
			Position:   &pos,
		})
		e.recordTrade(portfolio.NewTrade(pos, fill, decimal.Zero))
	case portfolio.SignalExit:
		open, ok := e.state.OpenPosition(r.sig.Symbol, r.sig.StrategyID)
		if !ok {
			return fmt.Errorf("fill for %s but no open position", r.sig.Symbol)
		}
		closed, err := e.manager.Close(open, fill)
		if err != nil {
			return err
		}
		e.state.Settle(closed, func(p portfolio.Position) decimal.Decimal {
			return e.manager.UnrealizedPnL(p, fill.Price)
		})
		e.sink.Publish(event.Event{
			Type:       event.TypePositionClosed,
			SessionID:  e.id,
			StrategyID: e.def.ID,
			Symbol:     closed.Symbol,
			At:         closed.ExitTime,
			Position:   &closed,
		})
		e.publishPnL(closed.ExitTime)
		e.recordTrade(portfolio.NewTrade(closed, fill, decimal.Zero))
	}
	e.refreshSnapshot()
	return nil
}

func (e *Engine) recordTrade(t portfolio.Trade) {
	if e.trades == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.trades.SaveTrade(ctx, t); err != nil {
		logger.Warnf("engine %s: trade record not saved: %v", e.id, err)
	}
}

func (e *Engine) publishPnL(at time.Time) {
	e.sink.Publish(event.Event{
		Type:       event.TypePnLUpdated,
		SessionID:  e.id,
		StrategyID: e.def.ID,
		Symbol:     e.def.Symbol,
		At:         at,
		Equity:     e.state.CurrentEquity,
	})
}

func (e *Engine) publishStatus(status string) {
	e.sink.Publish(event.Event{
		Type:       event.TypeSessionStatus,
		SessionID:  e.id,
		StrategyID: e.def.ID,
		Symbol:     e.def.Symbol,
		At:         time.Now(),
		Status:     status,
	})
}

func (e *Engine) refreshSnapshot() {
	e.snapshot.Store(Snapshot{
		SessionID:     e.id,
		State:         e.Status(),
		Equity:        e.state.CurrentEquity,
		OpenPositions: e.state.OpenPositions(),
		Risk:          risk.CalculateMetrics(e.state, e.def.Limits),
		LastCandle:    e.lastCandleTime(),
	})
}

func (e *Engine) lastCandleTime() time.Time {
	if c, ok := e.series.Last(); ok {
		return c.Timestamp
	}
	return time.Time{}
}
