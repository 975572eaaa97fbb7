// Package backtest replays historical candles through the exact evaluation
// logic the live engine uses. Fills are simulated at the close of the signal
// bar with configurable commission and slippage; all money math stays in
// decimals end to end.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fathom/internal/analysis/indicator"
	"fathom/internal/engine"
	"fathom/internal/logger"
	"fathom/internal/market"
	"fathom/internal/portfolio"
	"fathom/internal/risk"
	"fathom/internal/strategy"
)

// Config describes one backtest run.
type Config struct {
	Definition    *strategy.Definition
	Provider      Provider
	InitialEquity decimal.Decimal
	// CommissionRate is charged on the notional of every fill (0.001 = 10 bps).
	CommissionRate decimal.Decimal
	// SlippageRate moves every fill against the trade (0.0005 = 5 bps).
	SlippageRate decimal.Decimal
	// Progress, when set, is called with (processed, total) bars at a coarse
	// cadence. It runs on the replay goroutine and must be cheap.
	Progress func(done, total int)
}

// Provider is the indicator surface the replay needs.
type Provider = indicator.Provider

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity decimal.Decimal
}

// Result is the complete outcome of one run. On cancellation the curve and
// trades cover every bar processed before the cut.
type Result struct {
	ID         string
	StrategyID string
	Symbol     string
	Timeframe  string

	Start time.Time
	End   time.Time

	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal

	Equity    []EquityPoint
	Trades    []portfolio.Trade
	Positions []portfolio.Position
	Rejected  int
	Bars      int

	Metrics Metrics
}

const progressEvery = 256

// Run replays candles in timestamp order. It returns ctx.Err() on
// cancellation together with the partial result accumulated so far.
func Run(ctx context.Context, cfg Config, candles []market.Candle) (*Result, error) {
	if cfg.Definition == nil {
		return nil, fmt.Errorf("backtest: nil definition")
	}
	if err := strategy.Validate(cfg.Definition); err != nil {
		return nil, err
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("backtest: nil indicator provider")
	}
	if !cfg.InitialEquity.IsPositive() {
		return nil, fmt.Errorf("backtest: initial equity must be positive, got %s", cfg.InitialEquity)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: empty candle set")
	}
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	def := cfg.Definition
	res := &Result{
		ID:            uuid.NewString(),
		StrategyID:    def.ID,
		Symbol:        def.Symbol,
		Timeframe:     def.Timeframe,
		Start:         sorted[0].Timestamp,
		End:           sorted[len(sorted)-1].Timestamp,
		InitialEquity: cfg.InitialEquity,
		Equity:        make([]EquityPoint, 0, len(sorted)),
	}

	sim := &simulator{
		cfg:     cfg,
		def:     def,
		builder: engine.NewContextBuilder(def, cfg.Provider),
		manager: portfolio.NewManager(),
		state:   portfolio.NewState(cfg.InitialEquity),
		res:     res,
	}

	total := len(sorted)
	for i := range sorted {
		if err := ctx.Err(); err != nil {
			sim.finalize(false)
			return res, err
		}
		if err := sim.step(ctx, sorted[:i+1]); err != nil {
			sim.finalize(false)
			return res, err
		}
		res.Bars++
		if cfg.Progress != nil && (res.Bars%progressEvery == 0 || res.Bars == total) {
			cfg.Progress(res.Bars, total)
		}
	}
	sim.finalize(true)
	logger.Debugf("backtest %s: %d bars, %d trades, final equity %s",
		res.ID, res.Bars, len(res.Trades), res.FinalEquity)
	return res, nil
}

// simulator holds the per-run mutable state.
type simulator struct {
	cfg     Config
	def     *strategy.Definition
	builder *engine.ContextBuilder
	manager *portfolio.Manager
	state   *portfolio.State
	res     *Result

	curDay   time.Time
	open     *portfolio.Position
	lastBar  market.Candle
	haveBars bool
}

func (s *simulator) step(ctx context.Context, window []market.Candle) error {
	c := window[len(window)-1]
	s.lastBar = c
	s.haveBars = true
	s.rollDay(c.Timestamp)

	evalCtx, ready, err := s.builder.Next(ctx, window)
	if err != nil {
		return err
	}
	if ready {
		sig, fired, err := engine.NextSignal(s.def, evalCtx, s.open)
		if err != nil {
			return err
		}
		if fired {
			if sig.Type == portfolio.SignalEntry {
				s.tryEnter(sig)
			} else {
				s.exit(sig)
			}
		}
	}

	s.mark(c.Close)
	s.res.Equity = append(s.res.Equity, EquityPoint{Time: c.Timestamp, Equity: s.state.CurrentEquity})
	return nil
}

func (s *simulator) rollDay(ts time.Time) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if s.curDay.IsZero() {
		s.curDay = day
		return
	}
	if day.After(s.curDay) {
		s.state.StartNewDay()
		s.curDay = day
	}
}

func (s *simulator) tryEnter(sig portfolio.Signal) {
	qty := s.def.Sizing.TargetQuantity(s.state.CurrentEquity, sig.Price)
	if !qty.IsPositive() {
		return
	}
	fillPrice := slip(sig.Price, s.cfg.SlippageRate, sig.Direction, portfolio.SignalEntry)

	decision := risk.Check(risk.Proposed{Symbol: sig.Symbol, Quantity: qty, Price: fillPrice}, s.state, s.def.Limits)
	if !decision.Allowed {
		s.res.Rejected++
		s.res.Trades = append(s.res.Trades, portfolio.NewFailedTrade(sig, qty, string(decision.Reason)))
		return
	}

	fill := sig
	fill.Price = fillPrice
	pos, err := s.manager.Open(fill, qty)
	if err != nil {
		// Quantity was checked positive above; anything here is a bug worth
		// surfacing in the trade log rather than silently dropping.
		s.res.Trades = append(s.res.Trades, portfolio.NewFailedTrade(sig, qty, err.Error()))
		return
	}
	s.state.Track(pos)
	s.open = &pos
	s.applyCommission(fillPrice, qty)
	s.res.Trades = append(s.res.Trades, portfolio.NewTrade(pos, fill, s.commission(fillPrice, qty)))
}

func (s *simulator) exit(sig portfolio.Signal) {
	if s.open == nil {
		return
	}
	fill := sig
	fill.Price = slip(sig.Price, s.cfg.SlippageRate, s.open.Direction, portfolio.SignalExit)

	closed, err := s.manager.Close(*s.open, fill)
	if err != nil {
		s.res.Trades = append(s.res.Trades, portfolio.NewFailedTrade(sig, s.open.Quantity, err.Error()))
		return
	}
	s.state.Settle(closed, nil)
	s.applyCommission(fill.Price, closed.Quantity)
	s.open = nil
	s.res.Positions = append(s.res.Positions, closed)
	s.res.Trades = append(s.res.Trades, portfolio.NewTrade(closed, fill, s.commission(fill.Price, closed.Quantity)))
}

func (s *simulator) mark(price decimal.Decimal) {
	s.state.MarkToMarket(func(p portfolio.Position) decimal.Decimal {
		return s.manager.UnrealizedPnL(p, price)
	})
}

func (s *simulator) commission(price, qty decimal.Decimal) decimal.Decimal {
	if !s.cfg.CommissionRate.IsPositive() {
		return decimal.Zero
	}
	return price.Mul(qty).Mul(s.cfg.CommissionRate)
}

func (s *simulator) applyCommission(price, qty decimal.Decimal) {
	if fee := s.commission(price, qty); fee.IsPositive() {
		s.state.ApplyCost(fee)
	}
}

// finalize liquidates any open position at the last close so the final
// equity and metrics account for it, then computes the run metrics.
func (s *simulator) finalize(complete bool) {
	if complete && s.open != nil && s.haveBars {
		s.exit(portfolio.Signal{
			Type:       portfolio.SignalExit,
			Direction:  s.open.Direction,
			Symbol:     s.open.Symbol,
			Price:      s.lastBar.Close,
			Timestamp:  s.lastBar.Timestamp,
			StrategyID: s.open.StrategyID,
		})
		s.mark(s.lastBar.Close)
		if n := len(s.res.Equity); n > 0 {
			s.res.Equity[n-1].Equity = s.state.CurrentEquity
		}
	}
	s.res.FinalEquity = s.state.CurrentEquity
	s.res.Metrics = ComputeMetrics(s.res.InitialEquity, s.res.Equity, s.res.Positions, s.def.Timeframe)
}

// slip moves the fill against the trade: entries pay up, exits give back.
func slip(price, rate decimal.Decimal, dir portfolio.Direction, kind portfolio.SignalType) decimal.Decimal {
	if !rate.IsPositive() {
		return price
	}
	adverse := dir == portfolio.Long
	if kind == portfolio.SignalExit {
		adverse = !adverse
	}
	if adverse {
		return price.Mul(decimal.NewFromInt(1).Add(rate))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(rate))
}
