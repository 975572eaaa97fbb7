// Package app wires the process together: configuration, market data feed,
// order venue, live strategy sessions, and the backtest pool. Everything the
// binary does happens through App; main only loads config and calls Run.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fathom/internal/analysis/indicator"
	"fathom/internal/backtest"
	"fathom/internal/config"
	"fathom/internal/engine"
	"fathom/internal/event"
	"fathom/internal/execution"
	"fathom/internal/gateway/binance"
	"fathom/internal/logger"
	"fathom/internal/market"
	"fathom/internal/store/gormstore"
	"fathom/internal/strategy"
)

const seedTimeout = 2 * time.Minute

// App owns every long-lived component of the process.
type App struct {
	cfg      *config.Config
	source   market.Source
	executor *execution.Executor
	provider indicator.Provider
	sink     event.Sink

	trades    *gormstore.Store
	results   *backtest.ResultStore
	backtests *backtest.Manager
	watcher   *strategy.Watcher

	mu       sync.Mutex
	sessions map[string]*session // strategy ID -> running session
}

// session pairs a live engine with the feed key it listens on.
type session struct {
	engine   *engine.Engine
	symbol   string // normalized, e.g. BTCUSDT
	interval string
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	trades, err := gormstore.New(filepath.Join(cfg.DataDir, "fathom.db"))
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.DataDir)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("open backtest store: %w", err)
	}

	gwCfg := gatewayConfig(cfg.Binance)
	source, err := binance.NewSource(gwCfg)
	if err != nil {
		results.Close()
		trades.Close()
		return nil, fmt.Errorf("init market feed: %w", err)
	}

	var venue execution.Venue
	if cfg.Mode == "live" {
		venue, err = binance.NewVenue(gwCfg)
		if err != nil {
			source.Close()
			results.Close()
			trades.Close()
			return nil, fmt.Errorf("init live venue: %w", err)
		}
		logger.Infof("✓ live order venue enabled")
	} else {
		venue = execution.NewPaperVenue()
		logger.Infof("✓ paper trading mode")
	}

	a := &App{
		cfg:      cfg,
		source:   source,
		provider: indicator.NewTalibProvider(),
		trades:   trades,
		results:  results,
		sessions: make(map[string]*session),
	}
	a.sink = event.Multi{logSink{}, event.SinkFunc(a.onEvent)}
	a.executor = execution.NewExecutor(venue, retryPolicy(cfg.Execution))
	a.backtests = backtest.NewManager(cfg.Backtest.MaxConcurrent, a.sink, results)
	a.watcher = strategy.NewWatcher(cfg.StrategiesDir, a.reload)
	return a, nil
}

// Backtests exposes the backtest pool for outer transports.
func (a *App) Backtests() *backtest.Manager { return a.backtests }

// Trades exposes the trade store for outer transports.
func (a *App) Trades() *gormstore.Store { return a.trades }

// Run starts every strategy session found in the strategies directory,
// subscribes to the market feed, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	defs, err := a.watcher.LoadAll()
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	if len(defs) == 0 {
		logger.Warnf("no strategy definitions in %s; only backtests will run", a.cfg.StrategiesDir)
	}
	for _, def := range defs {
		if err := a.startSession(ctx, def); err != nil {
			logger.Errorf("strategy %s: %v", def.ID, err)
		}
	}

	symbols, intervals := a.feedKeys()
	var events <-chan market.CandleEvent
	if len(symbols) > 0 {
		events, err = a.source.Subscribe(ctx, symbols, intervals, market.SubscribeOptions{
			OnConnect:    func() { logger.Infof("market feed connected (%d symbols)", len(symbols)) },
			OnDisconnect: func(err error) { logger.Warnf("market feed dropped: %v", err) },
		})
		if err != nil {
			return fmt.Errorf("subscribe market feed: %w", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := a.watcher.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})
	if events != nil {
		group.Go(func() error {
			a.dispatch(ctx, events)
			return nil
		})
	}
	return group.Wait()
}

// dispatch routes closed candles from the feed into the matching sessions.
func (a *App) dispatch(ctx context.Context, events <-chan market.CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Closed {
				continue
			}
			for _, s := range a.matching(ev.Symbol, ev.Interval) {
				if err := s.engine.OnCandle(ev.Candle); err != nil {
					logger.Warnf("session %s: %v", s.engine.ID(), err)
				}
			}
		}
	}
}

func (a *App) matching(symbol, interval string) []*session {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*session
	for _, s := range a.sessions {
		if s.symbol == symbol && s.interval == interval {
			out = append(out, s)
		}
	}
	return out
}

// startSession validates the definition, preloads history, and launches the
// engine. An existing session for the same strategy ID is stopped first.
func (a *App) startSession(ctx context.Context, def *strategy.Definition) error {
	tf, err := market.ParseTimeframe(def.Timeframe)
	if err != nil {
		return err
	}

	a.mu.Lock()
	old := a.sessions[def.ID]
	delete(a.sessions, def.ID)
	a.mu.Unlock()
	if old != nil {
		old.engine.Stop()
	}

	eng, err := engine.New(engine.Config{
		Definition:    def,
		Provider:      a.provider,
		Executor:      a.executor,
		Sink:          a.sink,
		Trades:        a.trades,
		InitialEquity: a.cfg.InitialEquity,
	})
	if err != nil {
		return err
	}

	seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()
	history, err := a.source.FetchHistory(seedCtx, def.Symbol, tf.SourceInterval, eng.Lookback())
	if err != nil {
		logger.Warnf("strategy %s: history prefetch failed, starting cold: %v", def.ID, err)
	} else if err := eng.Seed(seedCtx, history); err != nil {
		return fmt.Errorf("seed session: %w", err)
	}

	if err := eng.Start(); err != nil {
		return err
	}
	a.mu.Lock()
	a.sessions[def.ID] = &session{
		engine:   eng,
		symbol:   feedSymbol(def.Symbol),
		interval: tf.SourceInterval,
	}
	a.mu.Unlock()
	logger.Infof("✓ strategy %s (%s) live on %s %s", def.Name, def.ID, def.Symbol, def.Timeframe)
	return nil
}

// reload restarts the session for a changed definition file. The feed
// subscription is fixed at startup, so a definition moving to a symbol or
// timeframe that was not subscribed needs a process restart to receive data.
func (a *App) reload(def *strategy.Definition) {
	sym, tf := feedSymbol(def.Symbol), def.Timeframe
	if parsed, err := market.ParseTimeframe(tf); err == nil {
		if !a.subscribed(sym, parsed.SourceInterval) {
			logger.Warnf("strategy %s: %s %s is not in the startup subscription; restart to pick it up", def.ID, def.Symbol, tf)
		}
	}
	if err := a.startSession(context.Background(), def); err != nil {
		logger.Errorf("strategy %s: reload failed: %v", def.ID, err)
	}
}

func (a *App) subscribed(symbol, interval string) bool {
	symbols, intervals := a.feedKeys()
	has := func(items []string, want string) bool {
		for _, it := range items {
			if it == want {
				return true
			}
		}
		return false
	}
	return has(symbols, symbol) && has(intervals, interval)
}

// feedKeys returns the deduplicated symbols and intervals of all sessions.
func (a *App) feedKeys() (symbols, intervals []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	symSeen := make(map[string]bool)
	intSeen := make(map[string]bool)
	for _, s := range a.sessions {
		if !symSeen[s.symbol] {
			symSeen[s.symbol] = true
			symbols = append(symbols, s.symbol)
		}
		if !intSeen[s.interval] {
			intSeen[s.interval] = true
			intervals = append(intervals, s.interval)
		}
	}
	return symbols, intervals
}

// onEvent reacts to engine and backtest events that need app-level work:
// finished backtests get an HTML report written next to the data dir.
func (a *App) onEvent(e event.Event) {
	if e.Type != event.TypeBacktestDone || e.Status != string(backtest.SessionCompleted) {
		return
	}
	view, ok := a.backtests.Session(e.SessionID)
	if !ok || view.Result == nil {
		return
	}
	dir := a.cfg.Backtest.ReportsDir
	if dir == "" {
		dir = filepath.Join(a.cfg.DataDir, "reports")
	}
	path, err := backtest.WriteReportFile(dir, view.Result)
	if err != nil {
		logger.Warnf("backtest %s: report write failed: %v", e.SessionID, err)
		return
	}
	logger.Infof("backtest %s: report written to %s", e.SessionID, path)
}

func (a *App) close() {
	a.mu.Lock()
	running := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		running = append(running, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()
	for _, s := range running {
		s.engine.Stop()
	}
	a.backtests.Close()
	if err := a.source.Close(); err != nil {
		logger.Warnf("close market feed: %v", err)
	}
	if err := a.results.Close(); err != nil {
		logger.Warnf("close backtest store: %v", err)
	}
	if err := a.trades.Close(); err != nil {
		logger.Warnf("close trade store: %v", err)
	}
}

func gatewayConfig(c config.BinanceConfig) binance.Config {
	return binance.Config{
		APIKey:       c.APIKey,
		APISecret:    c.APISecret,
		RESTBaseURL:  c.RESTBaseURL,
		HTTPTimeout:  time.Duration(c.HTTPTimeoutSeconds) * time.Second,
		ProxyEnabled: c.ProxyEnabled,
		RESTProxyURL: c.RESTProxyURL,
		WSProxyURL:   c.WSProxyURL,
	}
}

func retryPolicy(c config.ExecutionConfig) execution.RetryPolicy {
	p := execution.DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMS > 0 {
		p.InitialBackoff = time.Duration(c.InitialBackoffMS) * time.Millisecond
	}
	if c.MaxBackoffMS > 0 {
		p.MaxBackoff = time.Duration(c.MaxBackoffMS) * time.Millisecond
	}
	if c.BackoffFactor > 1 {
		p.BackoffFactor = c.BackoffFactor
	}
	if c.JitterFactor > 0 {
		p.JitterFactor = c.JitterFactor
	}
	return p
}

func feedSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	return strings.ReplaceAll(symbol, "-", "")
}

// logSink writes a one-line log entry per published event.
type logSink struct{}

func (logSink) Publish(e event.Event) {
	switch e.Type {
	case event.TypeSignal:
		if e.Signal != nil {
			logger.Infof("[signal] %s %s %s @ %s", e.StrategyID, e.Signal.Type, e.Symbol, e.Signal.Price)
		}
	case event.TypePositionOpened:
		if e.Position != nil {
			logger.Infof("[open] %s %s %s qty=%s @ %s", e.StrategyID, e.Position.Direction, e.Symbol, e.Position.Quantity, e.Position.EntryPrice)
		}
	case event.TypePositionClosed:
		if e.Position != nil {
			logger.Infof("[close] %s %s pnl=%s (%s%%)", e.StrategyID, e.Symbol, e.Position.PnL, e.Position.PnLPercent)
		}
	case event.TypeTradeRejected:
		logger.Warnf("[rejected] %s %s: %s", e.StrategyID, e.Symbol, e.Reason)
	case event.TypeOrderFailed:
		logger.Warnf("[order failed] %s %s: %s", e.StrategyID, e.Symbol, e.Reason)
	case event.TypeSessionStatus:
		logger.Infof("[session] %s -> %s", e.SessionID, e.Status)
	case event.TypeBacktestDone:
		logger.Infof("[backtest] %s %s: %s", e.SessionID, e.Status, e.Reason)
	}
}
