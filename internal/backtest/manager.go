package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"fathom/internal/event"
	"fathom/internal/logger"
	"fathom/internal/market"
)

// SessionStatus is the lifecycle state of one queued run.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// SessionView is a copy of one session's externally visible state.
type SessionView struct {
	ID         string
	StrategyID string
	Symbol     string
	Status     SessionStatus
	Progress   decimal.Decimal // 0..100
	Message    string
	Result     *Result

	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

type session struct {
	view   SessionView
	cfg    Config
	data   []market.Candle
	cancel context.CancelFunc
}

// ErrUnknownSession is returned for IDs the manager never issued.
var ErrUnknownSession = errors.New("unknown backtest session")

// Manager queues runs and executes at most maxConcurrent of them at a time.
// Submissions past the limit wait their turn in submission order.
type Manager struct {
	sem   *semaphore.Weighted
	sink  event.Sink
	store *ResultStore // optional

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session

	wg sync.WaitGroup
}

// NewManager builds a manager with the given pool size. store may be nil.
func NewManager(maxConcurrent int, sink event.Sink, store *ResultStore) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		sink:       sink,
		store:      store,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[string]*session),
	}
}

// Submit queues one run and returns its session ID immediately.
func (m *Manager) Submit(cfg Config, candles []market.Candle) (string, error) {
	if cfg.Definition == nil {
		return "", fmt.Errorf("backtest: nil definition")
	}
	if len(candles) == 0 {
		return "", fmt.Errorf("backtest: empty candle set")
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	s := &session{
		view: SessionView{
			ID:          uuid.NewString(),
			StrategyID:  cfg.Definition.ID,
			Symbol:      cfg.Definition.Symbol,
			Status:      SessionPending,
			SubmittedAt: time.Now(),
		},
		cfg:    cfg,
		data:   candles,
		cancel: cancel,
	}

	m.mu.Lock()
	m.sessions[s.view.ID] = s
	m.mu.Unlock()
	logger.Infof("backtest: session %s queued (%s, %d candles)", s.view.ID, s.view.Symbol, len(candles))

	m.wg.Add(1)
	go m.run(runCtx, s.view.ID)
	return s.view.ID, nil
}

func (m *Manager) run(ctx context.Context, id string) {
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while still queued.
		m.finish(id, SessionCancelled, err.Error(), nil)
		return
	}
	defer m.sem.Release(1)

	s := m.get(id)
	if s == nil {
		return
	}
	m.update(id, func(v *SessionView) {
		v.Status = SessionRunning
		v.StartedAt = time.Now()
	})

	cfg := s.cfg
	total := len(s.data)
	userProgress := cfg.Progress
	cfg.Progress = func(done, _ int) {
		pct := decimal.NewFromInt(int64(done)).
			Div(decimal.NewFromInt(int64(total))).
			Mul(decimal.NewFromInt(100))
		m.update(id, func(v *SessionView) { v.Progress = pct })
		m.sink.Publish(event.Event{
			Type:       event.TypeBacktestProgress,
			SessionID:  id,
			StrategyID: s.view.StrategyID,
			Symbol:     s.view.Symbol,
			At:         time.Now(),
			Progress:   pct,
		})
		if userProgress != nil {
			userProgress(done, total)
		}
	}

	res, err := Run(ctx, cfg, s.data)
	switch {
	case err == nil:
		m.persist(res)
		m.finish(id, SessionCompleted, "", res)
	case errors.Is(err, context.Canceled):
		// Partial equity curve and trades up to the cut are kept.
		m.finish(id, SessionCancelled, "cancelled", res)
	default:
		m.finish(id, SessionFailed, err.Error(), res)
	}
}

func (m *Manager) persist(res *Result) {
	if m.store == nil || res == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveResult(ctx, res); err != nil {
		logger.Warnf("backtest: result %s not persisted: %v", res.ID, err)
	}
}

func (m *Manager) finish(id string, status SessionStatus, msg string, res *Result) {
	m.update(id, func(v *SessionView) {
		v.Status = status
		v.Message = msg
		v.Result = res
		v.FinishedAt = time.Now()
		if status == SessionCompleted {
			v.Progress = decimal.NewFromInt(100)
		}
	})
	view, ok := m.Session(id)
	if !ok {
		return
	}
	logger.Infof("backtest: session %s %s", id, status)
	m.sink.Publish(event.Event{
		Type:       event.TypeBacktestDone,
		SessionID:  id,
		StrategyID: view.StrategyID,
		Symbol:     view.Symbol,
		At:         time.Now(),
		Status:     string(status),
		Reason:     msg,
	})
}

// Cancel stops a pending or running session. Completed sessions are left
// untouched.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var status SessionStatus
	if ok {
		status = s.view.Status
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	switch status {
	case SessionPending, SessionRunning:
		s.cancel()
		return nil
	default:
		return fmt.Errorf("session %s already %s", id, status)
	}
}

// Session returns a copy of one session's state.
func (m *Manager) Session(id string) (SessionView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return SessionView{}, false
	}
	return s.view, true
}

// Sessions lists all sessions, newest first.
func (m *Manager) Sessions() []SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Close cancels everything outstanding and waits for workers to exit.
func (m *Manager) Close() {
	m.baseCancel()
	m.wg.Wait()
}

func (m *Manager) get(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) update(id string, fn func(*SessionView)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		fn(&s.view)
	}
}
