package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// ResultStore persists completed runs. Money columns are stored as TEXT so
// decimals survive the round trip without float drift.
type ResultStore struct {
	db   *sql.DB
	path string
}

// NewResultStore opens (or creates) the results database under root.
func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "backtests.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			bars INTEGER NOT NULL,
			initial_equity TEXT NOT NULL,
			final_equity TEXT NOT NULL,
			total_return_pct TEXT NOT NULL,
			max_drawdown_pct TEXT NOT NULL,
			sharpe_ratio TEXT NOT NULL,
			profit_factor TEXT NOT NULL,
			win_rate TEXT NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			rejected INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity TEXT NOT NULL,
			FOREIGN KEY(result_id) REFERENCES backtest_results(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id TEXT PRIMARY KEY,
			result_id TEXT NOT NULL,
			position_id TEXT,
			direction TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			commission TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			executed_at INTEGER NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			note TEXT,
			FOREIGN KEY(result_id) REFERENCES backtest_results(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_result ON backtest_equity(result_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_result ON backtest_trades(result_id, executed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveResult writes one run with its equity curve and trade log in a single
// transaction.
func (s *ResultStore) SaveResult(ctx context.Context, res *Result) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m := res.Metrics
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_results
			(id, strategy_id, symbol, timeframe, start_ts, end_ts, bars,
			 initial_equity, final_equity, total_return_pct, max_drawdown_pct,
			 sharpe_ratio, profit_factor, win_rate, total_trades, winning_trades,
			 losing_trades, rejected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StrategyID, res.Symbol, res.Timeframe,
		res.Start.UnixMilli(), res.End.UnixMilli(), res.Bars,
		res.InitialEquity.String(), res.FinalEquity.String(),
		m.TotalReturnPct.String(), m.MaxDrawdownPct.String(),
		m.SharpeRatio.String(), m.ProfitFactor.String(), m.WinRate.String(),
		m.TotalTrades, m.WinningTrades, m.LosingTrades, res.Rejected,
		time.Now().UnixMilli())
	if err != nil {
		return err
	}

	eqStmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_equity (result_id, ts, equity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()
	for _, pt := range res.Equity {
		if _, err := eqStmt.ExecContext(ctx, res.ID, pt.Time.UnixMilli(), pt.Equity.String()); err != nil {
			return err
		}
	}

	trStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(id, result_id, position_id, direction, signal_type, quantity, price,
			 commission, realized_pnl, executed_at, failed, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer trStmt.Close()
	for _, t := range res.Trades {
		failed := 0
		if t.Failed {
			failed = 1
		}
		if _, err := trStmt.ExecContext(ctx, t.ID, res.ID, t.PositionID,
			string(t.Direction), string(t.SignalType), t.Quantity.String(),
			t.Price.String(), t.Commission.String(), t.RealizedPnL.String(),
			t.ExecutedAt.UnixMilli(), failed, t.Note); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Summary is the persisted header of one run.
type Summary struct {
	ID         string
	StrategyID string
	Symbol     string
	Timeframe  string
	Start      time.Time
	End        time.Time
	Bars       int

	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal
	Metrics       Metrics
	Rejected      int
	CreatedAt     time.Time
}

const summaryColumns = `id, strategy_id, symbol, timeframe, start_ts, end_ts, bars,
	initial_equity, final_equity, total_return_pct, max_drawdown_pct,
	sharpe_ratio, profit_factor, win_rate, total_trades, winning_trades,
	losing_trades, rejected, created_at`

// ListSummaries returns the most recent runs.
func (s *ResultStore) ListSummaries(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM backtest_results ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSummary loads one run header by ID.
func (s *ResultStore) GetSummary(ctx context.Context, id string) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM backtest_results WHERE id=?`, id)
	return scanSummary(row)
}

// EquityCurve loads the stored equity points of one run in time order.
func (s *ResultStore) EquityCurve(ctx context.Context, resultID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity FROM backtest_equity WHERE result_id=? ORDER BY ts ASC`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var ts int64
		var eq string
		if err := rows.Scan(&ts, &eq); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(eq)
		if err != nil {
			return nil, fmt.Errorf("corrupt equity value %q: %w", eq, err)
		}
		out = append(out, EquityPoint{Time: time.UnixMilli(ts), Equity: d})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (Summary, error) {
	var sum Summary
	var startTS, endTS, createdAt int64
	var initial, final, ret, dd, sharpe, pf, wr string
	if err := row.Scan(&sum.ID, &sum.StrategyID, &sum.Symbol, &sum.Timeframe,
		&startTS, &endTS, &sum.Bars, &initial, &final, &ret, &dd, &sharpe, &pf, &wr,
		&sum.Metrics.TotalTrades, &sum.Metrics.WinningTrades, &sum.Metrics.LosingTrades,
		&sum.Rejected, &createdAt); err != nil {
		return Summary{}, err
	}
	sum.Start = time.UnixMilli(startTS)
	sum.End = time.UnixMilli(endTS)
	sum.CreatedAt = time.UnixMilli(createdAt)

	var err error
	if sum.InitialEquity, err = decimal.NewFromString(initial); err != nil {
		return Summary{}, err
	}
	if sum.FinalEquity, err = decimal.NewFromString(final); err != nil {
		return Summary{}, err
	}
	if sum.Metrics.TotalReturnPct, err = decimal.NewFromString(ret); err != nil {
		return Summary{}, err
	}
	if sum.Metrics.MaxDrawdownPct, err = decimal.NewFromString(dd); err != nil {
		return Summary{}, err
	}
	if sum.Metrics.SharpeRatio, err = decimal.NewFromString(sharpe); err != nil {
		return Summary{}, err
	}
	if sum.Metrics.ProfitFactor, err = decimal.NewFromString(pf); err != nil {
		return Summary{}, err
	}
	if sum.Metrics.WinRate, err = decimal.NewFromString(wr); err != nil {
		return Summary{}, err
	}
	return sum, nil
}
