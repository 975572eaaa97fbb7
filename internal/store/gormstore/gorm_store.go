// Package gormstore persists live-session trade and position records in
// SQLite through gorm. Money columns are stored as strings so decimals make
// the round trip exactly.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fathom/internal/portfolio"
)

// Store is the live persistence layer. It satisfies engine.TradeRecorder.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the database at path and migrates the schema.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &positionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for readers, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tradeModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	PositionID  string         `gorm:"column:position_id;index"`
	StrategyID  string         `gorm:"column:strategy_id;index"`
	Symbol      string         `gorm:"column:symbol;index"`
	Direction   string         `gorm:"column:direction"`
	SignalType  string         `gorm:"column:signal_type"`
	Quantity    string         `gorm:"column:quantity"`
	Price       string         `gorm:"column:price"`
	Commission  string         `gorm:"column:commission"`
	RealizedPnL string         `gorm:"column:realized_pnl"`
	Failed      bool           `gorm:"column:failed;index"`
	Note        string         `gorm:"column:note"`
	Detail      datatypes.JSON `gorm:"column:detail"`
	ExecutedAt  int64          `gorm:"column:executed_at;index"`
	CreatedAt   int64          `gorm:"column:created_at"`
}

func (tradeModel) TableName() string { return "trades" }

type positionModel struct {
	ID         string `gorm:"column:id;primaryKey"`
	StrategyID string `gorm:"column:strategy_id;index"`
	Symbol     string `gorm:"column:symbol;index"`
	Direction  string `gorm:"column:direction"`
	Status     string `gorm:"column:status;index"`
	Quantity   string `gorm:"column:quantity"`
	EntryPrice string `gorm:"column:entry_price"`
	ExitPrice  string `gorm:"column:exit_price"`
	PnL        string `gorm:"column:pnl"`
	PnLPercent string `gorm:"column:pnl_percent"`
	EntryAt    int64  `gorm:"column:entry_at;index"`
	ExitAt     int64  `gorm:"column:exit_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }

// SaveTrade appends one trade record. Failed submissions are kept too, so
// the log explains every signal the engine acted on.
func (s *Store) SaveTrade(ctx context.Context, trade portfolio.Trade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	detail, _ := json.Marshal(map[string]any{
		"direction":   trade.Direction,
		"signal_type": trade.SignalType,
		"note":        trade.Note,
	})
	model := tradeModel{
		ID:          trade.ID,
		PositionID:  trade.PositionID,
		StrategyID:  trade.StrategyID,
		Symbol:      strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		Direction:   string(trade.Direction),
		SignalType:  string(trade.SignalType),
		Quantity:    trade.Quantity.String(),
		Price:       trade.Price.String(),
		Commission:  trade.Commission.String(),
		RealizedPnL: trade.RealizedPnL.String(),
		Failed:      trade.Failed,
		Note:        trade.Note,
		Detail:      datatypes.JSON(detail),
		ExecutedAt:  trade.ExecutedAt.UnixMilli(),
		CreatedAt:   time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// SavePosition upserts a position by ID; closing a position overwrites the
// open row with exit fields filled in.
func (s *Store) SavePosition(ctx context.Context, pos portfolio.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	model := positionModel{
		ID:         pos.ID,
		StrategyID: pos.StrategyID,
		Symbol:     strings.ToUpper(strings.TrimSpace(pos.Symbol)),
		Direction:  string(pos.Direction),
		Status:     string(pos.Status),
		Quantity:   pos.Quantity.String(),
		EntryPrice: pos.EntryPrice.String(),
		ExitPrice:  pos.ExitPrice.String(),
		PnL:        pos.PnL.String(),
		PnLPercent: pos.PnLPercent.String(),
		EntryAt:    pos.EntryTime.UnixMilli(),
		UpdatedAt:  time.Now().UnixMilli(),
	}
	if !pos.ExitTime.IsZero() {
		model.ExitAt = pos.ExitTime.UnixMilli()
	}
	cols := []string{
		"status", "quantity", "exit_price", "pnl", "pnl_percent", "exit_at", "updated_at",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&model).Error
}

// GetPosition loads one position by ID.
func (s *Store) GetPosition(ctx context.Context, id string) (portfolio.Position, bool, error) {
	if s == nil || s.db == nil {
		return portfolio.Position{}, false, fmt.Errorf("gorm store not initialized")
	}
	var model positionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return portfolio.Position{}, false, nil
		}
		return portfolio.Position{}, false, err
	}
	pos, err := positionFromModel(model)
	return pos, err == nil, err
}

// ListOpenPositions returns all open rows, newest entry first.
func (s *Store) ListOpenPositions(ctx context.Context, limit int) ([]portfolio.Position, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(portfolio.StatusOpen)).
		Order("entry_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]portfolio.Position, 0, len(models))
	for _, m := range models {
		pos, err := positionFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// ListTrades returns the most recent trades for one strategy; strategyID ""
// means all strategies.
func (s *Store) ListTrades(ctx context.Context, strategyID string, limit int) ([]portfolio.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := s.db.WithContext(ctx).Model(&tradeModel{})
	if strategyID != "" {
		query = query.Where("strategy_id = ?", strategyID)
	}
	var models []tradeModel
	if err := query.
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]portfolio.Trade, 0, len(models))
	for _, m := range models {
		trade, err := tradeFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, trade)
	}
	return out, nil
}

func tradeFromModel(m tradeModel) (portfolio.Trade, error) {
	qty, err := parseMoney(m.Quantity)
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("trade %s quantity: %w", m.ID, err)
	}
	price, err := parseMoney(m.Price)
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("trade %s price: %w", m.ID, err)
	}
	commission, err := parseMoney(m.Commission)
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("trade %s commission: %w", m.ID, err)
	}
	pnl, err := parseMoney(m.RealizedPnL)
	if err != nil {
		return portfolio.Trade{}, fmt.Errorf("trade %s pnl: %w", m.ID, err)
	}
	return portfolio.Trade{
		ID:          m.ID,
		PositionID:  m.PositionID,
		StrategyID:  m.StrategyID,
		Symbol:      m.Symbol,
		Direction:   portfolio.Direction(m.Direction),
		SignalType:  portfolio.SignalType(m.SignalType),
		Quantity:    qty,
		Price:       price,
		Commission:  commission,
		RealizedPnL: pnl,
		ExecutedAt:  time.UnixMilli(m.ExecutedAt),
		Failed:      m.Failed,
		Note:        m.Note,
	}, nil
}

func positionFromModel(m positionModel) (portfolio.Position, error) {
	qty, err := parseMoney(m.Quantity)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("position %s quantity: %w", m.ID, err)
	}
	entry, err := parseMoney(m.EntryPrice)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("position %s entry price: %w", m.ID, err)
	}
	exit, err := parseMoney(m.ExitPrice)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("position %s exit price: %w", m.ID, err)
	}
	pnl, err := parseMoney(m.PnL)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("position %s pnl: %w", m.ID, err)
	}
	pnlPct, err := parseMoney(m.PnLPercent)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("position %s pnl percent: %w", m.ID, err)
	}
	pos := portfolio.Position{
		ID:         m.ID,
		StrategyID: m.StrategyID,
		Symbol:     m.Symbol,
		Direction:  portfolio.Direction(m.Direction),
		Status:     portfolio.Status(m.Status),
		Quantity:   qty,
		EntryPrice: entry,
		ExitPrice:  exit,
		PnL:        pnl,
		PnLPercent: pnlPct,
		EntryTime:  time.UnixMilli(m.EntryAt),
	}
	if m.ExitAt > 0 {
		pos.ExitTime = time.UnixMilli(m.ExitAt)
	}
	return pos, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
