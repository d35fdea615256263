// Package storage persists orders, strategies, fills, and risk state to
// sqlite or Postgres via gorm.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/types"
)

// Store is the full persistence surface the core wires into the book and
// risk envelope. A nil Store everywhere disables persistence entirely.
type Store interface {
	SaveOrder(types.RangeOrder) error
	SaveStrategy(types.Strategy) error
	SaveFill(types.Fill) error
	SaveRiskState(risk.State) error

	LoadOpenOrders() ([]types.RangeOrder, error)
	LoadActiveStrategies() ([]types.Strategy, error)
	LoadRiskState() (risk.State, error)
}

// orderRecord is the gorm model backing types.RangeOrder.
type orderRecord struct {
	ID               string `gorm:"primaryKey"`
	Pool             string `gorm:"index"`
	OrderType        string
	Side             string
	BinID            int32
	TargetPrice      decimal.Decimal `gorm:"type:decimal(38,18)"`
	AmountIn         decimal.Decimal `gorm:"type:decimal(38,18)"`
	FilledAmount     decimal.Decimal `gorm:"type:decimal(38,18)"`
	AvgFillPrice     decimal.Decimal `gorm:"type:decimal(38,18)"`
	Status           string          `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        *time.Time
	MaxSlippageBps   int
	PositionID       string
	StrategyID       string `gorm:"index"`
	RetryCount       int
	Priority         int
	FailureReason    string
	TrailingPct      decimal.Decimal `gorm:"type:decimal(38,18)"`
	HighestPrice     decimal.Decimal `gorm:"type:decimal(38,18)"`
	TrailingDistance decimal.Decimal `gorm:"type:decimal(38,18)"`
	StopPrice        decimal.Decimal `gorm:"type:decimal(38,18)"`
}

func toOrderRecord(o types.RangeOrder) orderRecord {
	return orderRecord{
		ID: o.ID, Pool: o.Pool, OrderType: string(o.OrderType), Side: string(o.Side),
		BinID: o.BinID, TargetPrice: o.TargetPrice, AmountIn: o.AmountIn,
		FilledAmount: o.FilledAmount, AvgFillPrice: o.AvgFillPrice, Status: string(o.Status),
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt, ExpiresAt: o.ExpiresAt,
		MaxSlippageBps: o.MaxSlippageBps, PositionID: o.PositionID, StrategyID: o.StrategyID,
		RetryCount: o.RetryCount, Priority: int(o.Priority), FailureReason: o.FailureReason,
		TrailingPct: o.TrailingPct, HighestPrice: o.HighestPrice,
		TrailingDistance: o.TrailingDistance, StopPrice: o.StopPrice,
	}
}

func fromOrderRecord(r orderRecord) types.RangeOrder {
	return types.RangeOrder{
		ID: r.ID, Pool: r.Pool, OrderType: types.OrderType(r.OrderType), Side: types.Side(r.Side),
		BinID: r.BinID, TargetPrice: r.TargetPrice, AmountIn: r.AmountIn,
		FilledAmount: r.FilledAmount, AvgFillPrice: r.AvgFillPrice, Status: types.OrderStatus(r.Status),
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, ExpiresAt: r.ExpiresAt,
		MaxSlippageBps: r.MaxSlippageBps, PositionID: r.PositionID, StrategyID: r.StrategyID,
		RetryCount: r.RetryCount, Priority: types.Urgency(r.Priority), FailureReason: r.FailureReason,
		TrailingPct: r.TrailingPct, HighestPrice: r.HighestPrice,
		TrailingDistance: r.TrailingDistance, StopPrice: r.StopPrice,
	}
}

// strategyRecord is the gorm model backing types.Strategy.
type strategyRecord struct {
	ID             string `gorm:"primaryKey"`
	Kind           string
	Pool           string `gorm:"index"`
	Status         string `gorm:"index"`
	ChildOrderIDs  string // comma-joined order ids
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExecutedVolume decimal.Decimal `gorm:"type:decimal(38,18)"`
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(38,18)"`
	FillCount      int
}

func toStrategyRecord(s types.Strategy) strategyRecord {
	return strategyRecord{
		ID: s.ID, Kind: s.Kind, Pool: s.Pool, Status: string(s.Status),
		ChildOrderIDs: strings.Join(s.ChildOrderIDs, ","),
		CreatedAt:     s.CreatedAt, UpdatedAt: s.UpdatedAt,
		ExecutedVolume: s.ExecutedVolume, RealizedPnL: s.RealizedPnL, FillCount: s.FillCount,
	}
}

func fromStrategyRecord(r strategyRecord) types.Strategy {
	var children []string
	if r.ChildOrderIDs != "" {
		children = strings.Split(r.ChildOrderIDs, ",")
	}
	return types.Strategy{
		ID: r.ID, Kind: r.Kind, Pool: r.Pool, Status: types.StrategyStatus(r.Status),
		ChildOrderIDs: children, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		ExecutedVolume: r.ExecutedVolume, RealizedPnL: r.RealizedPnL, FillCount: r.FillCount,
	}
}

// fillRecord is the gorm model backing types.Fill, one row per execution.
type fillRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	OrderID   string          `gorm:"index"`
	Amount    decimal.Decimal `gorm:"type:decimal(38,18)"`
	Price     decimal.Decimal `gorm:"type:decimal(38,18)"`
	Fee       decimal.Decimal `gorm:"type:decimal(38,18)"`
	Timestamp time.Time
}

// riskStateRecord is a single-row table holding the latest risk.State
// snapshot.
type riskStateRecord struct {
	ID                uint            `gorm:"primaryKey"`
	TotalExposure     decimal.Decimal `gorm:"type:decimal(38,18)"`
	ActiveOrders      int
	DailyPnL          decimal.Decimal `gorm:"type:decimal(38,18)"`
	DailyStartBalance decimal.Decimal `gorm:"type:decimal(38,18)"`
	LastResetDay      int
	ConsecutiveLosses int
	UpdatedAt         time.Time
}

const riskStateRowID = 1

// GormStore is the gorm-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// New opens a GormStore against databaseURL: a postgres://... or
// postgresql://... DSN selects the Postgres driver, anything else is
// treated as a sqlite file path.
func New(databaseURL string) (*GormStore, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err = gorm.Open(postgres.Open(databaseURL), gormCfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("storage: connected (postgres)")
	} else {
		db, err = gorm.Open(sqlite.Open(databaseURL), gormCfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", databaseURL).Msg("storage: connected (sqlite)")
	}

	if err := db.AutoMigrate(&orderRecord{}, &strategyRecord{}, &fillRecord{}, &riskStateRecord{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveOrder(o types.RangeOrder) error {
	return s.db.Save(toOrderRecord(o)).Error
}

func (s *GormStore) SaveStrategy(strat types.Strategy) error {
	return s.db.Save(toStrategyRecord(strat)).Error
}

func (s *GormStore) SaveFill(f types.Fill) error {
	return s.db.Create(&fillRecord{
		OrderID: f.OrderID, Amount: f.Amount, Price: f.Price, Fee: f.Fee, Timestamp: f.Timestamp,
	}).Error
}

func (s *GormStore) SaveRiskState(state risk.State) error {
	rec := riskStateRecord{
		ID: riskStateRowID, TotalExposure: state.TotalExposure, ActiveOrders: state.ActiveOrders,
		DailyPnL: state.DailyPnL, DailyStartBalance: state.DailyStartBalance,
		LastResetDay: state.LastResetDay, ConsecutiveLosses: state.ConsecutiveLosses,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&rec).Error
}

func (s *GormStore) LoadOpenOrders() ([]types.RangeOrder, error) {
	var records []orderRecord
	openStatuses := []string{string(types.OrderStatusPending), string(types.OrderStatusPartiallyFilled)}
	if err := s.db.Where("status IN ?", openStatuses).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]types.RangeOrder, 0, len(records))
	for _, r := range records {
		out = append(out, fromOrderRecord(r))
	}
	return out, nil
}

func (s *GormStore) LoadActiveStrategies() ([]types.Strategy, error) {
	var records []strategyRecord
	if err := s.db.Where("status = ?", string(types.StrategyStatusActive)).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]types.Strategy, 0, len(records))
	for _, r := range records {
		out = append(out, fromStrategyRecord(r))
	}
	return out, nil
}

func (s *GormStore) LoadRiskState() (risk.State, error) {
	var rec riskStateRecord
	err := s.db.First(&rec, riskStateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.State{}, nil
	}
	if err != nil {
		return risk.State{}, err
	}
	return risk.State{
		TotalExposure: rec.TotalExposure, ActiveOrders: rec.ActiveOrders, DailyPnL: rec.DailyPnL,
		DailyStartBalance: rec.DailyStartBalance, LastResetDay: rec.LastResetDay,
		ConsecutiveLosses: rec.ConsecutiveLosses,
	}, nil
}
