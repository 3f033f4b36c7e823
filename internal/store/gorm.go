package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// CandleRow is the gorm-mapped table for closed candles.
type CandleRow struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"type:text;not null;index:idx_candle_key,unique"`
	Timeframe string    `gorm:"type:varchar(4);not null;index:idx_candle_key,unique"`
	OpenTime  time.Time `gorm:"not null;index:idx_candle_key,unique"`
	CloseTime time.Time `gorm:"not null"`
	Open      float64   `gorm:"type:numeric;not null"`
	High      float64   `gorm:"type:numeric;not null"`
	Low       float64   `gorm:"type:numeric;not null"`
	Close     float64   `gorm:"type:numeric;not null"`
	Volume    float64   `gorm:"type:numeric;not null"`
}

// TableName overrides the default table name for GORM.
func (CandleRow) TableName() string { return "candles" }

func toCandleRow(c market.Candle) CandleRow {
	return CandleRow{
		Symbol: c.Symbol, Timeframe: string(c.Timeframe),
		OpenTime: c.OpenTime, CloseTime: c.CloseTime,
		Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
	}
}

func (r CandleRow) toCandle() market.Candle {
	return market.Candle{
		Symbol: r.Symbol, Timeframe: market.Timeframe(r.Timeframe),
		OpenTime: r.OpenTime, CloseTime: r.CloseTime,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
	}
}

// GormCandleStore is a postgres-backed CandleStore.
type GormCandleStore struct {
	db *gorm.DB
}

// NewGormCandleStore builds a GormCandleStore and migrates its table.
func NewGormCandleStore(db *gorm.DB) (*GormCandleStore, error) {
	if err := db.AutoMigrate(&CandleRow{}); err != nil {
		return nil, err
	}
	return &GormCandleStore{db: db}, nil
}

func (s *GormCandleStore) Upsert(ctx context.Context, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]CandleRow, len(candles))
	for i, c := range candles {
		rows[i] = toCandleRow(c)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_time", "open", "high", "low", "close", "volume"}),
	}).Create(&rows).Error
}

func (s *GormCandleStore) Recent(ctx context.Context, symbol string, tf market.Timeframe, n int) (market.Series, error) {
	var rows []CandleRow
	if err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("open_time DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, err
	}
	series := make(market.Series, len(rows))
	for i := range rows {
		series[len(rows)-1-i] = rows[i].toCandle()
	}
	return series, nil
}

func (s *GormCandleStore) LastClosed(ctx context.Context, symbol string, tf market.Timeframe) (market.Candle, bool, error) {
	series, err := s.Recent(ctx, symbol, tf, 1)
	if err != nil || len(series) == 0 {
		return market.Candle{}, false, err
	}
	return series[0], true, nil
}

// SignalRow is the gorm-mapped table for signal lifecycle rows. Money fields
// are stored as text to preserve decimal.Decimal precision exactly.
type SignalRow struct {
	ID           string `gorm:"primaryKey"`
	Symbol       string `gorm:"index"`
	StrategyName string
	Direction    string

	Entry, SL, TP1, TP2, TP3 string
	HasTP2, HasTP3           bool

	TP1Hit      bool
	TP1ClosedAt time.Time
	TP1PnLPct   string
	TP2Hit      bool
	TP2ClosedAt time.Time
	TP2PnLPct   string

	TrailingActive    bool
	TrailingPeakPrice string

	Status      string `gorm:"index"`
	ExitReason  string
	CreatedAt   time.Time
	ClosedAt    time.Time
	BarsToExit  int
	MFE, MAE    string
	FinalPnLPct string

	MarketRegime    string
	ConfidenceScore float64
	MetaJSON        string `gorm:"type:json"`

	// Action Price extension columns; empty for plain Signal rows.
	IsActionPrice bool
	Mode          string
	ComponentsJSON string
}

// TableName overrides the default table name for GORM.
func (SignalRow) TableName() string { return "signals" }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toSignalRow(s *signal.Signal) SignalRow {
	metaJSON, _ := json.Marshal(s.Meta)
	return SignalRow{
		ID: s.ID, Symbol: s.Symbol, StrategyName: s.StrategyName, Direction: string(s.Direction),
		Entry: s.Entry.String(), SL: s.SL.String(), TP1: s.TP1.String(), TP2: s.TP2.String(), TP3: s.TP3.String(),
		HasTP2: s.HasTP2, HasTP3: s.HasTP3,
		TP1Hit: s.TP1Hit, TP1ClosedAt: s.TP1ClosedAt, TP1PnLPct: s.TP1PnLPct.String(),
		TP2Hit: s.TP2Hit, TP2ClosedAt: s.TP2ClosedAt, TP2PnLPct: s.TP2PnLPct.String(),
		TrailingActive: s.TrailingActive, TrailingPeakPrice: s.TrailingPeakPrice.String(),
		Status: string(s.Status), ExitReason: string(s.ExitReason),
		CreatedAt: s.CreatedAt, ClosedAt: s.ClosedAt, BarsToExit: s.BarsToExit,
		MFE: s.MFE.String(), MAE: s.MAE.String(), FinalPnLPct: s.FinalPnLPct.String(),
		MarketRegime: string(s.MarketRegime), ConfidenceScore: s.ConfidenceScore,
		MetaJSON: string(metaJSON),
	}
}

func (r SignalRow) toSignal() *signal.Signal {
	var meta signal.Meta
	_ = json.Unmarshal([]byte(r.MetaJSON), &meta)
	return &signal.Signal{
		ID: r.ID, Symbol: r.Symbol, StrategyName: r.StrategyName, Direction: signal.Direction(r.Direction),
		Entry: dec(r.Entry), SL: dec(r.SL), TP1: dec(r.TP1), TP2: dec(r.TP2), TP3: dec(r.TP3),
		HasTP2: r.HasTP2, HasTP3: r.HasTP3,
		TP1Hit: r.TP1Hit, TP1ClosedAt: r.TP1ClosedAt, TP1PnLPct: dec(r.TP1PnLPct),
		TP2Hit: r.TP2Hit, TP2ClosedAt: r.TP2ClosedAt, TP2PnLPct: dec(r.TP2PnLPct),
		TrailingActive: r.TrailingActive, TrailingPeakPrice: dec(r.TrailingPeakPrice),
		Status: signal.Status(r.Status), ExitReason: signal.ExitReason(r.ExitReason),
		CreatedAt: r.CreatedAt, ClosedAt: r.ClosedAt, BarsToExit: r.BarsToExit,
		MFE: dec(r.MFE), MAE: dec(r.MAE), FinalPnLPct: dec(r.FinalPnLPct),
		MarketRegime: signal.Regime(r.MarketRegime), ConfidenceScore: r.ConfidenceScore,
		Meta: meta,
	}
}

func toActionPriceRow(s *signal.ActionPriceSignal) SignalRow {
	row := toSignalRow(&s.Signal)
	componentsJSON, _ := json.Marshal(s.Components)
	row.IsActionPrice = true
	row.Mode = string(s.Mode)
	row.ComponentsJSON = string(componentsJSON)
	return row
}

func (r SignalRow) toActionPriceSignal() *signal.ActionPriceSignal {
	var components signal.ScoreComponents
	_ = json.Unmarshal([]byte(r.ComponentsJSON), &components)
	return &signal.ActionPriceSignal{
		Signal:     *r.toSignal(),
		Mode:       signal.Mode(r.Mode),
		Components: components,
	}
}

// GormSignalStore is a postgres-backed SignalStore.
type GormSignalStore struct {
	db *gorm.DB
}

// NewGormSignalStore builds a GormSignalStore and migrates its table.
func NewGormSignalStore(db *gorm.DB) (*GormSignalStore, error) {
	if err := db.AutoMigrate(&SignalRow{}); err != nil {
		return nil, err
	}
	return &GormSignalStore{db: db}, nil
}

func (s *GormSignalStore) Create(ctx context.Context, sig *signal.Signal) error {
	row := toSignalRow(sig)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormSignalStore) Update(ctx context.Context, sig *signal.Signal) error {
	row := toSignalRow(sig)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *GormSignalStore) Active(ctx context.Context) ([]*signal.Signal, error) {
	var rows []SignalRow
	if err := s.db.WithContext(ctx).Where("is_action_price = ? AND status <> ?", false, string(signal.Closed)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*signal.Signal, len(rows))
	for i, r := range rows {
		out[i] = r.toSignal()
	}
	return out, nil
}

func (s *GormSignalStore) CreateActionPrice(ctx context.Context, sig *signal.ActionPriceSignal) error {
	row := toActionPriceRow(sig)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormSignalStore) UpdateActionPrice(ctx context.Context, sig *signal.ActionPriceSignal) error {
	row := toActionPriceRow(sig)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *GormSignalStore) ActiveActionPrice(ctx context.Context) ([]*signal.ActionPriceSignal, error) {
	var rows []SignalRow
	if err := s.db.WithContext(ctx).Where("is_action_price = ? AND status <> ?", true, string(signal.Closed)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*signal.ActionPriceSignal, len(rows))
	for i, r := range rows {
		out[i] = r.toActionPriceSignal()
	}
	return out, nil
}

// LockRowGorm is the gorm-mapped table for signal locks.
type LockRowGorm struct {
	Symbol       string `gorm:"primaryKey"`
	Direction    string `gorm:"primaryKey"`
	StrategyName string `gorm:"primaryKey"`
	AcquiredAt   time.Time
	TTLSeconds   int64
}

// TableName overrides the default table name for GORM.
func (LockRowGorm) TableName() string { return "signal_locks" }

// GormLockStore is a postgres-backed LockStore.
type GormLockStore struct {
	db *gorm.DB
}

// NewGormLockStore builds a GormLockStore and migrates its table.
func NewGormLockStore(db *gorm.DB) (*GormLockStore, error) {
	if err := db.AutoMigrate(&LockRowGorm{}); err != nil {
		return nil, err
	}
	return &GormLockStore{db: db}, nil
}

func (s *GormLockStore) Upsert(ctx context.Context, row LockRow) error {
	gr := LockRowGorm{
		Symbol: row.Symbol, Direction: string(row.Direction), StrategyName: row.StrategyName,
		AcquiredAt: row.AcquiredAt, TTLSeconds: int64(row.TTL.Seconds()),
	}
	return s.db.WithContext(ctx).Save(&gr).Error
}

func (s *GormLockStore) Delete(ctx context.Context, symbol string, dir signal.Direction, strategy string) error {
	return s.db.WithContext(ctx).
		Where("symbol = ? AND direction = ? AND strategy_name = ?", symbol, string(dir), strategy).
		Delete(&LockRowGorm{}).Error
}

func (s *GormLockStore) All(ctx context.Context) ([]LockRow, error) {
	var rows []LockRowGorm
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]LockRow, len(rows))
	for i, r := range rows {
		out[i] = LockRow{
			Symbol: r.Symbol, Direction: signal.Direction(r.Direction), StrategyName: r.StrategyName,
			AcquiredAt: r.AcquiredAt, TTL: time.Duration(r.TTLSeconds) * time.Second,
		}
	}
	return out, nil
}

// RateLedgerRowGorm is the gorm-mapped table for rate-ledger snapshots.
type RateLedgerRowGorm struct {
	ID          uint `gorm:"primaryKey"`
	BucketStart time.Time
	WeightUsed  int
	BanUntil    time.Time
	ObservedAt  time.Time `gorm:"index"`
}

// TableName overrides the default table name for GORM.
func (RateLedgerRowGorm) TableName() string { return "rate_ledger" }

// GormRateLedgerStore is a postgres-backed RateLedgerStore.
type GormRateLedgerStore struct {
	db *gorm.DB
}

// NewGormRateLedgerStore builds a GormRateLedgerStore and migrates its table.
func NewGormRateLedgerStore(db *gorm.DB) (*GormRateLedgerStore, error) {
	if err := db.AutoMigrate(&RateLedgerRowGorm{}); err != nil {
		return nil, err
	}
	return &GormRateLedgerStore{db: db}, nil
}

func (s *GormRateLedgerStore) Record(ctx context.Context, row RateLedgerRow) error {
	gr := RateLedgerRowGorm{
		BucketStart: row.BucketStart, WeightUsed: row.WeightUsed,
		BanUntil: row.BanUntil, ObservedAt: row.ObservedAt,
	}
	return s.db.WithContext(ctx).Create(&gr).Error
}
