// Package store defines the persistence contracts for candles, signals,
// signal locks, and the rate-limiter ledger (spec §6), plus a memory-backed
// implementation used by tests and an optional gorm/postgres implementation
// used in production.
package store

import (
	"context"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// CandleStore persists closed candles, keyed uniquely by
// (symbol, timeframe, open_time). Upsert always replaces existing rows for
// the same key, matching the exchange's habit of revising a just-closed
// candle for a few seconds after it closes.
type CandleStore interface {
	Upsert(ctx context.Context, candles []market.Candle) error
	Recent(ctx context.Context, symbol string, tf market.Timeframe, n int) (market.Series, error)
	LastClosed(ctx context.Context, symbol string, tf market.Timeframe) (market.Candle, bool, error)
}

// SignalStore persists signal lifecycle rows, both the base Signal shape and
// the richer ActionPriceSignal shape.
type SignalStore interface {
	Create(ctx context.Context, s *signal.Signal) error
	Update(ctx context.Context, s *signal.Signal) error
	Active(ctx context.Context) ([]*signal.Signal, error)
	CreateActionPrice(ctx context.Context, s *signal.ActionPriceSignal) error
	UpdateActionPrice(ctx context.Context, s *signal.ActionPriceSignal) error
	ActiveActionPrice(ctx context.Context) ([]*signal.ActionPriceSignal, error)
}

// LockRow is the persisted shape of a signal lock, used to reconstruct
// in-memory locks after a restart.
type LockRow struct {
	Symbol       string
	Direction    signal.Direction
	StrategyName string
	AcquiredAt   time.Time
	TTL          time.Duration
}

// LockStore persists the signal-lock table so a restart can rebuild
// in-process lock state from currently active signals rather than losing
// track of which (symbol, direction, strategy) triples are already spoken for.
type LockStore interface {
	Upsert(ctx context.Context, row LockRow) error
	Delete(ctx context.Context, symbol string, dir signal.Direction, strategy string) error
	All(ctx context.Context) ([]LockRow, error)
}

// RateLedgerRow is the persisted shape of the rate limiter's bucket state,
// used only for cold-start observability; the limiter's live state always
// lives in memory (spec §6: "process-wide singleton state").
type RateLedgerRow struct {
	BucketStart time.Time
	WeightUsed  int
	BanUntil    time.Time
	ObservedAt  time.Time
}

// RateLedgerStore persists periodic rate-ledger snapshots for diagnostics.
type RateLedgerStore interface {
	Record(ctx context.Context, row RateLedgerRow) error
}
