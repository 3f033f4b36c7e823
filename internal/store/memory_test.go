package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

func TestMemoryCandleStoreUpsertReplacesSameKey(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()
	openTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c1 := market.Candle{Symbol: "BTCUSDT", Timeframe: market.TF15m, OpenTime: openTime, Close: 100}
	c2 := market.Candle{Symbol: "BTCUSDT", Timeframe: market.TF15m, OpenTime: openTime, Close: 105}

	if err := s.Upsert(ctx, []market.Candle{c1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Upsert(ctx, []market.Candle{c2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := s.LastClosed(ctx, "BTCUSDT", market.TF15m)
	if err != nil || !ok {
		t.Fatalf("expected a stored candle, err=%v ok=%v", err, ok)
	}
	if got.Close != 105 {
		t.Fatalf("expected upsert to replace close price, got %v", got.Close)
	}
}

func TestMemoryCandleStoreRecentOrdersOldestFirst(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = s.Upsert(ctx, []market.Candle{{
			Symbol: "BTCUSDT", Timeframe: market.TF15m,
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute), Close: float64(100 + i),
		}})
	}
	series, err := s.Recent(ctx, "BTCUSDT", market.TF15m, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(series))
	}
	if series[0].Close != 102 || series[2].Close != 104 {
		t.Fatalf("expected the newest 3 in ascending order, got %+v", series)
	}
}

func TestMemorySignalStoreActiveExcludesClosed(t *testing.T) {
	s := NewMemorySignalStore()
	ctx := context.Background()

	active := &signal.Signal{ID: "a", Status: signal.Active, Entry: decimal.NewFromInt(100)}
	closed := &signal.Signal{ID: "b", Status: signal.Closed, Entry: decimal.NewFromInt(100)}
	_ = s.Create(ctx, active)
	_ = s.Create(ctx, closed)

	got, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only the active signal, got %+v", got)
	}
}

func TestMemoryLockStoreUpsertAndDelete(t *testing.T) {
	s := NewMemoryLockStore()
	ctx := context.Background()
	row := LockRow{Symbol: "BTCUSDT", Direction: signal.Long, StrategyName: "sweep", AcquiredAt: time.Now(), TTL: time.Hour}

	if err := s.Upsert(ctx, row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := s.All(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 lock row, got %d (err=%v)", len(rows), err)
	}

	if err := s.Delete(ctx, "BTCUSDT", signal.Long, "sweep"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, _ = s.All(ctx)
	if len(rows) != 0 {
		t.Fatalf("expected lock row to be removed, got %d", len(rows))
	}
}
