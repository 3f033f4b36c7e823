package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// MemoryCandleStore is an in-memory CandleStore, used in tests and whenever
// the configured store driver is not postgres.
type MemoryCandleStore struct {
	mu   sync.RWMutex
	rows map[market.CandleKey]market.Candle
}

// NewMemoryCandleStore builds an empty MemoryCandleStore.
func NewMemoryCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{rows: make(map[market.CandleKey]market.Candle)}
}

func (m *MemoryCandleStore) Upsert(_ context.Context, candles []market.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		m.rows[c.Key()] = c
	}
	return nil
}

func (m *MemoryCandleStore) Recent(_ context.Context, symbol string, tf market.Timeframe, n int) (market.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var series market.Series
	for _, c := range m.rows {
		if c.Symbol == symbol && c.Timeframe == tf {
			series = append(series, c)
		}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].OpenTime.Before(series[j].OpenTime) })
	return series.Tail(n), nil
}

func (m *MemoryCandleStore) LastClosed(ctx context.Context, symbol string, tf market.Timeframe) (market.Candle, bool, error) {
	series, err := m.Recent(ctx, symbol, tf, 1)
	if err != nil || len(series) == 0 {
		return market.Candle{}, false, err
	}
	return series[len(series)-1], true, nil
}

// MemorySignalStore is an in-memory SignalStore.
type MemorySignalStore struct {
	mu           sync.RWMutex
	signals      map[string]*signal.Signal
	actionPrice  map[string]*signal.ActionPriceSignal
}

// NewMemorySignalStore builds an empty MemorySignalStore.
func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{
		signals:     make(map[string]*signal.Signal),
		actionPrice: make(map[string]*signal.ActionPriceSignal),
	}
}

func (m *MemorySignalStore) Create(_ context.Context, s *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.signals[s.ID] = &cp
	return nil
}

func (m *MemorySignalStore) Update(_ context.Context, s *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.signals[s.ID] = &cp
	return nil
}

func (m *MemorySignalStore) Active(_ context.Context) ([]*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*signal.Signal
	for _, s := range m.signals {
		if s.Status != signal.Closed {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemorySignalStore) CreateActionPrice(_ context.Context, s *signal.ActionPriceSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.actionPrice[s.ID] = &cp
	return nil
}

func (m *MemorySignalStore) UpdateActionPrice(_ context.Context, s *signal.ActionPriceSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.actionPrice[s.ID] = &cp
	return nil
}

func (m *MemorySignalStore) ActiveActionPrice(_ context.Context) ([]*signal.ActionPriceSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*signal.ActionPriceSignal
	for _, s := range m.actionPrice {
		if s.Status != signal.Closed {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryLockStore is an in-memory LockStore.
type MemoryLockStore struct {
	mu   sync.Mutex
	rows map[signal.LockKey]LockRow
}

// NewMemoryLockStore builds an empty MemoryLockStore.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{rows: make(map[signal.LockKey]LockRow)}
}

func (m *MemoryLockStore) Upsert(_ context.Context, row LockRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := signal.LockKey{Symbol: row.Symbol, Direction: row.Direction, StrategyName: row.StrategyName}
	m.rows[key] = row
	return nil
}

func (m *MemoryLockStore) Delete(_ context.Context, symbol string, dir signal.Direction, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, signal.LockKey{Symbol: symbol, Direction: dir, StrategyName: strategy})
	return nil
}

func (m *MemoryLockStore) All(_ context.Context) ([]LockRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LockRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

// MemoryRateLedgerStore is an in-memory RateLedgerStore, retaining only the
// most recent snapshot.
type MemoryRateLedgerStore struct {
	mu   sync.Mutex
	last RateLedgerRow
	set  bool
}

// NewMemoryRateLedgerStore builds an empty MemoryRateLedgerStore.
func NewMemoryRateLedgerStore() *MemoryRateLedgerStore {
	return &MemoryRateLedgerStore{}
}

func (m *MemoryRateLedgerStore) Record(_ context.Context, row RateLedgerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = row
	m.set = true
	return nil
}

// Last returns the most recently recorded ledger snapshot.
func (m *MemoryRateLedgerStore) Last() (RateLedgerRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.set
}
