// Package lock implements the at-most-one-active-signal guard: a keyed
// mutex over (symbol, direction, strategy_name) with a TTL (spec §4.7).
// Nothing in the retrieval pack offers an atomic conditional-insert map
// with expiry, so this is hand-rolled in the same guarded-state style as
// internal/ratelimit.Limiter and internal/zone.Registry.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
)

type row struct {
	acquiredAt time.Time
	ttl        time.Duration
}

func (r row) expired(now time.Time) bool {
	return r.ttl > 0 && now.Sub(r.acquiredAt) >= r.ttl
}

// Table is a process-wide singleton guarding signal creation per
// (symbol, direction, strategy_name).
type Table struct {
	mu    sync.Mutex
	rows  map[signal.LockKey]row
	store store.LockStore

	now func() time.Time
}

// New builds a Table backed by store for restart persistence.
func New(s store.LockStore) *Table {
	return &Table{rows: make(map[signal.LockKey]row), store: s, now: time.Now}
}

// TryAcquire is atomic: if a non-expired row exists for key, it returns
// false; otherwise it inserts a row (persisting it) and returns true. An
// expired row is treated as absent and is silently replaced.
func (t *Table) TryAcquire(ctx context.Context, key signal.LockKey, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	now := t.now()
	if existing, ok := t.rows[key]; ok && !existing.expired(now) {
		t.mu.Unlock()
		return false, nil
	}
	t.rows[key] = row{acquiredAt: now, ttl: ttl}
	t.mu.Unlock()

	if t.store == nil {
		return true, nil
	}
	err := t.store.Upsert(ctx, store.LockRow{
		Symbol: key.Symbol, Direction: key.Direction, StrategyName: key.StrategyName,
		AcquiredAt: now, TTL: ttl,
	})
	return true, err
}

// Release removes key's row, freeing it for a future TryAcquire.
func (t *Table) Release(ctx context.Context, key signal.LockKey) error {
	t.mu.Lock()
	delete(t.rows, key)
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	return t.store.Delete(ctx, key.Symbol, key.Direction, key.StrategyName)
}

// Held reports whether key currently holds a non-expired lock, without
// acquiring or mutating anything.
func (t *Table) Held(key signal.LockKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[key]
	return ok && !r.expired(t.now())
}

// Reload rebuilds in-memory lock state on process start: persisted rows are
// loaded first, then any currently ACTIVE signal missing a lock (the
// process crashed between committing the signal and persisting its lock
// row) gets one recreated from its own (symbol, direction, strategy_name).
func (t *Table) Reload(ctx context.Context, activeSignals []*signal.Signal, defaultTTL time.Duration) error {
	if t.store == nil {
		return nil
	}
	persisted, err := t.store.All(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.rows = make(map[signal.LockKey]row, len(persisted))
	for _, p := range persisted {
		key := signal.LockKey{Symbol: p.Symbol, Direction: p.Direction, StrategyName: p.StrategyName}
		t.rows[key] = row{acquiredAt: p.AcquiredAt, ttl: p.TTL}
	}
	t.mu.Unlock()

	for _, sig := range activeSignals {
		key := sig.LockKey()
		if t.Held(key) {
			continue
		}
		if _, err := t.TryAcquire(ctx, key, defaultTTL); err != nil {
			return err
		}
	}
	return nil
}
