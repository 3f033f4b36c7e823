package lock

import (
	"context"
	"testing"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
)

func key() signal.LockKey {
	return signal.LockKey{Symbol: "BTCUSDT", Direction: signal.Long, StrategyName: "Break & Retest"}
}

func TestTryAcquireBlocksSecondCallerWhileHeld(t *testing.T) {
	tbl := New(store.NewMemoryLockStore())
	ctx := context.Background()

	ok, err := tbl.TryAcquire(ctx, key(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first TryAcquire to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = tbl.TryAcquire(ctx, key(), time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second TryAcquire on the same key to fail, got ok=%v err=%v", ok, err)
	}
}

func TestReleaseFreesKeyForReacquire(t *testing.T) {
	tbl := New(store.NewMemoryLockStore())
	ctx := context.Background()

	if _, err := tbl.TryAcquire(ctx, key(), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tbl.Release(ctx, key()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := tbl.TryAcquire(ctx, key(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected TryAcquire to succeed after Release, got ok=%v err=%v", ok, err)
	}
}

func TestExpiredLockIsTreatedAsAbsent(t *testing.T) {
	tbl := New(store.NewMemoryLockStore())
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	if _, err := tbl.TryAcquire(ctx, key(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fakeNow = fakeNow.Add(2 * time.Second)
	ok, err := tbl.TryAcquire(ctx, key(), time.Second)
	if err != nil || !ok {
		t.Fatalf("expected an expired lock to be reacquirable, got ok=%v err=%v", ok, err)
	}
}

func TestReloadRecreatesMissingLockForActiveSignal(t *testing.T) {
	tbl := New(store.NewMemoryLockStore())
	ctx := context.Background()

	sig := &signal.Signal{Symbol: "ETHUSDT", Direction: signal.Short, StrategyName: "Order Flow", Status: signal.Active}
	if err := tbl.Reload(ctx, []*signal.Signal{sig}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tbl.Held(sig.LockKey()) {
		t.Fatalf("expected Reload to recreate a lock for an active signal missing one")
	}
}

func TestReloadPreservesPersistedRows(t *testing.T) {
	memStore := store.NewMemoryLockStore()
	tbl := New(memStore)
	ctx := context.Background()

	if _, err := tbl.TryAcquire(ctx, key(), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := New(memStore)
	if err := fresh.Reload(ctx, nil, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh.Held(key()) {
		t.Fatalf("expected Reload to restore a lock persisted by a prior process")
	}
}
