package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(hardLimit int) *Limiter {
	return New(hardLimit, zerolog.Nop())
}

// TestReserveRefusesNearThreshold reproduces scenario S6 of spec §8: with
// threshold 0.55 and a hard limit of 2400/min, Reserve(weight=50) must be
// refused (i.e. block past the caller's deadline) once used >= 1320-50.
func TestReserveRefusesNearThreshold(t *testing.T) {
	l := newTestLimiter(2400) // threshold = 1320
	l.used = 1320 - 50        // exactly at the boundary
	l.bucketStart = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := l.Reserve(ctx, 50)
	if err == nil {
		t.Fatalf("expected Reserve to be refused at the threshold boundary, got result %v", res)
	}
}

func TestReserveAllowsBelowThreshold(t *testing.T) {
	l := newTestLimiter(2400)
	ctx := context.Background()
	res, err := l.Reserve(ctx, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Permit {
		t.Fatalf("expected immediate permit")
	}
	if l.Snapshot().Used != 50 {
		t.Fatalf("expected used=50, got %d", l.Snapshot().Used)
	}
}

func TestObserveUsedResyncsOnServerReset(t *testing.T) {
	l := newTestLimiter(2400)
	l.used = 1000
	l.ObserveUsed(10) // server rolled to a new minute we hadn't observed
	if l.Snapshot().Used != 10 {
		t.Fatalf("expected resync to server value, got %d", l.Snapshot().Used)
	}
}

func TestTripBanBlocksReserve(t *testing.T) {
	l := newTestLimiter(2400)
	l.TripBan(time.Now().Add(50 * time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := l.Reserve(ctx, 1); err == nil {
		t.Fatalf("expected Reserve to fail fast while banned past the deadline")
	}
}

func TestTripBanSuppressesDuplicateNotifications(t *testing.T) {
	l := newTestLimiter(2400)
	until := time.Now().Add(time.Hour)
	l.TripBan(until)
	if !l.banNotified {
		t.Fatalf("expected first TripBan to notify")
	}
	// Second call within the same episode should not flip anything new.
	l.TripBan(until.Add(time.Minute))
	if !l.banNotified {
		t.Fatalf("expected banNotified to remain true across the same episode")
	}
}

func TestReserveWaitsForBucketReset(t *testing.T) {
	l := New(2400, zerolog.Nop(), WithWindow(20*time.Millisecond))
	l.used = l.threshold() // fully saturate the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := l.Reserve(ctx, 1)
	if err != nil {
		t.Fatalf("expected Reserve to succeed after bucket reset, got %v", err)
	}
	if res != Deferred {
		t.Fatalf("expected Deferred result, got %v", res)
	}
}
