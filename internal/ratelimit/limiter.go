// Package ratelimit implements a token-bucket limiter over a sliding minute
// window that mirrors the exchange's own request-weight counter (spec §4.1).
// It is intentionally built on nothing but sync.Mutex and time.Timer: no
// library in the retrieval pack implements a weight-based bucket with
// server-side reconciliation and ban-tripping, so this one core algorithm is
// hand-rolled, in the same low-level style the teacher uses for its own
// mutex-guarded state (internal/paper/account.go, internal/exchange/feed.go).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/xerrors"
)

// Result is the outcome of a Reserve call.
type Result int

const (
	// Permit means the request may proceed immediately.
	Permit Result = iota
	// Deferred means the caller waited inside Reserve until the bucket allowed it.
	Deferred
)

const defaultThresholdFraction = 0.55

// Limiter is a process-wide singleton guarding outbound exchange calls.
type Limiter struct {
	mu sync.Mutex

	hardLimit        int
	thresholdFraction float64
	window           time.Duration

	bucketStart time.Time
	used        int

	banUntil     time.Time
	banNotified  bool

	log zerolog.Logger

	// clock is overridable for tests.
	now func() time.Time
}

// Option configures Limiter construction.
type Option func(*Limiter)

// WithThresholdFraction overrides the safety fraction of the hard limit
// (spec default 0.55).
func WithThresholdFraction(f float64) Option {
	return func(l *Limiter) {
		if f > 0 && f <= 1 {
			l.thresholdFraction = f
		}
	}
}

// WithWindow overrides the sliding window length (spec default one minute).
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock overrides the time source; used by tests only.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs a Limiter for an exchange whose hard per-window weight
// budget is hardLimit.
func New(hardLimit int, log zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		hardLimit:         hardLimit,
		thresholdFraction: defaultThresholdFraction,
		window:            time.Minute,
		log:               log.With().Str("component", "ratelimit").Logger(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.bucketStart = l.now()
	return l
}

// threshold is the safety ceiling below the hard limit.
func (l *Limiter) threshold() int {
	return int(float64(l.hardLimit) * l.thresholdFraction)
}

func (l *Limiter) rollBucketLocked() {
	now := l.now()
	if now.Sub(l.bucketStart) >= l.window {
		l.bucketStart = now
		l.used = 0
	}
}

// Reserve atomically tries to add weight to the current minute bucket. If
// the bucket is full it blocks the caller until the bucket resets, up to the
// supplied context deadline; if the reset would not happen before the
// deadline, it fails fast with a RateCapped-classified error.
func (l *Limiter) Reserve(ctx context.Context, weight int) (Result, error) {
	for {
		if until, banned := l.checkBan(); banned {
			if err := l.waitOrFail(ctx, until); err != nil {
				return Permit, err
			}
			continue
		}

		l.mu.Lock()
		l.rollBucketLocked()
		if l.used+weight < l.threshold() {
			l.used += weight
			l.mu.Unlock()
			return Permit, nil
		}
		resetAt := l.bucketStart.Add(l.window)
		l.mu.Unlock()

		metrics.RateLimiterDeferred.Inc()
		if err := l.waitOrFail(ctx, resetAt); err != nil {
			return Permit, err
		}
		if res, err := l.tryReserveAfterWait(weight); err == nil {
			return res, nil
		}
		// Bucket rolled but another waiter grabbed it first; loop and retry.
	}
}

// tryReserveAfterWait re-attempts the atomic add once a bucket reset the
// caller waited on has (should have) happened.
func (l *Limiter) tryReserveAfterWait(weight int) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollBucketLocked()
	if l.used+weight < l.threshold() {
		l.used += weight
		return Deferred, nil
	}
	return Permit, errUnavailable
}

func (l *Limiter) checkBan() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.banUntil.IsZero() || !l.now().Before(l.banUntil) {
		return time.Time{}, false
	}
	return l.banUntil, true
}

func (l *Limiter) waitOrFail(ctx context.Context, until time.Time) error {
	wait := until.Sub(l.now())
	if wait <= 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(until) {
		return xerrors.New(xerrors.RateCapped, "ratelimit.Reserve", errUnavailable)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return xerrors.New(xerrors.RateCapped, "ratelimit.Reserve", ctx.Err())
	}
}

// ObserveUsed reconciles the local counter with the exchange's reported
// weight-used value from a response header. If the server has rolled to a
// new minute while we had not, we resync without accumulating drift.
func (l *Limiter) ObserveUsed(serverUsed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollBucketLocked()
	if serverUsed < l.used {
		// The exchange's counter reset underneath us; trust it, not our stale total.
		l.used = serverUsed
		return
	}
	l.used = serverUsed
}

// TripBan records a ban deadline reported by the exchange (HTTP 418/429) and
// blocks all Reserve calls until it passes. A single notification fires per
// ban episode; duplicate TripBan calls for the same still-active ban are
// suppressed.
func (l *Limiter) TripBan(until time.Time) {
	l.mu.Lock()
	alreadyBanned := !l.banUntil.IsZero() && l.now().Before(l.banUntil)
	l.banUntil = until
	if !alreadyBanned {
		l.banNotified = false
	}
	notify := !alreadyBanned && !l.banNotified
	if notify {
		l.banNotified = true
	}
	l.mu.Unlock()

	if notify {
		metrics.RateLimiterBanned.Inc()
		l.log.Warn().Time("ban_until", until).Msg("exchange ban tripped")
	}
}

// clearBanNotifiedIfExpired resets the one-shot flag once a ban episode ends,
// so the next TripBan again produces exactly one notification.
func (l *Limiter) clearBanNotifiedIfExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.banUntil.IsZero() || !l.now().Before(l.banUntil) {
		l.banNotified = false
	}
}

// Snapshot reports the current bucket usage, for observability/health checks.
type Snapshot struct {
	BucketStart time.Time
	Used        int
	Threshold   int
	HardLimit   int
	BanUntil    time.Time
}

// Snapshot returns a read-only copy of the ledger state.
func (l *Limiter) Snapshot() Snapshot {
	l.clearBanNotifiedIfExpired()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollBucketLocked()
	return Snapshot{
		BucketStart: l.bucketStart,
		Used:        l.used,
		Threshold:   l.threshold(),
		HardLimit:   l.hardLimit,
		BanUntil:    l.banUntil,
	}
}
