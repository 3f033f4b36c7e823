// Package loader keeps per-(symbol, timeframe) candle series fresh and
// gap-free (spec §4.3), fanning refresh work out across a bounded worker
// pool the way the original Python engine bounds its asyncio.Semaphore-gated
// gap-refill and catch-up passes.
package loader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/exchange"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/xerrors"
)

const (
	defaultConcurrency  = 50
	defaultSettleDelay  = 31 * time.Second
	klinesPageLimit     = 1000
)

// Loader owns candle freshness for a fixed universe of symbols across the
// four canonical timeframes.
type Loader struct {
	client      *exchange.Client
	candles     store.CandleStore
	concurrency int64
	settleDelay time.Duration
	log         zerolog.Logger

	mu        sync.Mutex
	unhealthy map[string]error
}

// Option configures Loader construction.
type Option func(*Loader)

// WithConcurrency overrides the bounded worker pool size (spec default ~50).
func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = int64(n)
		}
	}
}

// WithSettleDelay overrides how long past a candle's close_time the loader
// waits before trusting it as final (loader.settle_delay_sec, default 31s) —
// the exchange sometimes revises a just-closed kline's OHLCV in the seconds
// after the boundary, so refreshOne treats anything newer than now-delay as
// still-forming.
func WithSettleDelay(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.settleDelay = d
		}
	}
}

// New builds a Loader.
func New(client *exchange.Client, candles store.CandleStore, log zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		client:      client,
		candles:     candles,
		concurrency: defaultConcurrency,
		settleDelay: defaultSettleDelay,
		log:         log.With().Str("component", "loader").Logger(),
		unhealthy:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RefreshRecent refreshes every (symbol, timeframe) pair for the given
// symbols across all canonical timeframes, bounded by the worker pool.
// Per-symbol failures are isolated: one symbol's exchange error does not
// abort the others, but marks that symbol unhealthy until its next
// successful refresh.
func (l *Loader) RefreshRecent(ctx context.Context, symbols []string, horizonDays int) error {
	sem := semaphore.NewWeighted(l.concurrency)
	g, ctx := errgroup.WithContext(ctx)

	for _, sym := range symbols {
		sym := sym
		for _, tf := range market.Timeframes {
			tf := tf
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer sem.Release(1)
				if err := l.refreshOne(ctx, sym, tf, horizonDays); err != nil {
					l.markUnhealthy(sym, err)
					l.log.Warn().Err(err).Str("symbol", sym).Str("timeframe", string(tf)).Msg("refresh failed")
					return nil // isolate: don't cancel sibling workers
				}
				l.clearUnhealthy(sym)
				return nil
			})
		}
	}
	return g.Wait()
}

// refreshOne computes the gap between the last stored close_time and now,
// fetches exactly enough klines to cover it, and upserts the result. The
// exchange's currently-forming candle is always dropped.
func (l *Loader) refreshOne(ctx context.Context, symbol string, tf market.Timeframe, horizonDays int) error {
	last, ok, err := l.candles.LastClosed(ctx, symbol, tf)
	if err != nil {
		return xerrors.New(xerrors.Transient, "loader.refreshOne", err)
	}

	now := time.Now()
	settled := now.Add(-l.settleDelay)
	var startTime time.Time
	if ok {
		startTime = last.CloseTime
	} else {
		startTime = now.Add(-time.Duration(horizonDays) * 24 * time.Hour)
	}

	limit := barsBetween(startTime, now, tf)
	if limit <= 0 {
		return nil // already fresh; nothing to do this cycle
	}
	if limit > klinesPageLimit {
		limit = klinesPageLimit
	}

	klines, err := l.client.Klines(ctx, symbol, tf, limit, startTime, time.Time{})
	if err != nil {
		return err
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		c := market.Candle{
			Symbol: symbol, Timeframe: tf,
			OpenTime: k.OpenTime, CloseTime: k.CloseTime,
			Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume,
		}
		if !c.Closed(settled) {
			continue // still within the settle window; exchange may yet revise it
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil
	}
	if err := l.candles.Upsert(ctx, candles); err != nil {
		return xerrors.New(xerrors.Transient, "loader.refreshOne", err)
	}
	metrics.CandlesIngested.WithLabelValues(symbol, string(tf)).Add(float64(len(candles)))
	return nil
}

// BackfillGap fills a specific [from, to) window for one symbol/timeframe,
// paginating within the exchange's per-request cap.
func (l *Loader) BackfillGap(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) error {
	cursor := from
	for cursor.Before(to) {
		limit := barsBetween(cursor, to, tf)
		if limit <= 0 {
			break
		}
		if limit > klinesPageLimit {
			limit = klinesPageLimit
		}
		klines, err := l.client.Klines(ctx, symbol, tf, limit, cursor, to)
		if err != nil {
			return err
		}
		if len(klines) == 0 {
			break
		}
		candles := make([]market.Candle, 0, len(klines))
		for _, k := range klines {
			candles = append(candles, market.Candle{
				Symbol: symbol, Timeframe: tf,
				OpenTime: k.OpenTime, CloseTime: k.CloseTime,
				Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume,
			})
		}
		if err := l.candles.Upsert(ctx, candles); err != nil {
			return xerrors.New(xerrors.Transient, "loader.BackfillGap", err)
		}
		metrics.CandlesIngested.WithLabelValues(symbol, string(tf)).Add(float64(len(candles)))
		last := klines[len(klines)-1]
		if !last.CloseTime.After(cursor) {
			break // exchange stopped advancing; avoid an infinite loop
		}
		cursor = last.CloseTime
	}
	return nil
}

// RecentCandles returns the most recent n closed candles for symbol/tf.
func (l *Loader) RecentCandles(ctx context.Context, symbol string, tf market.Timeframe, n int) (market.Series, error) {
	return l.candles.Recent(ctx, symbol, tf, n)
}

// UnhealthySymbols returns the symbols whose most recent refresh failed,
// along with the failure — a supplemented feature so the engine can skip
// evaluating symbols with stale data rather than trading on it silently.
func (l *Loader) UnhealthySymbols() map[string]error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]error, len(l.unhealthy))
	for k, v := range l.unhealthy {
		out[k] = v
	}
	return out
}

func (l *Loader) markUnhealthy(symbol string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unhealthy[symbol] = err
}

func (l *Loader) clearUnhealthy(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.unhealthy, symbol)
}

// barsBetween estimates how many closed bars of timeframe tf fit strictly
// between from and to.
func barsBetween(from, to time.Time, tf market.Timeframe) int {
	step := tf.Duration()
	if step <= 0 {
		return 0
	}
	n := int(to.Sub(from) / step)
	if n < 0 {
		return 0
	}
	return n
}

// GapReport summarizes dense-vs-gapped state for one symbol/timeframe pair,
// as returned by CheckGaps.
type GapReport struct {
	Symbol    string
	Timeframe market.Timeframe
	Dense     bool
	Gaps      [][2]time.Time
}

// CheckGaps scans the most recent `lookback` stored candles for symbol/tf and
// reports any gaps among them; older history is not examined.
func (l *Loader) CheckGaps(ctx context.Context, symbol string, tf market.Timeframe, lookback int) (GapReport, error) {
	series, err := l.candles.Recent(ctx, symbol, tf, lookback)
	if err != nil {
		return GapReport{}, err
	}
	return GapReport{
		Symbol: symbol, Timeframe: tf,
		Dense: series.Dense(tf),
		Gaps:  series.Gaps(tf),
	}, nil
}
