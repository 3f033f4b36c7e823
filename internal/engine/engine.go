// Package engine drives the main evaluation loop (spec §5): refresh
// candles, classify regime, run every strategy plus Action Price, score
// and commit signals, then age every tracked signal against the newest
// closed candle. Grounded on the select{ctx.Done()/tick} shape of
// cmd/paper/main.go, generalized from one tick channel into a
// candle-close-aligned scheduler with a bounded CPU pool.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/actionprice"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/exchange"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/journal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/loader"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/lock"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/scorer"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/strategy"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/tracker"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

// Config tunes the loop's cadence and concurrency, independent of any one
// symbol's strategy/tracker parameters.
type Config struct {
	Symbols            []string
	Timeframe          time.Duration // scheduler cadence, normally 15m to match market.TF15m
	SettleDelay        time.Duration // wait past the boundary for the exchange to finalize the close
	RefreshHorizonDays int
	CPUPoolSize        int           // errgroup.SetLimit for the strategy/scoring fan-out
	LockTTL            time.Duration
	TrackerCadence     time.Duration // tracker.cadence_sec: independent age-active-signals tick, default 60s
}

func (c Config) withDefaults() Config {
	if c.Timeframe <= 0 {
		c.Timeframe = 15 * time.Minute
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.RefreshHorizonDays <= 0 {
		c.RefreshHorizonDays = 3
	}
	if c.CPUPoolSize <= 0 {
		c.CPUPoolSize = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 6 * time.Hour
	}
	if c.TrackerCadence <= 0 {
		c.TrackerCadence = 60 * time.Second
	}
	return c
}

// Deps are the collaborators wired together by cmd/botctl. Everything
// here is a pointer/interface owned elsewhere; the engine never
// constructs its own storage or exchange client.
type Deps struct {
	Loader      *loader.Loader
	Exchange    *exchange.Client // live mark price for checkActive; nil falls back to candle.Close
	Cache       *indicator.Cache
	Zones       *zone.Registry
	Strategies  strategy.Set
	ActionPrice *actionprice.Engine
	Scorer      *scorer.Scorer
	Locks       *lock.Table
	Signals     store.SignalStore
	Tracker     *tracker.Tracker
	Journal     *journal.Journal
	Log         zerolog.Logger
	RegimeCfg   regime.Config
}

// Engine runs the candle-close-aligned M0 loop for a fixed symbol set.
type Engine struct {
	cfg  Config
	deps Deps

	tracked   map[string]*tracker.Tracked
	trackedMu sync.Mutex

	cycleRunning   atomic.Bool // true while a cycle is in flight; guards against overlap
	trackerCheckMu sync.Mutex  // serializes checkActive between the cycle trigger and the independent cadence loop
	wg             sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		tracked: make(map[string]*tracker.Tracked),
	}
}

// Run blocks until ctx is cancelled, firing one cycle per candle close
// plus a settle delay. If a cycle is still running when the next boundary
// arrives, the new tick is dropped rather than queued (spec §5) — the
// scheduler never lets cycles pile up behind a slow one.
func (e *Engine) Run(ctx context.Context) error {
	e.deps.Log.Info().Strs("symbols", e.cfg.Symbols).Dur("timeframe", e.cfg.Timeframe).Msg("engine started")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTrackerLoop(ctx)
	}()

	for {
		wait := time.Until(nextBoundary(time.Now(), e.cfg.Timeframe).Add(e.cfg.SettleDelay))
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.deps.Log.Info().Msg("engine shutting down, waiting for in-flight cycle")
			e.wg.Wait()
			return ctx.Err()
		case <-timer.C:
			e.fireCycle(ctx)
		}
	}
}

// runTrackerLoop ages every tracked signal on its own cadence
// (tracker.cadence_sec, default 60s), independent of the candle-close-aligned
// scheduler above. A signal breaching a stop or trailing level never waits
// out the rest of a 15-minute cycle before the tracker notices (spec §4.8).
func (e *Engine) runTrackerLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TrackerCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTrackerCheck(ctx)
		}
	}
}

// runTrackerCheck wraps checkActive with a mutex so the independent cadence
// loop and the per-cycle trigger in runCycle never age the same tracked
// signal concurrently.
func (e *Engine) runTrackerCheck(ctx context.Context) {
	e.trackerCheckMu.Lock()
	defer e.trackerCheckMu.Unlock()
	e.checkActive(ctx)
}

func nextBoundary(now time.Time, step time.Duration) time.Time {
	if step <= 0 {
		return now
	}
	trunc := now.Truncate(step)
	if !trunc.After(now) {
		trunc = trunc.Add(step)
	}
	return trunc
}

// tryEnterCycle flips the overlap guard from idle to running, reporting
// whether this caller won the race. exitCycle releases it again.
func (e *Engine) tryEnterCycle() bool {
	return e.cycleRunning.CompareAndSwap(false, true)
}

func (e *Engine) exitCycle() {
	e.cycleRunning.Store(false)
}

func (e *Engine) fireCycle(ctx context.Context) {
	if !e.tryEnterCycle() {
		metrics.CyclesSkipped.Inc()
		e.deps.Log.Warn().Msg("previous cycle still running, dropping this tick")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.exitCycle()
		e.runCycle(ctx)
	}()
}

// runCycle refreshes candles for every symbol (bounded I/O pool inside
// loader.RefreshRecent), ages every tracked signal against the newest
// closed candle, then evaluates each symbol's strategies/scoring/Action
// Price under a bounded CPU pool.
func (e *Engine) runCycle(ctx context.Context) {
	started := time.Now()

	if err := e.deps.Loader.RefreshRecent(ctx, e.cfg.Symbols, e.cfg.RefreshHorizonDays); err != nil {
		e.deps.Log.Error().Err(err).Msg("refresh recent candles failed")
	}

	e.runTrackerCheck(ctx)

	unhealthy := e.deps.Loader.UnhealthySymbols()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CPUPoolSize)
	for _, symbol := range e.cfg.Symbols {
		symbol := symbol
		if err, bad := unhealthy[symbol]; bad {
			e.deps.Log.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol, candle refresh unhealthy this cycle")
			continue
		}
		g.Go(func() error {
			if err := e.evaluateSymbol(gctx, symbol); err != nil {
				e.deps.Log.Error().Err(err).Str("symbol", symbol).Msg("evaluate symbol failed")
			}
			return nil
		})
	}
	_ = g.Wait() // per-symbol errors are already logged; one bad symbol never aborts the rest

	e.deps.Log.Info().Dur("elapsed", time.Since(started)).Int("tracked", e.trackedCount()).Msg("cycle complete")
}

func (e *Engine) trackedCount() int {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	return len(e.tracked)
}

func journalScoringEvent(s scorer.Scored) journal.ScoringEvent {
	return journal.NewScoringEvent(s, time.Now())
}

func journalSignalCreated(sig *signal.Signal, now time.Time) journal.SignalEvent {
	return journal.NewSignalEvent(journal.SignalCreated, sig, now)
}

func journalSignalClosed(sig *signal.Signal, now time.Time) journal.SignalEvent {
	return journal.NewSignalEvent(journal.SignalClosed, sig, now)
}
