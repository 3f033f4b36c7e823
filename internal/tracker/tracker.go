// Package tracker drives every ACTIVE signal to a terminal state: partial
// exits at TP1/TP2, a trailing runner for the remainder, stop-loss and
// time-stop closures, and the lock release that frees its (symbol,
// direction, strategy_name) key for a future signal (spec §4.8).
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/lock"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
)

// Tracked wraps a Signal with the bookkeeping the tracker needs but that
// doesn't belong on the persisted record: the original stop (SL moves to
// breakeven after TP1, so the R-multiple denominator must be captured
// separately) and a bars-since-entry counter for the time-stop rule.
type Tracked struct {
	Sig       *signal.Signal
	InitialSL decimal.Decimal
	Bars      int
}

// NewTracked snapshots a freshly committed signal's stop as the fixed risk
// distance used for MFE/MAE and the pre-TP1 stop-loss payout.
func NewTracked(sig *signal.Signal) *Tracked {
	return &Tracked{Sig: sig, InitialSL: sig.SL}
}

// Result summarizes what one Check call did, for the journal (spec §6).
type Result struct {
	Transitioned bool
	Reason       signal.ExitReason
	Terminal     bool
}

// Tracker runs the exit-resolution rules against Tracked signals and
// persists each transition individually: a failure resolving one signal
// in a pass must not roll back transitions already committed for another.
type Tracker struct {
	cfg   Config
	store store.SignalStore
	locks *lock.Table

	statsMu sync.Mutex
	stats   map[signal.ExitReason]int
}

// New builds a Tracker. store and locks may be nil for pure in-memory use
// (as in tests); persistence and lock release are then skipped.
func New(cfg Config, s store.SignalStore, locks *lock.Table) *Tracker {
	return &Tracker{cfg: cfg.withDefaults(), store: s, locks: locks, stats: make(map[signal.ExitReason]int)}
}

// StatsByReason tallies every terminal transition this Tracker has resolved,
// grouped by exit_reason (never by tpN_hit flags, per spec §9's win-rate
// grouping rule). A pattern-breakdown report for the "health" CLI verb.
func (tr *Tracker) StatsByReason() map[signal.ExitReason]int {
	tr.statsMu.Lock()
	defer tr.statsMu.Unlock()
	out := make(map[signal.ExitReason]int, len(tr.stats))
	for k, v := range tr.stats {
		out[k] = v
	}
	return out
}

// Check evaluates one newly closed candle (or cadence tick, reusing the
// latest closed candle) against t's exit-resolution rules, mutates t.Sig in
// place, and persists the result. mark is the preferred live mark price;
// pass decimal.Zero to fall back to candle.Close.
func (tr *Tracker) Check(ctx context.Context, t *Tracked, candle market.Candle, atr float64, mark decimal.Decimal, now time.Time) (Result, error) {
	if t.Sig.Status != signal.Active {
		return Result{}, nil
	}
	t.Bars++
	markPrice := mark
	if markPrice.IsZero() {
		markPrice = decimal.NewFromFloat(candle.Close)
	}

	updateExcursion(t, candle)

	res := tr.resolve(t, candle, atr, markPrice, now)
	if res.Terminal {
		t.Sig.Status = signal.Closed
		t.Sig.ExitReason = res.Reason
		t.Sig.ClosedAt = now
		t.Sig.BarsToExit = t.Bars
		tr.statsMu.Lock()
		tr.stats[res.Reason]++
		tr.statsMu.Unlock()
	}

	if err := tr.persist(ctx, t, res); err != nil {
		return res, err
	}
	return res, nil
}

func (tr *Tracker) persist(ctx context.Context, t *Tracked, res Result) error {
	if tr.store != nil {
		if err := tr.store.Update(ctx, t.Sig); err != nil {
			return err
		}
	}
	if res.Terminal && tr.locks != nil {
		return tr.locks.Release(ctx, t.Sig.LockKey())
	}
	return nil
}

// resolve applies the priority-ordered exit rules of spec §4.8 and mutates
// t.Sig for whichever transition (if any) fires.
func (tr *Tracker) resolve(t *Tracked, candle market.Candle, atr float64, mark decimal.Decimal, now time.Time) Result {
	sig := t.Sig
	long := sig.Direction == signal.Long

	if !sig.TP2Hit {
		if stopTriggered(long, candle, sig.SL) {
			if sig.TP1Hit {
				sig.FinalPnLPct = sig.TP1PnLPct
				return Result{Transitioned: true, Terminal: true, Reason: signal.ExitBreakeven}
			}
			sig.FinalPnLPct = decimal.NewFromFloat(signedReturnPct(long, sig.Entry, sig.SL))
			return Result{Transitioned: true, Terminal: true, Reason: signal.ExitStopLoss}
		}
	}

	closePrice := decimal.NewFromFloat(candle.Close)

	if sig.HasTP2 && !sig.TP2Hit && tpTriggered(long, closePrice, sig.TP2) {
		if !sig.TP1Hit {
			applyTP1(tr.cfg, sig, now)
		}
		applyTP2(tr.cfg, sig, candle, long, now)
		return Result{Transitioned: true, Reason: signal.ExitTP2}
	}

	if !sig.TP1Hit && tpTriggered(long, closePrice, sig.TP1) {
		applyTP1(tr.cfg, sig, now)
		return Result{Transitioned: true, Reason: signal.ExitTP1}
	}

	if sig.TrailingActive {
		if tr.cfg.PostTP2TimeStopHours > 0 && !sig.TP2ClosedAt.IsZero() &&
			now.Sub(sig.TP2ClosedAt).Hours() >= tr.cfg.PostTP2TimeStopHours {
			runner := signedReturnPct(long, sig.Entry, mark) * tr.cfg.RunnerFraction
			sig.FinalPnLPct = sig.TP1PnLPct.Add(sig.TP2PnLPct).Add(decimal.NewFromFloat(runner))
			return Result{Transitioned: true, Terminal: true, Reason: signal.ExitTimeStop}
		}

		extreme := favorableExtreme(long, candle)
		sig.TrailingPeakPrice = updatePeak(long, sig.TrailingPeakPrice, extreme)
		retrace := absDecimal(closePrice.Sub(sig.TrailingPeakPrice)).InexactFloat64()
		if retrace >= tr.cfg.TrailATRMult*atr {
			runner := signedReturnPct(long, sig.Entry, closePrice) * tr.cfg.RunnerFraction
			sig.FinalPnLPct = sig.TP1PnLPct.Add(sig.TP2PnLPct).Add(decimal.NewFromFloat(runner))
			return Result{Transitioned: true, Terminal: true, Reason: signal.ExitTrailing}
		}
		return Result{}
	}

	if !sig.TP1Hit && t.Bars >= tr.cfg.TimeStopBars {
		sig.FinalPnLPct = decimal.NewFromFloat(signedReturnPct(long, sig.Entry, mark))
		return Result{Transitioned: true, Terminal: true, Reason: signal.ExitTimeStop}
	}

	return Result{}
}

func applyTP1(cfg Config, sig *signal.Signal, now time.Time) {
	long := sig.Direction == signal.Long
	sig.TP1Hit = true
	sig.TP1ClosedAt = now
	sig.TP1PnLPct = decimal.NewFromFloat(signedReturnPct(long, sig.Entry, sig.TP1)).Mul(decimal.NewFromFloat(cfg.TP1Fraction))
	sig.SL = sig.Entry
}

func applyTP2(cfg Config, sig *signal.Signal, candle market.Candle, long bool, now time.Time) {
	sig.TP2Hit = true
	sig.TP2ClosedAt = now
	sig.TP2PnLPct = decimal.NewFromFloat(signedReturnPct(long, sig.Entry, sig.TP2)).Mul(decimal.NewFromFloat(cfg.TP2Fraction))
	sig.TrailingActive = true
	sig.TrailingPeakPrice = decimal.NewFromFloat(favorableExtreme(long, candle))
}

func stopTriggered(long bool, candle market.Candle, sl decimal.Decimal) bool {
	slF := sl.InexactFloat64()
	if long {
		return candle.Low <= slF
	}
	return candle.High >= slF
}

func tpTriggered(long bool, close, tp decimal.Decimal) bool {
	if long {
		return close.GreaterThanOrEqual(tp)
	}
	return close.LessThanOrEqual(tp)
}

func favorableExtreme(long bool, candle market.Candle) float64 {
	if long {
		return candle.High
	}
	return candle.Low
}

func updatePeak(long bool, peak decimal.Decimal, extreme float64) decimal.Decimal {
	e := decimal.NewFromFloat(extreme)
	if peak.IsZero() {
		return e
	}
	if long {
		if e.GreaterThan(peak) {
			return e
		}
		return peak
	}
	if e.LessThan(peak) {
		return e
	}
	return peak
}

// signedReturnPct is the percentage move from entry to price, signed so a
// favorable move for the position's direction is positive.
func signedReturnPct(long bool, entry, price decimal.Decimal) float64 {
	e := entry.InexactFloat64()
	p := price.InexactFloat64()
	if e == 0 {
		return 0
	}
	if long {
		return (p - e) / e * 100
	}
	return (e - p) / e * 100
}

func absDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}

// updateExcursion tracks MFE/MAE in R-multiples of the ORIGINAL risk
// distance (spec §4.8). The denominator is fixed at entry, so a well-formed
// signal (create-time invariant: sl != entry) never actually divides by
// zero; the guard still applies defensively.
func updateExcursion(t *Tracked, candle market.Candle) {
	sig := t.Sig
	risk := sig.Entry.Sub(t.InitialSL).Abs()
	if risk.LessThanOrEqual(decimal.NewFromFloat(1e-9)) {
		return
	}
	riskF := risk.InexactFloat64()
	entry := sig.Entry.InexactFloat64()

	var favorable, adverse float64
	if sig.Direction == signal.Long {
		favorable = candle.High - entry
		adverse = entry - candle.Low
	} else {
		favorable = entry - candle.Low
		adverse = candle.High - entry
	}

	if mfe := favorable / riskF; mfe > sig.MFE.InexactFloat64() {
		sig.MFE = decimal.NewFromFloat(mfe)
	}
	if mae := adverse / riskF; mae > sig.MAE.InexactFloat64() {
		sig.MAE = decimal.NewFromFloat(mae)
	}
}
