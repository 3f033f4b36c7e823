package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/scorer"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/strategy"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/tracker"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

const minBarsForEvaluation = 60

// evaluateSymbol runs one symbol through D2/S1/S2/S3/L1 for a single cycle:
// classify the regime off the 1h bundle, run every strategy against its own
// declared timeframe, score the strategy proposals, run Action Price off
// the 15m series, and commit whichever survive scoring and can acquire
// their lock. It never touches the network — the I/O refresh phase
// (loader.RefreshRecent) already ran before this.
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) error {
	series1h, err := e.deps.Loader.RecentCandles(ctx, symbol, market.TF1h, 300)
	if err != nil {
		return fmt.Errorf("1h candles %s: %w", symbol, err)
	}
	bundle1h := indicator.Compute(series1h)
	regimeResult := regime.Detect(bundle1h, e.deps.RegimeCfg)

	series4h, err := e.deps.Loader.RecentCandles(ctx, symbol, market.TF4h, 250)
	if err != nil {
		return fmt.Errorf("4h candles %s: %w", symbol, err)
	}
	bias := regime.H4Bias(indicator.Compute(series4h))

	built := zone.Build(series4h, market.TF4h, zone.BuilderConfig{})
	built = zone.AgeOut(built, time.Now(), 30*24*time.Hour)
	e.deps.Zones.Set(symbol, built) // this goroutine is the single writer for symbol this cycle
	zones := e.deps.Zones.Get(symbol)

	byTimeframe := groupByTimeframe(e.deps.Strategies)
	var proposals []strategy.Proposal
	var series15m market.Series
	for tf, set := range byTimeframe {
		series, err := e.deps.Loader.RecentCandles(ctx, symbol, tf, 300)
		if err != nil {
			return fmt.Errorf("candles %s/%s: %w", symbol, tf, err)
		}
		if tf == market.TF15m {
			series15m = series
		}
		if len(series) < minBarsForEvaluation {
			continue
		}
		bundle := e.deps.Cache.Get(symbol, tf, series)
		in := strategy.Input{
			Symbol: symbol, Series: series, Bundle: bundle,
			Regime: regimeResult.Regime, Bias: bias, LateTrend: regimeResult.LateTrend,
			MarkPrice: bundle.Latest().Close, Zones: zones,
			Exogenous: strategy.Exogenous{DepthImbalance: 1.0},
		}
		proposals = append(proposals, strategy.EvaluateAll(set, in)...)
	}

	scoringInput := strategy.Input{Symbol: symbol, Series: series1h, Bundle: bundle1h, Regime: regimeResult.Regime, Bias: bias, Zones: zones}
	scored := scorer.EvaluateCycle(e.deps.Scorer, symbol, scoringInput, proposals)
	for _, s := range scored {
		e.deps.Journal.LogScoring(journalScoringEvent(s))
		if err := e.commitProposal(ctx, symbol, s, regimeResult.Regime); err != nil {
			e.deps.Log.Error().Err(err).Str("symbol", symbol).Str("strategy", s.Proposal.StrategyName).Msg("commit proposal failed")
		}
	}

	if len(series15m) >= minBarsForEvaluation {
		if apSig := e.deps.ActionPrice.Evaluate(symbol, series15m); apSig != nil {
			if err := e.commitActionPrice(ctx, apSig); err != nil {
				e.deps.Log.Error().Err(err).Str("symbol", symbol).Msg("commit action price signal failed")
			}
		}
	}

	return nil
}

func groupByTimeframe(set strategy.Set) map[market.Timeframe]strategy.Set {
	out := make(map[market.Timeframe]strategy.Set)
	for _, s := range set {
		tf := s.Timeframe()
		out[tf] = append(out[tf], s)
	}
	return out
}

func (e *Engine) commitProposal(ctx context.Context, symbol string, s scorer.Scored, mr regime.Regime) error {
	p := s.Proposal
	key := signal.LockKey{Symbol: symbol, Direction: p.Direction, StrategyName: p.StrategyName}
	ok, err := e.deps.Locks.TryAcquire(ctx, key, e.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return nil // an ACTIVE signal already occupies this key
	}

	now := time.Now()
	sig := &signal.Signal{
		ID:              signalID(symbol, p.StrategyName, p.Direction, now),
		Symbol:          symbol,
		StrategyName:    p.StrategyName,
		Direction:       p.Direction,
		Entry:           p.Entry,
		SL:              p.SL,
		TP1:             p.TP1,
		TP2:             p.TP2,
		HasTP2:          p.HasTP2,
		Status:          signal.Active,
		CreatedAt:       now,
		ConfidenceScore: s.FinalScore,
		MarketRegime:    signal.Regime(mr),
		Meta: signal.Meta{
			FactorFlags:  p.FactorFlags,
			RegimeWeight: s.RegimeWeight,
			FinalScore:   s.FinalScore,
			BaseScore:    p.BaseScore,
		},
	}
	if err := sig.Validate(); err != nil {
		_ = e.deps.Locks.Release(ctx, key)
		return fmt.Errorf("invariant: %w", err)
	}
	if err := e.deps.Signals.Create(ctx, sig); err != nil {
		_ = e.deps.Locks.Release(ctx, key)
		return err
	}
	e.deps.Journal.LogSignal(journalSignalCreated(sig, now))
	metrics.SignalsCreated.WithLabelValues(sig.StrategyName, string(sig.Direction)).Inc()
	e.track(sig)
	return nil
}

func (e *Engine) commitActionPrice(ctx context.Context, apSig *signal.ActionPriceSignal) error {
	key := apSig.LockKey()
	ok, err := e.deps.Locks.TryAcquire(ctx, key, e.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	apSig.Status = signal.Active
	apSig.CreatedAt = time.Now()
	apSig.ID = signalID(apSig.Symbol, apSig.StrategyName, apSig.Direction, apSig.CreatedAt)
	if err := apSig.Validate(); err != nil {
		_ = e.deps.Locks.Release(ctx, key)
		return fmt.Errorf("invariant: %w", err)
	}
	if err := e.deps.Signals.CreateActionPrice(ctx, apSig); err != nil {
		_ = e.deps.Locks.Release(ctx, key)
		return err
	}
	e.deps.Journal.LogSignal(journalSignalCreated(&apSig.Signal, apSig.CreatedAt))
	metrics.SignalsCreated.WithLabelValues(apSig.StrategyName, string(apSig.Direction)).Inc()
	e.track(&apSig.Signal)
	return nil
}

func signalID(symbol, strategyName string, dir signal.Direction, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%d", symbol, strategyName, dir, now.UnixNano())
}

func (e *Engine) track(sig *signal.Signal) {
	e.trackedMu.Lock()
	e.tracked[sig.ID] = tracker.NewTracked(sig)
	e.trackedMu.Unlock()
}

// checkActive resolves every tracked signal against the latest closed
// 15m candle for its symbol. A failure on one signal is logged and does
// not stop the pass over the rest (spec §4.8: prior commits are preserved).
func (e *Engine) checkActive(ctx context.Context) {
	e.trackedMu.Lock()
	snapshot := make([]*tracker.Tracked, 0, len(e.tracked))
	for _, t := range e.tracked {
		snapshot = append(snapshot, t)
	}
	e.trackedMu.Unlock()

	for _, t := range snapshot {
		series, err := e.deps.Loader.RecentCandles(ctx, t.Sig.Symbol, market.TF15m, 30)
		if err != nil || len(series) == 0 {
			continue
		}
		candle := series[len(series)-1]
		bundle := e.deps.Cache.Get(t.Sig.Symbol, market.TF15m, series)
		atr := bundle.Latest().ATR14

		res, err := e.deps.Tracker.Check(ctx, t, candle, atr, e.markPrice(ctx, t.Sig.Symbol), time.Now())
		if err != nil {
			e.deps.Log.Error().Err(err).Str("signal", t.Sig.ID).Msg("tracker check failed")
			continue
		}
		if res.Terminal {
			e.deps.Journal.LogSignal(journalSignalClosed(t.Sig, time.Now()))
			metrics.SignalsClosed.WithLabelValues(t.Sig.StrategyName, string(t.Sig.ExitReason)).Inc()
			e.trackedMu.Lock()
			delete(e.tracked, t.Sig.ID)
			e.trackedMu.Unlock()
		}
	}
}

// markPrice fetches the current mark price for symbol, the preferred input
// to Tracker.Check (spec §4.8). A missing client or a failed fetch returns
// decimal.Zero, which Check treats as "fall back to the closed candle."
func (e *Engine) markPrice(ctx context.Context, symbol string) decimal.Decimal {
	if e.deps.Exchange == nil {
		return decimal.Zero
	}
	px, err := e.deps.Exchange.MarkPrice(ctx, symbol)
	if err != nil {
		e.deps.Log.Warn().Err(err).Str("symbol", symbol).Msg("mark price fetch failed, tracker falls back to candle close")
		return decimal.Zero
	}
	return decimal.NewFromFloat(px)
}
