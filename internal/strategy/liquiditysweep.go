package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// LiquiditySweepConfig tunes the stop-hunt wick-and-reclaim recognizer.
// Zero values fall back to the spec-default thresholds.
type LiquiditySweepConfig struct {
	LookbackBars          int
	SweepMinATR           float64
	SweepMaxATR           float64
	SweepMinPct           float64
	SweepMaxPct           float64
	VolumeThreshold       float64
	AcceptanceMinCloses   int
	AcceptanceATRDistance float64
	MaxBarsAfterSweep     int
}

func (c LiquiditySweepConfig) withDefaults() LiquiditySweepConfig {
	if c.LookbackBars <= 0 {
		c.LookbackBars = 50
	}
	if c.SweepMinATR <= 0 {
		c.SweepMinATR = 0.1
	}
	if c.SweepMaxATR <= 0 {
		c.SweepMaxATR = 0.3
	}
	if c.SweepMinPct <= 0 {
		c.SweepMinPct = 0.001
	}
	if c.SweepMaxPct <= 0 {
		c.SweepMaxPct = 0.002
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 1.5
	}
	if c.AcceptanceMinCloses <= 0 {
		c.AcceptanceMinCloses = 2
	}
	if c.AcceptanceATRDistance <= 0 {
		c.AcceptanceATRDistance = 0.25
	}
	if c.MaxBarsAfterSweep <= 0 {
		c.MaxBarsAfterSweep = 3
	}
	return c
}

// LiquiditySweep fades or continues a wick beyond a recent extreme followed
// by a rapid reclaim or acceptance (spec §4.5's Liquidity Sweep row).
type LiquiditySweep struct {
	cfg LiquiditySweepConfig
}

// NewLiquiditySweep builds a LiquiditySweep recognizer.
func NewLiquiditySweep(cfg LiquiditySweepConfig) *LiquiditySweep {
	return &LiquiditySweep{cfg: cfg.withDefaults()}
}

func (s *LiquiditySweep) Name() string             { return "Liquidity Sweep" }
func (s *LiquiditySweep) Category() Category        { return CategoryMeanReversion }
func (s *LiquiditySweep) Timeframe() market.Timeframe { return market.TF15m }

// Evaluate looks back over the last MaxBarsAfterSweep bars for one that swept
// beyond the prior LookbackBars extreme on elevated volume, then checks
// whether the current bar confirms a fade (reclaim) or a continuation
// (acceptance) of that sweep. Unlike the stateful original detector this
// recomputes the sweep context fresh every call to stay a pure function of
// the series (spec §4.5's purity requirement).
func (s *LiquiditySweep) Evaluate(in Input) *Proposal {
	series := in.Series
	n := len(series)
	if n < s.cfg.LookbackBars+s.cfg.MaxBarsAfterSweep+1 {
		return nil
	}

	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()
	volumes := series.Volumes()
	atr := indicator.ATR(highs, lows, closes, 14)

	for offset := 1; offset <= s.cfg.MaxBarsAfterSweep; offset++ {
		sweepIdx := n - 1 - offset
		if sweepIdx < s.cfg.LookbackBars {
			continue
		}
		windowStart := sweepIdx - s.cfg.LookbackBars
		recentHigh := maxOf(highs[windowStart:sweepIdx])
		recentLow := minOf(lows[windowStart:sweepIdx])
		sweepATR := atr[sweepIdx]
		if sweepATR <= 0 {
			continue
		}
		medVol := median(volumes[maxi(0, sweepIdx-20):sweepIdx])
		if medVol <= 0 {
			continue
		}
		sweepVolume := volumes[sweepIdx]
		if sweepVolume <= s.cfg.VolumeThreshold*medVol {
			continue
		}

		sweepUp := highs[sweepIdx] - recentHigh
		sweepUpPct := sweepUp / recentHigh
		if withinSweepBand(sweepUp, sweepUpPct, sweepATR, s.cfg) {
			if p := s.confirm(in, closes, recentHigh, sweepATR, "up"); p != nil {
				return p
			}
		}

		sweepDown := recentLow - lows[sweepIdx]
		sweepDownPct := sweepDown / recentLow
		if withinSweepBand(sweepDown, sweepDownPct, sweepATR, s.cfg) {
			if p := s.confirm(in, closes, recentLow, sweepATR, "down"); p != nil {
				return p
			}
		}
	}
	return nil
}

func withinSweepBand(delta, pct, atr float64, cfg LiquiditySweepConfig) bool {
	if delta <= 0 {
		return false
	}
	inATRBand := delta >= cfg.SweepMinATR*atr && delta <= cfg.SweepMaxATR*atr
	inPctBand := pct >= cfg.SweepMinPct && pct <= cfg.SweepMaxPct
	return inATRBand || inPctBand
}

func (s *LiquiditySweep) confirm(in Input, closes []float64, level, atr float64, direction string) *Proposal {
	n := len(closes)
	currentClose := closes[n-1]
	recent := closes[maxi(0, n-3):]
	ex := in.Exogenous

	if direction == "up" {
		if currentClose < level && ex.CVD15m < 0 && ex.DepthImbalance > 1.1 {
			return s.fadeSignal(in, signal.Short, level, atr)
		}
		closesAbove := countAbove(recent, level)
		if (closesAbove >= s.cfg.AcceptanceMinCloses || currentClose-level >= s.cfg.AcceptanceATRDistance*atr) &&
			(ex.CVD15m > 0 || ex.OIDeltaPct > 1.0) {
			return s.continuationSignal(in, signal.Long, level, atr)
		}
		return nil
	}

	if currentClose > level && ex.CVD15m > 0 && ex.DepthImbalance < 0.9 {
		return s.fadeSignal(in, signal.Long, level, atr)
	}
	closesBelow := countBelow(recent, level)
	if (closesBelow >= s.cfg.AcceptanceMinCloses || level-currentClose >= s.cfg.AcceptanceATRDistance*atr) &&
		(ex.CVD15m < 0 || ex.OIDeltaPct < -1.0) {
		return s.continuationSignal(in, signal.Short, level, atr)
	}
	return nil
}

func (s *LiquiditySweep) fadeSignal(in Input, dir signal.Direction, level, atr float64) *Proposal {
	last, _ := in.Series.Last()
	entry := last.Close
	var sl, tp1, tp2 float64
	if dir == signal.Long {
		sl = last.Low - 0.25*atr
		tp1 = level + 0.5*atr
		tp2 = level + 1.5*atr
	} else {
		sl = last.High + 0.25*atr
		tp1 = level - 0.5*atr
		tp2 = level - 1.5*atr
	}
	return &Proposal{
		StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
		Direction: dir, Entry: dec(entry), SL: dec(sl), TP1: dec(tp1), TP2: dec(tp2), HasTP2: true,
		BaseScore:   2.5,
		FactorFlags: []string{"liquidity_sweep_fade"},
		Meta:        map[string]float64{"sweep_level": level},
	}
}

func (s *LiquiditySweep) continuationSignal(in Input, dir signal.Direction, level, atr float64) *Proposal {
	last, _ := in.Series.Last()
	entry := last.Close
	var sl, tp1, tp2 float64
	if dir == signal.Long {
		sl = level - 0.3*atr
		tp1 = entry + 1.5*atr
		tp2 = entry + 3.0*atr
	} else {
		sl = level + 0.3*atr
		tp1 = entry - 1.5*atr
		tp2 = entry - 3.0*atr
	}
	return &Proposal{
		StrategyName: s.Name(), Category: CategoryBreakout, Timeframe: s.Timeframe(),
		Direction: dir, Entry: dec(entry), SL: dec(sl), TP1: dec(tp1), TP2: dec(tp2), HasTP2: true,
		BaseScore:   2.0,
		FactorFlags: []string{"liquidity_sweep_continuation"},
		Meta:        map[string]float64{"sweep_level": level},
	}
}

func maxOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func countAbove(x []float64, level float64) int {
	n := 0
	for _, v := range x {
		if v >= level {
			n++
		}
	}
	return n
}

func countBelow(x []float64, level float64) int {
	n := 0
	for _, v := range x {
		if v <= level {
			n++
		}
	}
	return n
}
