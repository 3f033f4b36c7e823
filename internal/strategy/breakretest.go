package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// BreakRetestConfig tunes the break-and-return recognizer.
type BreakRetestConfig struct {
	BreakoutATR       float64
	ZoneATR           float64
	VolumeThreshold   float64
	BreakoutLookback  int
	SwingLookback     int
	RRMin             float64
	RRMax             float64
}

func (c BreakRetestConfig) withDefaults() BreakRetestConfig {
	if c.BreakoutATR <= 0 {
		c.BreakoutATR = 0.25
	}
	if c.ZoneATR <= 0 {
		c.ZoneATR = 0.3
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 1.5
	}
	if c.BreakoutLookback <= 0 {
		c.BreakoutLookback = 20
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = 10
	}
	if c.RRMin <= 0 {
		c.RRMin = 1.5
	}
	if c.RRMax <= 0 {
		c.RRMax = 2.5
	}
	return c
}

// BreakRetest looks for a body break of a recent extreme on volume, then a
// pullback into a retest band around the broken level with rejection back in
// the breakout direction (spec §4.5's Break & Retest row).
type BreakRetest struct {
	cfg BreakRetestConfig
}

// NewBreakRetest builds a BreakRetest recognizer.
func NewBreakRetest(cfg BreakRetestConfig) *BreakRetest {
	return &BreakRetest{cfg: cfg.withDefaults()}
}

func (s *BreakRetest) Name() string             { return "Break & Retest" }
func (s *BreakRetest) Category() Category        { return CategoryPullback }
func (s *BreakRetest) Timeframe() market.Timeframe { return market.TF15m }

type breakout struct {
	direction signal.Direction
	level     float64
	atr       float64
}

func (s *BreakRetest) findRecentBreakout(series market.Series, atr []float64) *breakout {
	n := len(series)
	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()
	volumes := series.Volumes()

	// barIdx walks backward from the bar before the current one (the current
	// bar is reserved for the retest check in Evaluate) through
	// BreakoutLookback candidates, most recent first.
	for offset := 1; offset <= s.cfg.BreakoutLookback; offset++ {
		barIdx := n - 1 - offset
		if barIdx-s.cfg.SwingLookback < 0 {
			continue
		}
		barATR := atr[barIdx]
		if barATR <= 0 {
			continue
		}
		prevHigh := maxOf(highs[barIdx-s.cfg.SwingLookback : barIdx])
		prevLow := minOf(lows[barIdx-s.cfg.SwingLookback : barIdx])
		avgVolStart := maxi(0, barIdx-20)
		avgVol := mean(volumes[avgVolStart:barIdx])
		volRatio := 0.0
		if avgVol > 0 {
			volRatio = volumes[barIdx] / avgVol
		}

		barClose := closes[barIdx]
		if barClose > prevHigh && barClose-prevHigh >= s.cfg.BreakoutATR*barATR && volRatio >= s.cfg.VolumeThreshold {
			return &breakout{direction: signal.Long, level: prevHigh, atr: barATR}
		}
		if barClose < prevLow && prevLow-barClose >= s.cfg.BreakoutATR*barATR && volRatio >= s.cfg.VolumeThreshold {
			return &breakout{direction: signal.Short, level: prevLow, atr: barATR}
		}
	}
	return nil
}

// Evaluate implements Strategy.
func (s *BreakRetest) Evaluate(in Input) *Proposal {
	series := in.Series
	if len(series) < 50 {
		return nil
	}
	atr := indicator.ATR(series.Highs(), series.Lows(), series.Closes(), 14)
	brk := s.findRecentBreakout(series, atr)
	if brk == nil {
		return nil
	}

	last, _ := series.Last()
	currentATR := last2(atr)
	retestUpper := brk.level + s.cfg.ZoneATR*currentATR
	retestLower := brk.level - s.cfg.ZoneATR*currentATR

	if last.Close < retestLower || last.Close > retestUpper {
		return nil
	}

	if brk.direction == signal.Long {
		if !(last.Low <= brk.level && last.Close > brk.level) {
			return nil
		}
		if in.Bias == regime.Bearish {
			return nil
		}
		entry := last.Close
		sl := last.Low - 0.25*currentATR
		dist := entry - sl
		return &Proposal{
			StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
			Direction: signal.Long, Entry: dec(entry), SL: dec(sl),
			TP1: dec(entry + dist*s.cfg.RRMin), TP2: dec(entry + dist*s.cfg.RRMax), HasTP2: true,
			BaseScore:   1.0,
			FactorFlags: []string{"break_retest"},
			Meta:        map[string]float64{"breakout_level": brk.level},
		}
	}

	if !(last.High >= brk.level && last.Close < brk.level) {
		return nil
	}
	if in.Bias == regime.Bullish {
		return nil
	}
	entry := last.Close
	sl := last.High + 0.25*currentATR
	dist := sl - entry
	return &Proposal{
		StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
		Direction: signal.Short, Entry: dec(entry), SL: dec(sl),
		TP1: dec(entry - dist*s.cfg.RRMin), TP2: dec(entry - dist*s.cfg.RRMax), HasTP2: true,
		BaseScore:   1.0,
		FactorFlags: []string{"break_retest"},
		Meta:        map[string]float64{"breakout_level": brk.level},
	}
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func last2(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return x[len(x)-1]
}
