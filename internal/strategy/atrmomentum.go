package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// ATRMomentumConfig tunes the impulse-and-follow-through recognizer.
type ATRMomentumConfig struct {
	ImpulseATR            float64
	ClosePositionMin      float64 // fraction of bar range the close must clear, e.g. 0.80 = top 20%
	MinDistanceResistance float64
	VolumeThreshold       float64
	BreakoutATRMin        float64
	ImpulseLookback       int
	ResistanceLookback    int
	RRMin                 float64
	RRMax                 float64
}

func (c ATRMomentumConfig) withDefaults() ATRMomentumConfig {
	if c.ImpulseATR <= 0 {
		c.ImpulseATR = 1.4
	}
	if c.ClosePositionMin <= 0 {
		c.ClosePositionMin = 0.80
	}
	if c.MinDistanceResistance <= 0 {
		c.MinDistanceResistance = 1.5
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 2.0
	}
	if c.BreakoutATRMin <= 0 {
		c.BreakoutATRMin = 0.2
	}
	if c.ImpulseLookback <= 0 {
		c.ImpulseLookback = 5
	}
	if c.ResistanceLookback <= 0 {
		c.ResistanceLookback = 50
	}
	if c.RRMin <= 0 {
		c.RRMin = 2.0
	}
	if c.RRMax <= 0 {
		c.RRMax = 3.0
	}
	return c
}

// ATRMomentum trades a follow-through breakout of a recent impulse bar, or a
// shallow pullback into EMA9/20 after one (spec §4.5's ATR Momentum row,
// TREND affinity, excluded during a late-trend extension).
type ATRMomentum struct {
	cfg ATRMomentumConfig
}

// NewATRMomentum builds an ATRMomentum recognizer.
func NewATRMomentum(cfg ATRMomentumConfig) *ATRMomentum {
	return &ATRMomentum{cfg: cfg.withDefaults()}
}

func (s *ATRMomentum) Name() string             { return "ATR Momentum" }
func (s *ATRMomentum) Category() Category        { return CategoryBreakout }
func (s *ATRMomentum) Timeframe() market.Timeframe { return market.TF15m }

// Evaluate implements Strategy.
func (s *ATRMomentum) Evaluate(in Input) *Proposal {
	if in.Regime != regime.Trend || in.LateTrend {
		return nil
	}
	series := in.Series
	if len(series) < 100 {
		return nil
	}
	highs, lows, closes := series.Highs(), series.Lows(), series.Closes()
	atr := indicator.ATR(highs, lows, closes, 14)
	ema9 := indicator.EMA(closes, 9)
	ema20 := indicator.EMA(closes, 20)

	n := len(series)
	impulseIdx := -1
	for offset := 1; offset <= s.cfg.ImpulseLookback; offset++ {
		i := n - offset
		if i < 0 {
			break
		}
		barRange := highs[i] - lows[i]
		if barRange <= 0 || atr[i] <= 0 {
			continue
		}
		if barRange < s.cfg.ImpulseATR*atr[i] {
			continue
		}
		position := (closes[i] - lows[i]) / barRange
		if position >= s.cfg.ClosePositionMin {
			impulseIdx = i
			break
		}
	}
	if impulseIdx == -1 {
		return nil
	}
	impulseHigh, impulseLow := highs[impulseIdx], lows[impulseIdx]

	volumes := series.Volumes()
	avgVol := mean(volumes[maxi(0, n-20):n])
	volRatio := 0.0
	if avgVol > 0 {
		volRatio = volumes[n-1] / avgVol
	}
	if volRatio < s.cfg.VolumeThreshold {
		return nil
	}

	currentATR := last2(atr)
	resistance := maxOf(highs[maxi(0, n-s.cfg.ResistanceLookback):n])
	distanceToResistance := 0.0
	if currentATR > 0 {
		distanceToResistance = (resistance - closes[n-1]) / currentATR
	}
	if distanceToResistance < s.cfg.MinDistanceResistance {
		return nil
	}

	if in.Bias == regime.Bearish {
		return nil
	}

	last, _ := series.Last()
	if last.High > impulseHigh && last.High-impulseHigh >= s.cfg.BreakoutATRMin*currentATR {
		entry := last.Close
		sl := impulseLow - 0.25*currentATR
		dist := entry - sl
		return &Proposal{
			StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
			Direction: signal.Long, Entry: dec(entry), SL: dec(sl),
			TP1: dec(entry + dist*s.cfg.RRMin), TP2: dec(entry + dist*s.cfg.RRMax), HasTP2: true,
			BaseScore:   1.0,
			FactorFlags: []string{"atr_momentum", "impulse_breakout"},
			Meta:        map[string]float64{"impulse_high": impulseHigh, "impulse_low": impulseLow, "distance_to_resistance_atr": distanceToResistance},
		}
	}

	ema9Val, ema20Val := last2(ema9), last2(ema20)
	if last.Low <= ema20Val && last.Close > ema20Val {
		entry := last.Close
		sl := last.Low - 0.25*currentATR
		dist := entry - sl
		return &Proposal{
			StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
			Direction: signal.Long, Entry: dec(entry), SL: dec(sl),
			TP1: dec(entry + dist*s.cfg.RRMin), TP2: dec(entry + dist*s.cfg.RRMax), HasTP2: true,
			BaseScore:   1.0,
			FactorFlags: []string{"atr_momentum", "micro_pullback"},
			Meta:        map[string]float64{"impulse_high": impulseHigh, "impulse_low": impulseLow, "ema9": ema9Val, "ema20": ema20Val},
		}
	}
	return nil
}
