package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// MAVWAPPullbackConfig tunes the trend-pullback recognizer.
type MAVWAPPullbackConfig struct {
	RetestATR       float64
	VolumeThreshold float64
	ADXThreshold    float64
	SwingLookback   int
	RRMax           float64
}

func (c MAVWAPPullbackConfig) withDefaults() MAVWAPPullbackConfig {
	if c.RetestATR <= 0 {
		c.RetestATR = 0.3
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 1.2
	}
	if c.ADXThreshold <= 0 {
		c.ADXThreshold = 20
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = 20
	}
	if c.RRMax <= 0 {
		c.RRMax = 2.5
	}
	return c
}

// MAVWAPPullback trades a shallow pullback into the EMA20 band during an
// established H4 trend (spec §4.5's MA/VWAP Pullback row, 4h/TREND).
type MAVWAPPullback struct {
	cfg MAVWAPPullbackConfig
}

// NewMAVWAPPullback builds a MAVWAPPullback recognizer.
func NewMAVWAPPullback(cfg MAVWAPPullbackConfig) *MAVWAPPullback {
	return &MAVWAPPullback{cfg: cfg.withDefaults()}
}

func (s *MAVWAPPullback) Name() string             { return "MA/VWAP Pullback" }
func (s *MAVWAPPullback) Category() Category        { return CategoryPullback }
func (s *MAVWAPPullback) Timeframe() market.Timeframe { return market.TF4h }

// Evaluate implements Strategy.
func (s *MAVWAPPullback) Evaluate(in Input) *Proposal {
	if in.Regime != regime.Trend {
		return nil
	}
	b := in.Bundle
	if len(b.Closes) < 200 {
		return nil
	}
	latest := b.Latest()
	if latest.ADX14 <= s.cfg.ADXThreshold {
		return nil
	}

	ema50Prev := valueAt(b.EMA50, 10)
	if ema50Prev == 0 {
		return nil
	}
	ema50Slope := (latest.EMA50 - ema50Prev) / ema50Prev

	volRatio := 0.0
	if latest.VolumeMean > 0 {
		volRatio = last(in.Series.Volumes()) / latest.VolumeMean
	}
	if volRatio < s.cfg.VolumeThreshold {
		return nil
	}

	pullbackUpper := latest.EMA20 + s.cfg.RetestATR*latest.ATR14
	pullbackLower := latest.EMA20 - s.cfg.RetestATR*latest.ATR14
	if latest.Close < pullbackLower || latest.Close > pullbackUpper {
		return nil
	}

	tail := in.Series.Tail(s.cfg.SwingLookback)

	if ema50Slope > 0 && in.Bias != regime.Bearish && latest.Close > latest.EMA20 {
		entry := latest.Close
		swingLow := minOf(tail.Lows())
		sl := swingLow - 0.25*latest.ATR14
		dist := entry - sl
		return &Proposal{
			StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
			Direction: signal.Long, Entry: dec(entry), SL: dec(sl),
			TP1: dec(entry + dist*1.0), TP2: dec(entry + dist*s.cfg.RRMax), HasTP2: true,
			BaseScore:   1.0,
			FactorFlags: []string{"ma_vwap_pullback", "trend_h4"},
			Meta:        map[string]float64{"ema20": latest.EMA20, "ema50": latest.EMA50, "adx": latest.ADX14},
		}
	}

	if ema50Slope < 0 && in.Bias != regime.Bullish && latest.Close < latest.EMA20 {
		entry := latest.Close
		swingHigh := maxOf(tail.Highs())
		sl := swingHigh + 0.25*latest.ATR14
		dist := sl - entry
		return &Proposal{
			StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
			Direction: signal.Short, Entry: dec(entry), SL: dec(sl),
			TP1: dec(entry - dist*1.0), TP2: dec(entry - dist*s.cfg.RRMax), HasTP2: true,
			BaseScore:   1.0,
			FactorFlags: []string{"ma_vwap_pullback", "trend_h4"},
			Meta:        map[string]float64{"ema20": latest.EMA20, "ema50": latest.EMA50, "adx": latest.ADX14},
		}
	}
	return nil
}

func valueAt(x []float64, fromEnd int) float64 {
	if len(x) <= fromEnd {
		return 0
	}
	return x[len(x)-1-fromEnd]
}
