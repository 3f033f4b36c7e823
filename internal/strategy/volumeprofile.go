package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// VolumeProfileConfig tunes the value-area rejection/acceptance recognizer.
type VolumeProfileConfig struct {
	LookbackBars     int
	ATRThreshold     float64
	MinClosesOutside int
	Bins             int
}

func (c VolumeProfileConfig) withDefaults() VolumeProfileConfig {
	if c.LookbackBars <= 0 {
		c.LookbackBars = 100
	}
	if c.ATRThreshold <= 0 {
		c.ATRThreshold = 0.25
	}
	if c.MinClosesOutside <= 0 {
		c.MinClosesOutside = 2
	}
	if c.Bins <= 0 {
		c.Bins = 50
	}
	return c
}

// VolumeProfile fades a VAH/VAL rejection back into the value area or rides
// an acceptance breakout beyond it (spec §4.5's Volume Profile row).
type VolumeProfile struct {
	cfg VolumeProfileConfig
}

// NewVolumeProfile builds a VolumeProfile recognizer.
func NewVolumeProfile(cfg VolumeProfileConfig) *VolumeProfile {
	return &VolumeProfile{cfg: cfg.withDefaults()}
}

func (s *VolumeProfile) Name() string             { return "Volume Profile" }
func (s *VolumeProfile) Category() Category        { return CategoryMeanReversion }
func (s *VolumeProfile) Timeframe() market.Timeframe { return market.TF15m }

// Evaluate implements Strategy.
func (s *VolumeProfile) Evaluate(in Input) *Proposal {
	series := in.Series
	if len(series) < s.cfg.LookbackBars {
		return nil
	}
	atr := indicator.ATR(series.Highs(), series.Lows(), series.Closes(), 14)
	currentATR := last2(atr)
	if currentATR <= 0 {
		return nil
	}

	nodes := buildVolumeProfile(series.Tail(s.cfg.LookbackBars), s.cfg.Bins)
	last, _ := series.Last()

	nearVAH := absF(last.Close-nodes.VAH) <= 0.3*currentATR
	nearVAL := absF(last.Close-nodes.VAL) <= 0.3*currentATR
	if !nearVAH && !nearVAL {
		return nil
	}

	closes := series.Closes()
	recent := closes[maxi(0, len(closes)-3):]
	ex := in.Exogenous

	if last.Close > nodes.VAH {
		closesAbove := countAbove(recent, nodes.VAH)
		if (closesAbove >= s.cfg.MinClosesOutside || last.Close-nodes.VAH >= s.cfg.ATRThreshold*currentATR) &&
			(ex.CVD15m > 0 || ex.OIDeltaPct > 1.0) {
			return s.acceptanceSignal(signal.Long, last.Close, nodes.VAH, currentATR)
		}
	}
	if last.Close < nodes.VAL {
		closesBelow := countBelow(recent, nodes.VAL)
		if (closesBelow >= s.cfg.MinClosesOutside || nodes.VAL-last.Close >= s.cfg.ATRThreshold*currentATR) &&
			(ex.CVD15m < 0 || ex.OIDeltaPct < -1.0) {
			return s.acceptanceSignal(signal.Short, last.Close, nodes.VAL, currentATR)
		}
	}

	if nearVAH && ex.CVD15m < 0 && ex.DepthImbalance > 1.1 {
		return s.rejectionSignal(signal.Short, last.Close, last.High, nodes.VAH, nodes.POC, currentATR)
	}
	if nearVAL && ex.CVD15m > 0 && ex.DepthImbalance < 0.9 {
		return s.rejectionSignal(signal.Long, last.Close, last.Low, nodes.VAL, nodes.POC, currentATR)
	}
	return nil
}

func (s *VolumeProfile) rejectionSignal(dir signal.Direction, entry, extreme, level, poc, atr float64) *Proposal {
	var sl, tp2 float64
	if dir == signal.Long {
		sl = extreme - 0.25*atr
		tp2 = level + 0.5*atr
	} else {
		sl = extreme + 0.25*atr
		tp2 = level - 0.5*atr
	}
	return &Proposal{
		StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
		Direction: dir, Entry: dec(entry), SL: dec(sl), TP1: dec(poc), TP2: dec(tp2), HasTP2: true,
		BaseScore:   2.5,
		FactorFlags: []string{"value_area_rejection"},
		Meta:        map[string]float64{"level": level, "poc": poc},
	}
}

func (s *VolumeProfile) acceptanceSignal(dir signal.Direction, entry, level, atr float64) *Proposal {
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
		FactorFlags: []string{"value_area_acceptance"},
		Meta:        map[string]float64{"level": level},
	}
}
