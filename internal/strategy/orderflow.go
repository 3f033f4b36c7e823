package strategy

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// OrderFlowConfig tunes the depth-imbalance-near-value-level recognizer.
type OrderFlowConfig struct {
	LookbackBars       int
	ImbalanceThreshold float64
	VolumeProfileBins  int
}

func (c OrderFlowConfig) withDefaults() OrderFlowConfig {
	if c.LookbackBars <= 0 {
		c.LookbackBars = 50
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 1.2
	}
	if c.VolumeProfileBins <= 0 {
		c.VolumeProfileBins = 50
	}
	return c
}

// OrderFlow trades a sustained depth imbalance and CVD agreement near a
// value-area level (spec §4.5's Order Flow row, SQUEEZE affinity).
type OrderFlow struct {
	cfg OrderFlowConfig
}

// NewOrderFlow builds an OrderFlow recognizer.
func NewOrderFlow(cfg OrderFlowConfig) *OrderFlow {
	return &OrderFlow{cfg: cfg.withDefaults()}
}

func (s *OrderFlow) Name() string             { return "Order Flow" }
func (s *OrderFlow) Category() Category        { return CategoryMeanReversion }
func (s *OrderFlow) Timeframe() market.Timeframe { return market.TF15m }

// Evaluate implements Strategy.
func (s *OrderFlow) Evaluate(in Input) *Proposal {
	series := in.Series
	if len(series) < s.cfg.LookbackBars {
		return nil
	}
	atr := indicator.ATR(series.Highs(), series.Lows(), series.Closes(), 14)
	currentATR := last2(atr)
	if currentATR <= 0 {
		return nil
	}

	tail := series.Tail(s.cfg.LookbackBars)
	nodes := buildVolumeProfile(tail, s.cfg.VolumeProfileBins)

	last, _ := series.Last()
	closes := series.Closes()
	prevClose := closes[len(closes)-2]

	nearVAH := absF(last.Close-nodes.VAH) <= 0.3*currentATR
	nearVAL := absF(last.Close-nodes.VAL) <= 0.3*currentATR
	nearPOC := absF(last.Close-nodes.POC) <= 0.3*currentATR
	if !nearVAH && !nearVAL && !nearPOC {
		return nil
	}

	ex := in.Exogenous
	bullish := ex.DepthImbalance < 1.0/s.cfg.ImbalanceThreshold && ex.CVD15m > 0 && last.Close > prevClose
	bearish := ex.DepthImbalance > s.cfg.ImbalanceThreshold && ex.CVD15m < 0 && last.Close < prevClose

	switch {
	case bullish:
		level := pickLevel(nearVAL, nodes.VAL, nearPOC, nodes.POC, nodes.VAH)
		return s.signal(signal.Long, last.Close, last.Low, level, currentATR)
	case bearish:
		level := pickLevel(nearVAH, nodes.VAH, nearPOC, nodes.POC, nodes.VAL)
		return s.signal(signal.Short, last.Close, last.High, level, currentATR)
	default:
		return nil
	}
}

func pickLevel(preferA bool, a float64, preferB bool, b float64, fallback float64) float64 {
	if preferA {
		return a
	}
	if preferB {
		return b
	}
	return fallback
}

func (s *OrderFlow) signal(dir signal.Direction, entry, extreme, level, atr float64) *Proposal {
	var sl, tp1, tp2 float64
	if dir == signal.Long {
		sl = extreme - 0.3*atr
		tp1 = level + 0.5*atr
		tp2 = level + 1.5*atr
	} else {
		sl = extreme + 0.3*atr
		tp1 = level - 0.5*atr
		tp2 = level - 1.5*atr
	}
	return &Proposal{
		StrategyName: s.Name(), Category: s.Category(), Timeframe: s.Timeframe(),
		Direction: dir, Entry: dec(entry), SL: dec(sl), TP1: dec(tp1), TP2: dec(tp2), HasTP2: true,
		BaseScore:   2.5,
		FactorFlags: []string{"order_flow", "depth_imbalance", "cvd_agreement"},
		Meta:        map[string]float64{"level": level},
	}
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
