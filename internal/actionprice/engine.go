package actionprice

import (
	"github.com/shopspring/decimal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

const minBars = 250

// Engine runs the EMA200 body-cross recognizer over one symbol's 15m series.
type Engine struct {
	cfg Config
}

// New builds an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// emaSet is the handful of EMAs the scoring components read, computed once
// per Evaluate call rather than threaded through every helper individually.
type emaSet struct {
	ema5, ema13, ema20, ema200 []float64
	atr                        []float64
}

// Evaluate looks for a body-cross-then-confirm pattern on the newest two
// closed bars of series and, if found, scores it and places SL/TP. Returns
// nil if no pattern triggers, the pattern's score falls under
// Config.MinTotalScore, or the resulting stop distance exceeds MaxSLPercent.
func (e *Engine) Evaluate(symbol string, series market.Series) *signal.ActionPriceSignal {
	if len(series) < minBars {
		return nil
	}
	closes := series.Closes()
	e2 := emaSet{
		ema5:   indicator.EMA(closes, 5),
		ema13:  indicator.EMA(closes, 13),
		ema20:  indicator.EMA(closes, 20),
		ema200: indicator.EMA(closes, 200),
		atr:    indicator.ATR(series.Highs(), series.Lows(), closes, e.cfg.ATRLength),
	}

	n := len(series)
	initiatorIdx := n - 2
	confirmIdx := n - 1

	dir := e.detectCross(series, e2, initiatorIdx, confirmIdx)
	if dir == "" {
		return nil
	}

	components := e.score(series, e2, dir, initiatorIdx, confirmIdx)
	total := components.Total()
	if total < e.cfg.MinTotalScore {
		return nil
	}
	mode := signal.ModeScalp
	if total >= e.cfg.StandardThreshold {
		mode = signal.ModeStandard
	}

	entry, sl := e.levels(series, e2, dir, initiatorIdx, confirmIdx)
	risk := entry - sl
	if dir == signal.Short {
		risk = sl - entry
	}
	if risk <= 0 {
		return nil
	}
	if (risk/entry)*100 > e.cfg.MaxSLPercent {
		return nil
	}

	tp1 := entry + risk*e.cfg.TP1RR
	tp2 := entry + risk*mode.TP2Multiple()
	if dir == signal.Short {
		tp1 = entry - risk*e.cfg.TP1RR
		tp2 = entry - risk*mode.TP2Multiple()
	}

	confirm := series[confirmIdx]
	return &signal.ActionPriceSignal{
		Signal: signal.Signal{
			Symbol:       symbol,
			StrategyName: "Action Price",
			Direction:    dir,
			Entry:        decimal.NewFromFloat(entry),
			SL:           decimal.NewFromFloat(sl),
			TP1:          decimal.NewFromFloat(tp1),
			TP2:          decimal.NewFromFloat(tp2),
			HasTP2:       true,
			Status:       signal.Pending,
			ConfidenceScore: total,
		},
		Mode:          mode,
		Components:    components,
		InitiatorTS:   series[initiatorIdx].OpenTime,
		ConfirmOpen:   decimal.NewFromFloat(confirm.Open),
		ConfirmHigh:   decimal.NewFromFloat(confirm.High),
		ConfirmLow:    decimal.NewFromFloat(confirm.Low),
		ConfirmClose:  decimal.NewFromFloat(confirm.Close),
		EMA200AtEntry: decimal.NewFromFloat(e2.ema200[confirmIdx]),
	}
}

// detectCross mirrors the original's body-cross pattern: the initiator bar's
// body straddles EMA200 with the close on the new side, and the confirm bar
// closes on that same side without its wick touching back through the line.
func (e *Engine) detectCross(series market.Series, e2 emaSet, initiatorIdx, confirmIdx int) signal.Direction {
	init := series[initiatorIdx]
	confirm := series[confirmIdx]
	emaInit := e2.ema200[initiatorIdx]
	emaConf := e2.ema200[confirmIdx]

	initiatorLong := init.Close > emaInit && init.Open < emaInit
	confirmLong := confirm.Close > emaConf && confirm.Low > emaConf
	if initiatorLong && confirmLong {
		return signal.Long
	}

	initiatorShort := init.Close < emaInit && init.Open > emaInit
	confirmShort := confirm.Close < emaConf && confirm.High < emaConf
	if initiatorShort && confirmShort {
		return signal.Short
	}
	return ""
}

func (e *Engine) levels(series market.Series, e2 emaSet, dir signal.Direction, initiatorIdx, confirmIdx int) (entry, sl float64) {
	confirm := series[confirmIdx]
	init := series[initiatorIdx]
	buffer := e2.atr[initiatorIdx] * e.cfg.SLBufferATR

	entry = confirm.Close
	if dir == signal.Long {
		sl = init.Low - buffer
	} else {
		sl = init.High + buffer
	}
	return entry, sl
}

// score computes the eleven components (spec §4.5, c1..c11).
func (e *Engine) score(series market.Series, e2 emaSet, dir signal.Direction, initiatorIdx, confirmIdx int) signal.ScoreComponents {
	init := series[initiatorIdx]
	confirm := series[confirmIdx]
	atrInit := e2.atr[initiatorIdx]
	atrConf := e2.atr[confirmIdx]
	ema200Conf := e2.ema200[confirmIdx]
	ema5, ema13, ema20 := e2.ema5[confirmIdx], e2.ema13[confirmIdx], e2.ema20[confirmIdx]

	sign := 1.0
	if dir == signal.Short {
		sign = -1.0
	}

	var c signal.ScoreComponents

	// c1: initiator body size relative to ATR.
	bodyATR := absF(init.Close-init.Open) / atrInit
	switch {
	case bodyATR >= 1.10:
		c.InitiatorSize = 2
	case bodyATR >= 0.80:
		c.InitiatorSize = 1
	}

	// c2/c3 share the confirm bar's directional distance from EMA200.
	depthATR := sign * (confirm.Close - ema200Conf) / atrConf
	switch {
	case depthATR <= 0.15:
		c.EMA200Proximity = 0
	case depthATR > 0.6:
		c.EMA200Proximity = -1
	default:
		c.EMA200Proximity = 1
	}
	bodyLow, bodyHigh := minF(confirm.Open, confirm.Close), maxF(confirm.Open, confirm.Close)
	pullbackBandLow, pullbackBandHigh := minF(ema200Conf, ema13), maxF(ema200Conf, ema13)
	if bodyHigh >= pullbackBandLow && bodyLow <= pullbackBandHigh {
		c.PullbackDepth = 1
	}

	// c4: EMA200 slope over SlopeLookback bars, ATR-normalized and signed
	// for direction.
	if confirmIdx-e.cfg.SlopeLookback >= 0 {
		ema200Prev := e2.ema200[confirmIdx-e.cfg.SlopeLookback]
		slope := sign * (ema200Conf - ema200Prev) / atrConf
		switch {
		case slope >= 0.20:
			c.EMA200Slope = 1
		case slope <= -0.20:
			c.EMA200Slope = -1
		}
	}

	// c5: EMA5/13/20/200 fan compactness and ordering.
	bullFan := ema5 > ema13 && ema13 > ema20 && ema20 > ema200Conf
	bearFan := ema5 < ema13 && ema13 < ema20 && ema20 < ema200Conf
	spread := absF(ema5-ema200Conf) / atrConf
	if dir == signal.Long {
		if bullFan && spread >= 0.10 {
			c.FanCompactness = 1
		} else if bearFan {
			c.FanCompactness = -1
		}
	} else {
		if bearFan && spread >= 0.10 {
			c.FanCompactness = 1
		} else if bullFan {
			c.FanCompactness = -1
		}
	}

	// c6: retest tag - a touch-and-hold of EMA13/EMA20 in the lookback
	// window before confirmation.
	for i := confirmIdx - e.cfg.RetestLookback; i < confirmIdx; i++ {
		if i < 0 {
			continue
		}
		bar := series[i]
		e13, e20 := e2.ema13[i], e2.ema20[i]
		if dir == signal.Long {
			if (bar.Low <= e13 && bar.Close > e13) || (bar.Low <= e20 && bar.Close > e20) {
				c.RetestTag = 1
				break
			}
		} else {
			if (bar.High >= e13 && bar.Close < e13) || (bar.High >= e20 && bar.Close < e20) {
				c.RetestTag = 1
				break
			}
		}
	}

	// c7: break-and-base - narrow bars holding above/below the EMA13/20
	// band just before confirmation.
	baseBars := 0
	for i := confirmIdx - e.cfg.BreakBaseLookback; i < confirmIdx; i++ {
		if i < 0 {
			continue
		}
		bar := series[i]
		barRange := bar.High - bar.Low
		barATR := e2.atr[i]
		if barATR <= 0 {
			continue
		}
		if dir == signal.Long {
			if bar.Close > e2.ema13[i] && bar.Low > e2.ema20[i] && barRange < 0.5*barATR {
				baseBars++
			}
		} else {
			if bar.Close < e2.ema13[i] && bar.High < e2.ema20[i] && barRange < 0.5*barATR {
				baseBars++
			}
		}
	}
	if baseBars >= 2 {
		c.BreakAndBase = 1
	}

	// c8: initiator rejection wick opposite the cross direction.
	var wick float64
	if dir == signal.Long {
		wick = minF(init.Open, init.Close) - init.Low
	} else {
		wick = init.High - maxF(init.Open, init.Close)
	}
	if wick/atrInit >= 0.25 {
		c.RejectionWick = 1
	}

	// c9: confirm-bar volume against its 20-bar mean.
	volumes := series.Volumes()
	meanStart := maxi(0, confirmIdx-20)
	meanVol := mean(volumes[meanStart:confirmIdx])
	if meanVol > 0 {
		ratio := volumes[confirmIdx] / meanVol
		switch {
		case ratio >= e.cfg.VolumeStrongMultiplier:
			c.VolumeConfirm = 2
		case ratio >= e.cfg.VolumeWeakMultiplier:
			c.VolumeConfirm = 1
		case ratio < e.cfg.VolumeMinMultiplier:
			c.VolumeConfirm = -1
		}
	}

	// c10: lipuchka - repeated EMA200 touches just before the initiator.
	touches := 0
	for i := initiatorIdx - e.cfg.TouchLookback; i < initiatorIdx; i++ {
		if i < 0 {
			continue
		}
		bar := series[i]
		ema := e2.ema200[i]
		if bar.Low <= ema && ema <= bar.High {
			touches++
		}
	}
	if touches >= e.cfg.LipuchkaTouches {
		c.LipuchkaPenalty = -2
	}

	// c11: overextension - confirm close already too far from EMA200.
	if absF(confirm.Close-ema200Conf)/atrConf > e.cfg.OverextensionATRMult {
		c.Overextension = -2
	}

	return c
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
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
