// Package regime classifies the 1h indicator bundle into one of five market
// regimes and a directional bias, following the prioritized tie-break order
// TREND -> SQUEEZE -> RANGE -> CHOP -> UNDECIDED (spec §4.4).
package regime

import (
	"math"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
)

// Regime is the classified market state.
type Regime string

const (
	Trend     Regime = "TREND"
	Squeeze   Regime = "SQUEEZE"
	Range     Regime = "RANGE"
	Chop      Regime = "CHOP"
	Undecided Regime = "UNDECIDED"
)

// Bias is the directional lean implied by higher-timeframe EMA structure.
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
	Neutral Bias = "neutral"
)

const (
	defaultADXThreshold        = 20.0
	defaultBBPercentileThresh  = 30.0
	defaultSqueezeBBPercentile = 25.0
	defaultSqueezeMinBars      = 12
	defaultLateTrendATRMult    = 1.8
	defaultSlopeThresholdPct   = 0.05
	minBarsForDetection        = 200
)

// Config tunes the classifier's thresholds (spec §6 `market_detector.*`);
// zero values fall back to the defaults above.
type Config struct {
	ADXThreshold        float64
	BBPercentileThresh  float64
	SqueezeBBPercentile float64
	SqueezeMinBars      int
	LateTrendATRMult    float64
	SlopeThresholdPct   float64
}

func (c Config) withDefaults() Config {
	if c.ADXThreshold <= 0 {
		c.ADXThreshold = defaultADXThreshold
	}
	if c.BBPercentileThresh <= 0 {
		c.BBPercentileThresh = defaultBBPercentileThresh
	}
	if c.SqueezeBBPercentile <= 0 {
		c.SqueezeBBPercentile = defaultSqueezeBBPercentile
	}
	if c.SqueezeMinBars <= 0 {
		c.SqueezeMinBars = defaultSqueezeMinBars
	}
	if c.LateTrendATRMult <= 0 {
		c.LateTrendATRMult = defaultLateTrendATRMult
	}
	if c.SlopeThresholdPct <= 0 {
		c.SlopeThresholdPct = defaultSlopeThresholdPct
	}
	return c
}

// Result is the outcome of one classification pass.
type Result struct {
	Regime     Regime
	Confidence float64
	LateTrend  bool // price has extended far from EMA20 relative to ATR; a supplemented feature from the original detector
	Details    map[string]float64
}

// Detect classifies bundle (computed on the 1h series) into a Result. Fewer
// than 200 bars of history yields UNDECIDED with zero confidence, matching
// the original detector's data-sufficiency guard.
func Detect(bundle indicator.Bundle, cfg Config) Result {
	cfg = cfg.withDefaults()

	if len(bundle.Closes) < minBarsForDetection {
		return Result{Regime: Undecided, Details: map[string]float64{}}
	}

	latest := bundle.Latest()
	adx := latest.ADX14
	close := latest.Close

	ema200SlopePct := slopePct(bundle.EMA200)

	distanceToEMA20ATR := 0.0
	if latest.ATR14 > 0 {
		distanceToEMA20ATR = math.Abs(close-latest.EMA20) / latest.ATR14
	}
	lateTrend := distanceToEMA20ATR > cfg.LateTrendATRMult

	bbWidthPct := latest.BBWidthPct * 100 // Bundle stores a 0..1 fraction; the original scales percentile to 0..100
	squeezeBars := countSqueezeBars(bundle.BBWidthPct, cfg.SqueezeBBPercentile)
	keltnerContained := latest.BBUpper <= latest.KeltnerUpper && latest.BBLower >= latest.KeltnerLower
	isSqueeze := bbWidthPct < cfg.SqueezeBBPercentile && squeezeBars >= cfg.SqueezeMinBars && keltnerContained

	details := map[string]float64{
		"adx":                   adx,
		"atr":                   latest.ATR14,
		"bb_width_percentile":   bbWidthPct,
		"ema_20":                latest.EMA20,
		"ema_50":                latest.EMA50,
		"ema_200":               latest.EMA200,
		"distance_to_ema20_atr": distanceToEMA20ATR,
		"squeeze_bars":          float64(squeezeBars),
		"ema_200_slope_pct":     ema200SlopePct,
		"keltner_contained":     boolToFloat(keltnerContained),
	}

	switch {
	case adx >= cfg.ADXThreshold && ema200SlopePct >= cfg.SlopeThresholdPct:
		return Result{Regime: Trend, Confidence: math.Min(adx/40, 1.0), LateTrend: lateTrend, Details: details}

	case isSqueeze:
		return Result{Regime: Squeeze, Confidence: math.Min(float64(squeezeBars)/float64(cfg.SqueezeMinBars), 1.0), LateTrend: lateTrend, Details: details}

	case adx < cfg.ADXThreshold && bbWidthPct < cfg.BBPercentileThresh:
		ema20SlopePct := slopePct(bundle.EMA20)
		ema50SlopePct := slopePct(bundle.EMA50)
		confidence := 1.0 - adx/cfg.ADXThreshold
		if ema20SlopePct >= cfg.SlopeThresholdPct || ema50SlopePct >= cfg.SlopeThresholdPct {
			return Result{Regime: Chop, Confidence: confidence, LateTrend: lateTrend, Details: details}
		}
		return Result{Regime: Range, Confidence: confidence, LateTrend: lateTrend, Details: details}

	default:
		return Result{Regime: Undecided, LateTrend: lateTrend, Details: details}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// slopePct returns the absolute one-bar slope of an EMA series as a
// percentage of its current level, normalizing across assets of any price
// scale.
func slopePct(ema []float64) float64 {
	n := len(ema)
	if n < 2 || ema[n-1] == 0 || math.IsNaN(ema[n-1]) || math.IsNaN(ema[n-2]) {
		return 0
	}
	slope := math.Abs(ema[n-1] - ema[n-2])
	return slope / ema[n-1] * 100
}

// countSqueezeBars counts, walking back from the newest bar, how many
// consecutive bars have had a BB-width percentile below threshold.
func countSqueezeBars(bbWidthPct []float64, threshold float64) int {
	if len(bbWidthPct) < 20 {
		return 0
	}
	count := 0
	for i := len(bbWidthPct) - 1; i >= 0; i-- {
		v := bbWidthPct[i]
		if math.IsNaN(v) {
			break
		}
		if v*100 < threshold {
			count++
		} else {
			break
		}
	}
	return count
}

// H4Bias derives a directional bias from the 4h EMA50/EMA200 structure,
// passed to strategies as Input.Bias so they can skip counter-bias setups.
func H4Bias(bundle4h indicator.Bundle) Bias {
	if len(bundle4h.Closes) < 50 {
		return Neutral
	}
	latest := bundle4h.Latest()
	switch {
	case latest.Close > latest.EMA50 && latest.EMA50 > latest.EMA200:
		return Bullish
	case latest.Close < latest.EMA50 && latest.EMA50 < latest.EMA200:
		return Bearish
	default:
		return Neutral
	}
}
