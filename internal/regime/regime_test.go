package regime

import (
	"math"
	"testing"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
)

func nan() float64 { return math.NaN() }

// mkBundle builds a synthetic bundle for one regime test. keltnerContained
// controls whether the fabricated Bollinger Bands sit inside the fabricated
// Keltner Channel, the containment half of the SQUEEZE test.
func mkBundle(n int, buildEMA func(i int) (ema20, ema50, ema200 float64), adx, bbWidthPct float64, keltnerContained bool) indicator.Bundle {
	closes := make([]float64, n)
	ema20 := make([]float64, n)
	ema50 := make([]float64, n)
	ema200 := make([]float64, n)
	atr := make([]float64, n)
	adxSeries := make([]float64, n)
	bbwSeries := make([]float64, n)
	bbUpper := make([]float64, n)
	bbMid := make([]float64, n)
	bbLower := make([]float64, n)
	keltUpper := make([]float64, n)
	keltLower := make([]float64, n)
	for i := 0; i < n; i++ {
		e20, e50, e200 := buildEMA(i)
		ema20[i], ema50[i], ema200[i] = e20, e50, e200
		closes[i] = e20
		atr[i] = 10
		adxSeries[i] = adx
		bbwSeries[i] = bbWidthPct / 100
		bbMid[i], bbUpper[i], bbLower[i] = 100, 110, 90
		if keltnerContained {
			keltUpper[i], keltLower[i] = 120, 80 // wider than the BB, so BB sits inside
		} else {
			keltUpper[i], keltLower[i] = 105, 95 // narrower than the BB, so BB pokes out
		}
	}
	return indicator.Bundle{
		Closes: closes, EMA20: ema20, EMA50: ema50, EMA200: ema200,
		ATR14: atr, ADX14: adxSeries, BBWidthPct: bbwSeries,
		BB:        indicator.BollingerBands{Upper: bbUpper, Mid: bbMid, Lower: bbLower},
		Keltner20: indicator.Keltner{Upper: keltUpper, Lower: keltLower},
	}
}

func TestDetectInsufficientHistoryIsUndecided(t *testing.T) {
	b := mkBundle(50, func(i int) (float64, float64, float64) { return 100, 100, 100 }, 25, 50, true)
	res := Detect(b, Config{})
	if res.Regime != Undecided {
		t.Fatalf("expected UNDECIDED with <200 bars, got %v", res.Regime)
	}
}

func TestDetectTrendWhenADXHighAndEMA200Sloping(t *testing.T) {
	b := mkBundle(210, func(i int) (float64, float64, float64) {
		return 300 + float64(i)*0.1, 200, 100 + float64(i)*0.1 // EMA200 climbing well past the 0.05% slope threshold
	}, 30, 50, true)
	res := Detect(b, Config{})
	if res.Regime != Trend {
		t.Fatalf("expected TREND, got %v (details=%+v)", res.Regime, res.Details)
	}
}

func TestDetectNotTrendWhenEMA200Flat(t *testing.T) {
	// High ADX alone no longer classifies TREND (spec §4.4): EMA200 must
	// also be sloping. A flat EMA200 with narrow, non-squeeze bands and low
	// ADX would otherwise fall through to RANGE/CHOP, so keep ADX high and
	// bands wide enough to land on UNDECIDED and isolate the slope gate.
	b := mkBundle(210, func(i int) (float64, float64, float64) {
		return 300 + float64(i)*0.1, 200, 100 // EMA200 flat
	}, 30, 50, true)
	res := Detect(b, Config{})
	if res.Regime == Trend {
		t.Fatalf("expected non-TREND with a flat EMA200, got %v (details=%+v)", res.Regime, res.Details)
	}
}

func TestDetectSqueezeWhenNarrowBandsPersist(t *testing.T) {
	b := mkBundle(210, func(i int) (float64, float64, float64) { return 100, 100, 100 }, 10, 10, true)
	res := Detect(b, Config{})
	if res.Regime != Squeeze {
		t.Fatalf("expected SQUEEZE, got %v (details=%+v)", res.Regime, res.Details)
	}
}

// TestDetectNoSqueezeWithoutKeltnerContainment covers spec §4.4's
// conjunctive SQUEEZE test: a narrow, persistent BB width alone isn't
// enough — the bands must also sit inside the Keltner Channel.
func TestDetectNoSqueezeWithoutKeltnerContainment(t *testing.T) {
	b := mkBundle(210, func(i int) (float64, float64, float64) { return 100, 100, 100 }, 10, 10, false)
	res := Detect(b, Config{})
	if res.Regime == Squeeze {
		t.Fatalf("expected non-SQUEEZE without Keltner containment, got %v (details=%+v)", res.Regime, res.Details)
	}
}

func TestDetectRangeWhenFlatAndLowADX(t *testing.T) {
	// bbWidthPct sits between the squeeze threshold (25) and the range
	// threshold (30) so the RANGE/CHOP branch is reached without tripping
	// the SQUEEZE case first.
	b := mkBundle(210, func(i int) (float64, float64, float64) { return 100, 100, 100 }, 10, 27, true)
	res := Detect(b, Config{})
	if res.Regime != Range {
		t.Fatalf("expected RANGE, got %v (details=%+v)", res.Regime, res.Details)
	}
}

func TestDetectChopWhenLowADXButSlopingEMA(t *testing.T) {
	b := mkBundle(210, func(i int) (float64, float64, float64) {
		return 100 + float64(i)*0.5, 100 + float64(i)*0.5, 100 // steep-ish EMA20/50 slope
	}, 10, 27, true)
	res := Detect(b, Config{})
	if res.Regime != Chop {
		t.Fatalf("expected CHOP, got %v (details=%+v)", res.Regime, res.Details)
	}
}

func TestH4BiasBullish(t *testing.T) {
	b := mkBundle(60, func(i int) (float64, float64, float64) { return 300, 200, 100 }, 0, 0, true)
	if got := H4Bias(b); got != Bullish {
		t.Fatalf("expected bullish bias, got %v", got)
	}
}

func TestH4BiasNeutralOnInsufficientHistory(t *testing.T) {
	b := mkBundle(10, func(i int) (float64, float64, float64) { return 300, 200, 100 }, 0, 0, true)
	if got := H4Bias(b); got != Neutral {
		t.Fatalf("expected neutral bias on short history, got %v", got)
	}
}
