// Package strategy holds the six core signal recognizers plus the shared
// Evaluate contract they implement (spec §4.5). Each strategy is a pure
// function of its Input: no persistence, no locks, no time reads beyond the
// candle series it is given.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

// Category groups strategies for regime-affinity scoring (spec §4.6 step 5).
type Category string

const (
	CategoryBreakout      Category = "breakout"
	CategoryPullback      Category = "pullback"
	CategoryMeanReversion Category = "mean_reversion"
)

// Exogenous carries the facts a strategy needs beyond its own timeframe's
// candles: cross-symbol/venue context the loader and D2/D3 layers assemble
// once per cycle and hand to every strategy unchanged.
type Exogenous struct {
	DepthImbalance float64 // >1 = ask-heavy, <1 = bid-heavy; 1.0 if unavailable
	CVD15m         float64
	CVD1h          float64
	OIDeltaPct     float64
	BTCTrend1h     regime.Bias
}

// Input is everything one strategy needs to evaluate one symbol on one cycle.
type Input struct {
	Symbol    string
	Series    market.Series // closed candles on the strategy's own timeframe, oldest first
	Bundle    indicator.Bundle
	Regime    regime.Regime
	Bias      regime.Bias // H4 bias
	LateTrend bool
	MarkPrice float64
	Zones     []zone.Zone
	Exogenous Exogenous
}

// Proposal is a candidate signal a strategy wants scored, before the S3
// pipeline applies regime weighting, filters and conflict resolution.
type Proposal struct {
	StrategyName string
	Category     Category
	Timeframe    market.Timeframe
	Direction    signal.Direction

	Entry  decimal.Decimal
	SL     decimal.Decimal
	TP1    decimal.Decimal
	TP2    decimal.Decimal
	HasTP2 bool

	BaseScore   float64
	FactorFlags []string // human-readable confirmations this proposal already carries
	Meta        map[string]float64
}

// Strategy is the uniform contract every recognizer implements.
type Strategy interface {
	Name() string
	Category() Category
	Timeframe() market.Timeframe
	Evaluate(in Input) *Proposal
}

// Set is the ordered collection of core strategies evaluated each cycle.
type Set []Strategy

// DefaultSet builds the six core recognizers with their spec-default
// thresholds (spec §4.5's contract table).
func DefaultSet() Set {
	return Set{
		NewLiquiditySweep(LiquiditySweepConfig{}),
		NewBreakRetest(BreakRetestConfig{}),
		NewOrderFlow(OrderFlowConfig{}),
		NewMAVWAPPullback(MAVWAPPullbackConfig{}),
		NewVolumeProfile(VolumeProfileConfig{}),
		NewATRMomentum(ATRMomentumConfig{}),
	}
}

// EvaluateAll runs every strategy in the set against in, collecting every
// non-nil proposal. A panic in one strategy is not recovered here — the
// caller (the CPU-bound worker pool in internal/engine) isolates that.
func EvaluateAll(set Set, in Input) []Proposal {
	var out []Proposal
	for _, s := range set {
		started := time.Now()
		p := s.Evaluate(in)
		metrics.StrategyEvalDuration.WithLabelValues(s.Name()).Observe(time.Since(started).Seconds())
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func last(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return x[len(x)-1]
}

func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := n / 2
	if n%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
