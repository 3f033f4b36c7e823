package strategy

import "github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"

// RegimeWeights holds the per-(regime, strategy) score multiplier the
// scorer applies in step 2 of its pipeline (spec §4.6): strategies whose
// character fits the current regime are boosted, mismatched ones are
// discounted or blocked outright below MinThreshold.
type RegimeWeights struct {
	weights      map[regime.Regime]map[string]float64
	MinThreshold float64
}

// DefaultRegimeWeights reproduces the default table: Break & Retest and
// MA/VWAP Pullback favor TREND, Volume Profile and Liquidity Sweep favor
// RANGE, Order Flow favors SQUEEZE. Strategies not listed for a regime
// default to a neutral 1.0 multiplier.
func DefaultRegimeWeights() RegimeWeights {
	return RegimeWeights{
		MinThreshold: 0.5,
		weights: map[regime.Regime]map[string]float64{
			regime.Trend: {
				"Break & Retest":   1.5,
				"MA/VWAP Pullback": 1.3,
				"Volume Profile":   0.8,
				"Liquidity Sweep":  0.9,
				"Order Flow":       1.0,
			},
			regime.Range: {
				"Break & Retest":   0.8,
				"MA/VWAP Pullback": 0.9,
				"Volume Profile":   1.5,
				"Liquidity Sweep":  1.3,
				"Order Flow":       1.0,
			},
			regime.Squeeze: {
				"Break & Retest":   1.2,
				"MA/VWAP Pullback": 0.9,
				"Volume Profile":   1.0,
				"Liquidity Sweep":  1.0,
				"Order Flow":       1.5,
			},
		},
	}
}

// Weight returns the multiplier for strategyName in regime r, defaulting to
// 1.0 (neutral) when unlisted.
func (w RegimeWeights) Weight(strategyName string, r regime.Regime) float64 {
	if perStrategy, ok := w.weights[r]; ok {
		if v, ok := perStrategy[strategyName]; ok {
			return v
		}
	}
	return 1.0
}

// Suitable reports whether strategyName's weight in regime r clears
// MinThreshold; below it the scorer rejects the proposal outright.
func (w RegimeWeights) Suitable(strategyName string, r regime.Regime) bool {
	return w.Weight(strategyName, r) >= w.MinThreshold
}
