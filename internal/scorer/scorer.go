package scorer

import (
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/strategy"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

// Scored is the outcome of running one proposal through the pipeline,
// carrying enough detail for the scoring decision log (spec §6).
type Scored struct {
	Symbol       string
	Proposal     strategy.Proposal
	Factors      []string
	FactorCount  int
	RegimeWeight float64
	FinalScore   float64
	Accepted     bool
	RejectReason string
}

// Scorer runs the seven-step pipeline of spec §4.6.
type Scorer struct {
	cfg     Config
	weights strategy.RegimeWeights
}

// New builds a Scorer over the given regime-weighting table.
func New(cfg Config, weights strategy.RegimeWeights) *Scorer {
	return &Scorer{cfg: cfg.withDefaults(), weights: weights}
}

// Score runs steps 1-6 of the pipeline against a single proposal. Step 7
// (conflict resolution across a cycle's survivors) is EvaluateCycle's job,
// since it needs every proposal for a symbol at once.
func (s *Scorer) Score(symbol string, in strategy.Input, p strategy.Proposal) Scored {
	factors := s.confirmationFactors(in, p)
	out := Scored{Symbol: symbol, Proposal: p, Factors: factors, FactorCount: len(factors)}

	if len(factors) < s.cfg.MinFactors {
		out.RejectReason = "multi_factor_gate"
		return out
	}

	weight := s.weights.Weight(p.StrategyName, in.Regime)
	out.RegimeWeight = weight
	if weight < 0.5 {
		out.RejectReason = "regime_weight"
		return out
	}

	score := p.BaseScore * weight
	score += s.btcFilter(in, p)
	score += s.cvdDivergenceBonus(in, p)
	score += s.adxRSIRefinements(in, p)

	out.FinalScore = score
	if score < s.cfg.EnterThreshold {
		out.RejectReason = "enter_threshold"
		return out
	}

	out.Accepted = true
	return out
}

// EvaluateCycle scores every proposal for one symbol's cycle and resolves
// conflicts: survivors are grouped by (direction, strategy) and only the
// highest-scored member of each group is kept (step 7). Different
// strategies, or the same strategy on opposing directions, may each win
// independently.
func EvaluateCycle(s *Scorer, symbol string, in strategy.Input, proposals []strategy.Proposal) []Scored {
	best := make(map[string]Scored)
	var order []string
	for _, p := range proposals {
		scored := s.Score(symbol, in, p)
		if !scored.Accepted {
			continue
		}
		key := string(p.Direction) + "|" + p.StrategyName
		if cur, ok := best[key]; !ok || scored.FinalScore > cur.FinalScore {
			if !ok {
				order = append(order, key)
			}
			best[key] = scored
		}
	}
	out := make([]Scored, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// confirmationFactors counts the six confirming factors of step 1: the
// proposal itself, HTF EMA alignment, volume, CVD/OI agreement, a
// price-action flag on the trigger bar, and S/R zone confluence.
func (s *Scorer) confirmationFactors(in strategy.Input, p strategy.Proposal) []string {
	factors := []string{"strategy_signal"}

	if s.htfAligned(in, p) {
		factors = append(factors, "htf_alignment")
	}
	if s.volumeConfirmed(in, p) {
		factors = append(factors, "volume")
	}
	if s.cvdOIAgrees(in, p) {
		factors = append(factors, "cvd_oi")
	}
	if len(p.FactorFlags) > 0 {
		factors = append(factors, "price_action")
	}
	if s.zoneConfluence(in, p) {
		factors = append(factors, "sr_zone")
	}
	return factors
}

// htfAligned only gates in TREND, mirroring the multi-factor confirmation
// system's treatment of the check as non-critical elsewhere.
func (s *Scorer) htfAligned(in strategy.Input, p strategy.Proposal) bool {
	if in.Regime != regime.Trend {
		return true
	}
	latest := in.Bundle.Latest()
	if p.Direction == signal.Long {
		return latest.Close > latest.EMA50 && latest.EMA50 > latest.EMA200
	}
	return latest.Close < latest.EMA50 && latest.EMA50 < latest.EMA200
}

func (s *Scorer) volumeConfirmed(in strategy.Input, p strategy.Proposal) bool {
	latest := in.Bundle.Latest()
	if latest.VolumeMean <= 0 {
		return false
	}
	vols := in.Series.Volumes()
	if len(vols) == 0 {
		return false
	}
	ratio := vols[len(vols)-1] / latest.VolumeMean
	return ratio >= s.volumeMultiplier(in.Regime)
}

func (s *Scorer) volumeMultiplier(r regime.Regime) float64 {
	switch r {
	case regime.Trend:
		return s.cfg.VolumeMultiplierTrend
	case regime.Range:
		return s.cfg.VolumeMultiplierRange
	case regime.Squeeze:
		return s.cfg.VolumeMultiplierSqueeze
	default:
		return s.cfg.VolumeMultiplierDefault
	}
}

func (s *Scorer) cvdOIAgrees(in strategy.Input, p strategy.Proposal) bool {
	ex := in.Exogenous
	if p.Direction == signal.Long {
		return ex.CVD15m > 0 || ex.OIDeltaPct > 0
	}
	return ex.CVD15m < 0 || ex.OIDeltaPct < 0
}

// zoneConfluence looks for a zone opposite the proposal's direction
// (support beneath a long, resistance above a short) whose band brackets or
// sits within half an ATR of entry.
func (s *Scorer) zoneConfluence(in strategy.Input, p strategy.Proposal) bool {
	if len(in.Zones) == 0 {
		return false
	}
	entry := p.Entry.InexactFloat64()
	atr := in.Bundle.Latest().ATR14
	want := zone.Support
	if p.Direction == signal.Short {
		want = zone.Resistance
	}
	for _, z := range in.Zones {
		if z.Kind != want {
			continue
		}
		if z.Contains(entry) || absF(entry-z.Center()) <= 0.5*atr {
			return true
		}
	}
	return false
}

// btcFilter subtracts BTCPenalty when the exogenous BTC 1h trend opposes
// the proposal's direction (spec §4.6 step 3).
func (s *Scorer) btcFilter(in strategy.Input, p strategy.Proposal) float64 {
	btc := in.Exogenous.BTCTrend1h
	if p.Direction == signal.Long && btc == regime.Bearish {
		return -s.cfg.BTCPenalty
	}
	if p.Direction == signal.Short && btc == regime.Bullish {
		return -s.cfg.BTCPenalty
	}
	return 0
}

// cvdDivergenceBonus rewards agreement between the 15m and 1h CVD readings
// and the proposal direction (spec §4.6 step 4).
func (s *Scorer) cvdDivergenceBonus(in strategy.Input, p strategy.Proposal) float64 {
	ex := in.Exogenous
	if p.Direction == signal.Long && ex.CVD15m > 0 && ex.CVD1h > 0 {
		return s.cfg.CVDDivergenceBonus
	}
	if p.Direction == signal.Short && ex.CVD15m < 0 && ex.CVD1h < 0 {
		return s.cfg.CVDDivergenceBonus
	}
	return 0
}

// adxRSIRefinements applies the four adjustments of step 5.
func (s *Scorer) adxRSIRefinements(in strategy.Input, p strategy.Proposal) float64 {
	var adj float64
	latest := in.Bundle.Latest()

	if in.Regime == regime.Trend && latest.ADX14 > s.cfg.ADXTrendThreshold {
		adj += 1.0
	}
	if p.Category == strategy.CategoryMeanReversion {
		if (p.Direction == signal.Long && latest.RSI14 < s.cfg.RSIOversold) ||
			(p.Direction == signal.Short && latest.RSI14 > s.cfg.RSIOverbought) {
			adj += 0.5
		}
	}
	if categoryAlignsWithRegime(p.Category, in.Regime) {
		adj += 1.0
	}
	if recentMean := meanATR(in.Bundle.ATR14); recentMean > 0 && latest.ATR14 > s.cfg.ATRSpikeMultiplier*recentMean {
		adj -= 0.5
	}
	return adj
}

func categoryAlignsWithRegime(cat strategy.Category, r regime.Regime) bool {
	switch r {
	case regime.Trend:
		return cat == strategy.CategoryBreakout || cat == strategy.CategoryPullback
	case regime.Range, regime.Squeeze:
		return cat == strategy.CategoryMeanReversion
	default:
		return false
	}
}

func meanATR(atr []float64) float64 {
	n := 20
	if len(atr) < n {
		n = len(atr)
	}
	if n == 0 {
		return 0
	}
	tail := atr[len(atr)-n:]
	sum := 0.0
	count := 0
	for _, v := range tail {
		if v != v { // NaN
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
