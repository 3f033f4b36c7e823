// Package zone maintains a per-symbol support/resistance zone registry
// built from fractal swing detection and impulse-confirmed consolidation
// bases (spec §3, §4.4/D3). A single writer rebuilds each symbol's zones on
// its qualifying bar close; strategies read the registry concurrently.
package zone

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
)

// Kind is the side of a zone.
type Kind string

const (
	Support    Kind = "S"
	Resistance Kind = "R"
)

// Zone is a support or resistance band, clustered from swing/impulse bases.
type Zone struct {
	Timeframe market.Timeframe
	Kind      Kind
	Low       float64
	High      float64
	Strength  float64
	Touches   int
	Reactions []time.Time
	Freshness time.Time // last time price interacted with the zone
	Flipped   bool       // true once a former support has broken and become resistance, or vice versa
}

// Center is the midpoint of the zone band.
func (z Zone) Center() float64 { return (z.Low + z.High) / 2 }

// Contains reports whether price falls within the zone's band.
func (z Zone) Contains(price float64) bool { return price >= z.Low && price <= z.High }

const (
	defaultFractalK       = 2
	defaultImpulseBars    = 3
	defaultImpulseATRMult = 2.0
	defaultZoneWidthMult  = 0.5
	defaultZoneWidthMinPct = 0.15
	defaultMergeDistMult  = 0.75
	defaultTopZonesCount  = 6
	defaultBrokenCloses   = 3
	defaultFreshnessBars  = 200
)

// BuilderConfig tunes the swing/cluster/decay thresholds (spec §6
// `zones.*`); zero values fall back to the defaults above.
type BuilderConfig struct {
	FractalK        int
	ImpulseBars     int
	ImpulseATRMult  float64
	ZoneWidthMult   float64
	ZoneWidthMinPct float64
	MergeDistMult   float64
	TopZonesCount   int
	BrokenCloses    int
	FreshnessBars   int
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.FractalK <= 0 {
		c.FractalK = defaultFractalK
	}
	if c.ImpulseBars <= 0 {
		c.ImpulseBars = defaultImpulseBars
	}
	if c.ImpulseATRMult <= 0 {
		c.ImpulseATRMult = defaultImpulseATRMult
	}
	if c.ZoneWidthMult <= 0 {
		c.ZoneWidthMult = defaultZoneWidthMult
	}
	if c.ZoneWidthMinPct <= 0 {
		c.ZoneWidthMinPct = defaultZoneWidthMinPct
	}
	if c.MergeDistMult <= 0 {
		c.MergeDistMult = defaultMergeDistMult
	}
	if c.TopZonesCount <= 0 {
		c.TopZonesCount = defaultTopZonesCount
	}
	if c.BrokenCloses <= 0 {
		c.BrokenCloses = defaultBrokenCloses
	}
	if c.FreshnessBars <= 0 {
		c.FreshnessBars = defaultFreshnessBars
	}
	return c
}

// Build rebuilds the zone set for one symbol/timeframe from a closed candle
// series: it finds fractal swings, confirms impulse-backed consolidation
// bases around them, clusters overlapping bases into bands, and keeps the
// strongest TopZonesCount closest to the current price.
func Build(series market.Series, tf market.Timeframe, cfg BuilderConfig) []Zone {
	cfg = cfg.withDefaults()
	if len(series) < 2*cfg.FractalK+cfg.ImpulseBars+1 {
		return nil
	}

	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()
	price := closes[len(closes)-1]
	mtr := medianTrueRange(series, 20)
	width := zoneWidth(mtr, price, cfg.ZoneWidthMult, cfg.ZoneWidthMinPct)

	swingHighs, swingLows := fractalSwings(highs, lows, cfg.FractalK)

	var raw []Zone
	for _, idx := range swingLows {
		if idx+cfg.ImpulseBars >= len(series) {
			continue
		}
		move := impulseRange(highs, lows, idx, cfg.ImpulseBars)
		if mtr > 0 && move >= cfg.ImpulseATRMult*mtr {
			raw = append(raw, Zone{
				Timeframe: tf, Kind: Support,
				Low: lows[idx] - width/2, High: lows[idx] + width/2,
				Strength:  move / mtrOrOne(mtr),
				Touches:   1,
				Freshness: series[idx].OpenTime,
			})
		}
	}
	for _, idx := range swingHighs {
		if idx+cfg.ImpulseBars >= len(series) {
			continue
		}
		move := impulseRange(highs, lows, idx, cfg.ImpulseBars)
		if mtr > 0 && move >= cfg.ImpulseATRMult*mtr {
			raw = append(raw, Zone{
				Timeframe: tf, Kind: Resistance,
				Low: highs[idx] - width/2, High: highs[idx] + width/2,
				Strength:  move / mtrOrOne(mtr),
				Touches:   1,
				Freshness: series[idx].OpenTime,
			})
		}
	}

	merged := mergeOverlapping(raw, cfg.MergeDistMult*width)
	for i := range merged {
		merged[i].Flipped = isZoneBroken(closes, merged[i], cfg.BrokenCloses)
	}
	return filterTop(merged, price, cfg.TopZonesCount)
}

func mtrOrOne(mtr float64) float64 {
	if mtr == 0 {
		return 1
	}
	return mtr
}

func medianTrueRange(series market.Series, period int) float64 {
	if len(series) < period {
		period = len(series)
	}
	if period == 0 {
		return 0
	}
	tail := series.Tail(period)
	ranges := make([]float64, len(tail))
	for i, c := range tail {
		ranges[i] = c.High - c.Low
	}
	sort.Float64s(ranges)
	mid := len(ranges) / 2
	if len(ranges)%2 == 0 {
		return (ranges[mid-1] + ranges[mid]) / 2
	}
	return ranges[mid]
}

func zoneWidth(mtr, price, widthMult, minPct float64) float64 {
	return math.Max(widthMult*mtr, (minPct/100.0)*price)
}

// fractalSwings finds indices where high[i] (low[i]) is strictly the
// extreme among its k neighbors on each side.
func fractalSwings(highs, lows []float64, k int) (swingHighs, swingLows []int) {
	for i := k; i < len(highs)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if highs[i] <= highs[j] {
				isHigh = false
			}
			if lows[i] >= lows[j] {
				isLow = false
			}
		}
		if isHigh {
			swingHighs = append(swingHighs, i)
		}
		if isLow {
			swingLows = append(swingLows, i)
		}
	}
	return
}

// impulseRange is the high-low range spanned by the bars from idx through
// idx+bars inclusive, the raw input to the impulse-strength test.
func impulseRange(highs, lows []float64, idx, bars int) float64 {
	hi, lo := highs[idx], lows[idx]
	for j := idx; j <= idx+bars && j < len(highs); j++ {
		if highs[j] > hi {
			hi = highs[j]
		}
		if lows[j] < lo {
			lo = lows[j]
		}
	}
	return hi - lo
}

// mergeOverlapping merges zones whose centers fall within mergeDistance of
// each other, expanding bounds and summing touches (grounded on the
// original's merge_overlapping_zones).
func mergeOverlapping(zones []Zone, mergeDistance float64) []Zone {
	if len(zones) == 0 {
		return nil
	}
	sorted := append([]Zone(nil), zones...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })

	merged := []Zone{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if math.Abs(next.Center()-cur.Center()) < mergeDistance {
			cur.Low = math.Min(cur.Low, next.Low)
			cur.High = math.Max(cur.High, next.High)
			if next.Strength > cur.Strength {
				cur.Strength = next.Strength
			}
			cur.Touches += next.Touches
			if next.Freshness.After(cur.Freshness) {
				cur.Freshness = next.Freshness
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// filterTop keeps the topN zones ranked by strength (desc), then by
// proximity to price (asc).
func filterTop(zones []Zone, price float64, topN int) []Zone {
	sorted := append([]Zone(nil), zones...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Strength != sorted[j].Strength {
			return sorted[i].Strength > sorted[j].Strength
		}
		return math.Abs(price-sorted[i].Center()) < math.Abs(price-sorted[j].Center())
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

// isZoneBroken reports whether the last brokenCloses closes have all landed
// on the wrong side of the zone (support broken below, resistance broken
// above), the signal that the zone has flipped sides.
func isZoneBroken(closes []float64, z Zone, brokenCloses int) bool {
	if len(closes) < brokenCloses {
		return false
	}
	tail := closes[len(closes)-brokenCloses:]
	switch z.Kind {
	case Support:
		for _, c := range tail {
			if c >= z.Low {
				return false
			}
		}
		return true
	case Resistance:
		for _, c := range tail {
			if c <= z.High {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Registry owns the per-symbol zone set: single writer (the builder task per
// symbol), many concurrent readers (strategies).
type Registry struct {
	mu    sync.RWMutex
	zones map[string][]Zone // keyed by symbol
}

// NewRegistry builds an empty zone registry.
func NewRegistry() *Registry {
	return &Registry{zones: make(map[string][]Zone)}
}

// Set replaces the zone set for a symbol (called by that symbol's single
// writer only).
func (r *Registry) Set(symbol string, zones []Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[symbol] = zones
}

// Get returns a read-only snapshot of a symbol's current zone set.
func (r *Registry) Get(symbol string) []Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Zone, len(r.zones[symbol]))
	copy(out, r.zones[symbol])
	return out
}

// AgeOut drops zones whose freshness predates the horizon, called after
// each rebuild so stale, untouched zones don't linger forever.
func AgeOut(zones []Zone, now time.Time, horizon time.Duration) []Zone {
	out := zones[:0:0]
	for _, z := range zones {
		if now.Sub(z.Freshness) <= horizon {
			out = append(out, z)
		}
	}
	return out
}
