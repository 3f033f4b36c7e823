package indicator

import (
	"sync"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
)

// Bundle is the set of indicators strategies and the scorer read for one
// (symbol, timeframe) series, computed once per newest closed bar.
type Bundle struct {
	Closes []float64
	Highs  []float64
	Lows   []float64

	EMA20  []float64
	EMA50  []float64
	EMA200 []float64
	ATR14  []float64
	RSI14  []float64
	ADX14  []float64
	PlusDI []float64
	MinusDI []float64

	BB          BollingerBands
	BBWidthPct  []float64 // percentile rank of BB.BandWidth() over a 100-bar lookback
	ATRPct      []float64 // percentile rank of ATR14 over a 100-bar lookback
	Keltner20   Keltner   // EMA20 +/- 1.5*ATR20 channel, the squeeze regime's containment test
	Donchian20  Donchian
	VolumeStats VolumeStats
}

// Latest snapshots the last element of every series in the bundle. Callers
// evaluating "as of the newest closed bar" use this instead of indexing the
// slices themselves.
type Latest struct {
	Close, High, Low float64
	EMA20, EMA50, EMA200 float64
	ATR14, RSI14 float64
	ADX14, PlusDI, MinusDI float64
	BBUpper, BBMid, BBLower, BBWidthPct float64
	ATRPct float64
	KeltnerUpper, KeltnerLower float64
	DonchianUpper, DonchianLower float64
	VolumeMean, VolumeStdDev float64
}

// Latest returns the last-bar values of a Bundle.
func (b Bundle) Latest() Latest {
	return Latest{
		Close: Last(b.Closes), High: Last(b.Highs), Low: Last(b.Lows),
		EMA20: Last(b.EMA20), EMA50: Last(b.EMA50), EMA200: Last(b.EMA200),
		ATR14: Last(b.ATR14), RSI14: Last(b.RSI14),
		ADX14: Last(b.ADX14), PlusDI: Last(b.PlusDI), MinusDI: Last(b.MinusDI),
		BBUpper: Last(b.BB.Upper), BBMid: Last(b.BB.Mid), BBLower: Last(b.BB.Lower),
		BBWidthPct: Last(b.BBWidthPct), ATRPct: Last(b.ATRPct),
		KeltnerUpper: Last(b.Keltner20.Upper), KeltnerLower: Last(b.Keltner20.Lower),
		DonchianUpper: Last(b.Donchian20.Upper), DonchianLower: Last(b.Donchian20.Lower),
		VolumeMean: Last(b.VolumeStats.Mean), VolumeStdDev: Last(b.VolumeStats.StdDev),
	}
}

// Compute builds a fresh Bundle from a closed candle series.
func Compute(series market.Series) Bundle {
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()

	bb := Bollinger(closes, 20, 2.0)
	atr14 := ATR(highs, lows, closes, 14)
	adx14, plusDI, minusDI := ADX(highs, lows, closes, 14)

	return Bundle{
		Closes: closes,
		Highs:  highs,
		Lows:   lows,

		EMA20:  EMA(closes, 20),
		EMA50:  EMA(closes, 50),
		EMA200: EMA(closes, 200),
		ATR14:  atr14,
		RSI14:  RSI(closes, 14),
		ADX14:  adx14,
		PlusDI: plusDI,
		MinusDI: minusDI,

		BB:          bb,
		BBWidthPct:  PercentileRank(bb.BandWidth(), 100),
		ATRPct:      PercentileRank(atr14, 100),
		Keltner20:   KeltnerChannel(closes, highs, lows, 20, 1.5),
		Donchian20:  DonchianChannel(highs, lows, 20),
		VolumeStats: RollingVolumeStats(volumes, 20),
	}
}

type cacheKey struct {
	symbol    string
	timeframe market.Timeframe
	newestBar time.Time
}

// Cache memoizes Bundle computation keyed by (symbol, timeframe, time of the
// newest closed bar) — spec ties recomputation to bar-close events, not wall
// clock, so a cache hit means "no new bar has closed since we last computed
// this bundle."
type Cache struct {
	mu    sync.Mutex
	items map[cacheKey]Bundle
}

// NewCache builds an empty indicator cache.
func NewCache() *Cache {
	return &Cache{items: make(map[cacheKey]Bundle)}
}

// Get returns the memoized Bundle for series if its newest bar matches a
// prior computation, else computes, stores and returns a fresh one.
func (c *Cache) Get(symbol string, tf market.Timeframe, series market.Series) Bundle {
	last, ok := series.Last()
	if !ok {
		return Bundle{}
	}
	key := cacheKey{symbol: symbol, timeframe: tf, newestBar: last.OpenTime}

	c.mu.Lock()
	if b, hit := c.items[key]; hit {
		c.mu.Unlock()
		return b
	}
	c.mu.Unlock()

	bundle := Compute(series)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Evict any stale entry for this (symbol, timeframe) pair now that a
	// newer bar has closed; the cache only ever needs the latest bundle.
	for k := range c.items {
		if k.symbol == symbol && k.timeframe == tf && k.newestBar != last.OpenTime {
			delete(c.items, k)
		}
	}
	c.items[key] = bundle
	return bundle
}
