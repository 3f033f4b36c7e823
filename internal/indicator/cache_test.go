package indicator

import (
	"testing"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
)

func mkSeries(n int, base time.Time) market.Series {
	s := make(market.Series, n)
	for i := 0; i < n; i++ {
		px := 100 + float64(i)
		s[i] = market.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: market.TF15m,
			OpenTime:  base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      px,
			High:      px + 1,
			Low:       px - 1,
			Close:     px,
			Volume:    10,
			CloseTime: base.Add(time.Duration(i+1) * 15 * time.Minute),
		}
	}
	return s
}

func TestCacheHitsOnSameNewestBar(t *testing.T) {
	c := NewCache()
	series := mkSeries(30, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first := c.Get("BTCUSDT", market.TF15m, series)
	second := c.Get("BTCUSDT", market.TF15m, series)

	if len(c.items) != 1 {
		t.Fatalf("expected exactly one cached bundle, got %d", len(c.items))
	}
	if Last(first.Closes) != Last(second.Closes) {
		t.Fatalf("expected identical bundle contents on cache hit")
	}
}

func TestCacheEvictsOnNewBar(t *testing.T) {
	c := NewCache()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := mkSeries(30, base)
	c.Get("BTCUSDT", market.TF15m, series)

	extended := append(series, market.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: market.TF15m,
		OpenTime:  base.Add(30 * 15 * time.Minute),
		Open:      130, High: 131, Low: 129, Close: 130, Volume: 10,
		CloseTime: base.Add(31 * 15 * time.Minute),
	})
	c.Get("BTCUSDT", market.TF15m, extended)

	if len(c.items) != 1 {
		t.Fatalf("expected stale entry to be evicted, have %d entries", len(c.items))
	}
}
