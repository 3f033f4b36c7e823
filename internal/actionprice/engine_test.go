package actionprice

import (
	"testing"
	"time"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

func mkBar(open, high, low, close, volume float64, t time.Time) market.Candle {
	return market.Candle{
		Symbol: "BTCUSDT", Timeframe: market.TF15m,
		OpenTime: t, CloseTime: t.Add(15 * time.Minute),
		Open: open, High: high, Low: low, Close: close, Volume: volume,
	}
}

// buildCrossSeries builds a long, flat run of candles near price=100 (so
// EMA200 settles near 100) followed by an initiator bar that punches through
// EMA200 and a confirming bar that holds the break, both on above-average
// volume.
func buildCrossSeries() market.Series {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var s market.Series
	for i := 0; i < 260; i++ {
		t := base.Add(time.Duration(i) * 15 * time.Minute)
		s = append(s, mkBar(100, 100.2, 99.8, 100, 10, t))
	}
	t1 := base.Add(time.Duration(260) * 15 * time.Minute)
	s = append(s, mkBar(99.5, 102.5, 99.4, 102.0, 40, t1))
	t2 := t1.Add(15 * time.Minute)
	s = append(s, mkBar(102.0, 103.0, 101.8, 102.8, 35, t2))
	return s
}

func TestEvaluateDetectsLongBodyCross(t *testing.T) {
	e := New(Config{})
	got := e.Evaluate("BTCUSDT", buildCrossSeries())
	if got == nil {
		t.Fatal("expected a long Action Price signal, got nil")
	}
	if got.Direction != signal.Long {
		t.Fatalf("expected LONG, got %v", got.Direction)
	}
	if got.Mode == signal.ModeSkip {
		t.Fatalf("expected a STANDARD or SCALP mode, got SKIP")
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("expected ordered levels, got error: %v", err)
	}
}

func TestEvaluateInsufficientHistoryReturnsNil(t *testing.T) {
	e := New(Config{})
	got := e.Evaluate("BTCUSDT", buildCrossSeries()[:100])
	if got != nil {
		t.Fatalf("expected nil on short history, got %+v", got)
	}
}

func TestEvaluateRejectsWhenStopExceedsMaxSLPercent(t *testing.T) {
	e := New(Config{MaxSLPercent: 0.01})
	got := e.Evaluate("BTCUSDT", buildCrossSeries())
	if got != nil {
		t.Fatalf("expected nil when the stop distance exceeds the cap, got %+v", got)
	}
}

func TestEvaluateRejectsBelowMinTotalScore(t *testing.T) {
	e := New(Config{MinTotalScore: 100})
	got := e.Evaluate("BTCUSDT", buildCrossSeries())
	if got != nil {
		t.Fatalf("expected nil when the score can't clear an unreachable floor, got %+v", got)
	}
}

func TestNoPatternOnFlatSeriesReturnsNil(t *testing.T) {
	e := New(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var s market.Series
	for i := 0; i < 260; i++ {
		t := base.Add(time.Duration(i) * 15 * time.Minute)
		s = append(s, mkBar(100, 100.2, 99.8, 100, 10, t))
	}
	got := e.Evaluate("BTCUSDT", s)
	if got != nil {
		t.Fatalf("expected nil on a flat series with no cross, got %+v", got)
	}
}
