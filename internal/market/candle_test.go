package market

import (
	"testing"
	"time"
)

func mkCandle(sym string, tf Timeframe, open time.Time) Candle {
	step := tf.Duration()
	return Candle{
		Symbol:    sym,
		Timeframe: tf,
		OpenTime:  open,
		CloseTime: open.Add(step),
		Open:      1, High: 2, Low: 0.5, Close: 1.5, Volume: 10,
	}
}

func TestSeriesDenseNoGaps(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{
		mkCandle("BTCUSDT", TF15m, base),
		mkCandle("BTCUSDT", TF15m, base.Add(15*time.Minute)),
		mkCandle("BTCUSDT", TF15m, base.Add(30*time.Minute)),
	}
	if !s.Dense(TF15m) {
		t.Fatalf("expected dense series")
	}
	if gaps := s.Gaps(TF15m); len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
}

func TestSeriesDetectsGap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{
		mkCandle("BTCUSDT", TF15m, base),
		mkCandle("BTCUSDT", TF15m, base.Add(45*time.Minute)), // missing two bars
	}
	if s.Dense(TF15m) {
		t.Fatalf("expected gap to be detected")
	}
	gaps := s.Gaps(TF15m)
	if len(gaps) != 1 {
		t.Fatalf("expected one gap, got %d", len(gaps))
	}
}

func TestCandleClosed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := mkCandle("BTCUSDT", TF15m, base)
	if c.Closed(base.Add(5 * time.Minute)) {
		t.Fatalf("candle should not be closed before close_time")
	}
	if !c.Closed(c.CloseTime) {
		t.Fatalf("candle should be closed exactly at close_time")
	}
}

func TestTimeframeDuration(t *testing.T) {
	cases := map[Timeframe]time.Duration{
		TF15m: 15 * time.Minute,
		TF1h:  time.Hour,
		TF4h:  4 * time.Hour,
		TF1d:  24 * time.Hour,
	}
	for tf, want := range cases {
		if got := tf.Duration(); got != want {
			t.Fatalf("%s: got %s want %s", tf, got, want)
		}
	}
	if Timeframe("5m").Valid() {
		t.Fatalf("5m should not be a recognized timeframe")
	}
}
