package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/exchange"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
)

func newTestLoader(t *testing.T, handler http.HandlerFunc) (*Loader, *store.MemoryCandleStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	limiter := ratelimit.New(2400, zerolog.Nop())
	client := exchange.New(limiter, zerolog.Nop(), exchange.WithBaseURL(server.URL), exchange.WithHTTPClient(server.Client()))
	candles := store.NewMemoryCandleStore()
	l := New(client, candles, zerolog.Nop())
	return l, candles, server
}

func klineRow(openMs, closeMs int64, closePx float64) string {
	return fmt.Sprintf(`[%d, "%f", "%f", "%f", "%f", "10.0", %d, "100.0", 5, "5.0", "50.0", "0"]`,
		openMs, closePx, closePx+1, closePx-1, closePx, closeMs)
}

func TestRefreshOneUpsertsClosedCandlesOnly(t *testing.T) {
	now := time.Now()
	closedOpen := now.Add(-30 * time.Minute).Truncate(time.Minute)
	closedClose := closedOpen.Add(15 * time.Minute)
	formingOpen := now.Add(5 * time.Minute) // not yet closed
	formingClose := formingOpen.Add(15 * time.Minute)

	body := fmt.Sprintf(`[%s, %s]`,
		klineRow(closedOpen.UnixMilli(), closedClose.UnixMilli(), 100),
		klineRow(formingOpen.UnixMilli(), formingClose.UnixMilli(), 101),
	)

	l, candles, server := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
	defer server.Close()

	if err := l.refreshOne(context.Background(), "BTCUSDT", market.TF15m, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	series, err := candles.Recent(context.Background(), "BTCUSDT", market.TF15m, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected only the closed candle to be stored, got %d", len(series))
	}
	if !series[0].OpenTime.Equal(closedOpen) {
		t.Fatalf("expected the closed candle's open time to be stored")
	}
}

func TestRefreshRecentIsolatesPerSymbolFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		symbol := r.URL.Query().Get("symbol")
		if symbol == "BADUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1121, "msg": "invalid symbol"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	limiter := ratelimit.New(2400, zerolog.Nop())
	client := exchange.New(limiter, zerolog.Nop(), exchange.WithBaseURL(server.URL), exchange.WithHTTPClient(server.Client()))
	candles := store.NewMemoryCandleStore()
	l := New(client, candles, zerolog.Nop(), WithConcurrency(4))

	err := l.RefreshRecent(context.Background(), []string{"BTCUSDT", "BADUSDT"}, 1)
	if err != nil {
		t.Fatalf("expected RefreshRecent to isolate per-symbol failures, got %v", err)
	}

	unhealthy := l.UnhealthySymbols()
	if _, ok := unhealthy["BADUSDT"]; !ok {
		t.Fatalf("expected BADUSDT to be marked unhealthy, got %+v", unhealthy)
	}
	if _, ok := unhealthy["BTCUSDT"]; ok {
		t.Fatalf("did not expect BTCUSDT to be marked unhealthy")
	}
}

func TestBarsBetweenEstimatesBarCount(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(4 * time.Hour)
	if got := barsBetween(from, to, market.TF15m); got != 16 {
		t.Fatalf("expected 16 bars, got %d", got)
	}
}

func TestCheckGapsReportsDenseSeries(t *testing.T) {
	l, candles, server := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	defer server.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = candles.Upsert(context.Background(), []market.Candle{{
			Symbol: "BTCUSDT", Timeframe: market.TF15m,
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute),
		}})
	}

	report, err := l.CheckGaps(context.Background(), "BTCUSDT", market.TF15m, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Dense {
		t.Fatalf("expected dense series, got gaps: %+v", report.Gaps)
	}
}
