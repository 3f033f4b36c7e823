package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/xerrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	limiter := ratelimit.New(2400, zerolog.Nop())
	c := New(limiter, zerolog.Nop(), WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	return c, server
}

func TestKlinesWeightBands(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{limit: 50, want: 1},
		{limit: 99, want: 1},
		{limit: 100, want: 2},
		{limit: 499, want: 2},
		{limit: 500, want: 5},
		{limit: 1000, want: 5},
		{limit: 1500, want: 10},
	}
	for _, tc := range cases {
		if got := KlinesWeight(tc.limit); got != tc.want {
			t.Errorf("KlinesWeight(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestDepthWeightBands(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{limit: 100, want: 2},
		{limit: 500, want: 5},
		{limit: 1000, want: 10},
		{limit: 5000, want: 50},
	}
	for _, tc := range cases {
		if got := DepthWeight(tc.limit); got != tc.want {
			t.Errorf("DepthWeight(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestKlinesParsesRows(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "42")
		_, _ = w.Write([]byte(`[
			[1690000000000, "100.5", "101.0", "99.5", "100.8", "12.34", 1690000059999, "1234.5", 10, "6.0", "600.0", "0"]
		]`))
	})
	defer server.Close()

	klines, err := c.Klines(context.Background(), "BTCUSDT", market.TF15m, 50, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("expected 1 kline, got %d", len(klines))
	}
	k := klines[0]
	if k.Open != 100.5 || k.High != 101.0 || k.Low != 99.5 || k.Close != 100.8 || k.Volume != 12.34 {
		t.Fatalf("unexpected parsed kline: %+v", k)
	}
	if c.limiter.Snapshot().Used != 42 {
		t.Fatalf("expected limiter to reconcile to server-reported weight, got %d", c.limiter.Snapshot().Used)
	}
}

func TestDoWithRetryRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	defer server.Close()

	_, err := c.Klines(context.Background(), "BTCUSDT", market.TF15m, 50, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoWithRetryDoesNotRetry4xx(t *testing.T) {
	attempts := 0
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": -1121, "msg": "invalid symbol"}`))
	})
	defer server.Close()

	_, err := c.Klines(context.Background(), "NOTASYMBOL", market.TF15m, 50, time.Time{}, time.Time{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !xerrors.Is(err, xerrors.BadRequest) {
		t.Fatalf("expected BadRequest kind, got %v", xerrors.KindOf(err))
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx, got %d", attempts)
	}
}

func TestDoWithRetryTripsBanOn418(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(418)
		_, _ = w.Write([]byte(`{"code": -1003, "msg": "IP banned"}`))
	})
	defer server.Close()

	_, err := c.Klines(context.Background(), "BTCUSDT", market.TF15m, 50, time.Time{}, time.Time{})
	if err == nil || !xerrors.Is(err, xerrors.Banned) {
		t.Fatalf("expected Banned error, got %v", err)
	}
	if c.limiter.Snapshot().BanUntil.IsZero() {
		t.Fatalf("expected limiter to record a ban deadline")
	}
}

func TestDepthComputesImbalanceRatio(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bids": [["100.0", "2.0"]], "asks": [["100.1", "4.0"]]}`))
	})
	defer server.Close()

	depth, err := c.Depth(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := depth.ImbalanceRatio(); got != 2.0 {
		t.Fatalf("expected imbalance ratio 2.0, got %v", got)
	}
}

func TestMarkPriceParsesString(t *testing.T) {
	c, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol": "BTCUSDT", "markPrice": "50000.5"}`))
	})
	defer server.Close()

	px, err := c.MarkPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if px != 50000.5 {
		t.Fatalf("expected 50000.5, got %v", px)
	}
}
