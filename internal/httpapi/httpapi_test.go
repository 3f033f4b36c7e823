package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/tracker"
)

func TestHealthReportsRateSnapshot(t *testing.T) {
	limiter := ratelimit.New(2400, zerolog.Nop())
	deps := Deps{Signals: store.NewMemorySignalStore(), Limiter: limiter}
	r := NewEngine(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["rate_limit"].(float64) != 2400 {
		t.Fatalf("expected rate_limit=2400, got %v", body["rate_limit"])
	}
}

func TestStatsRouteOmittedWithoutTracker(t *testing.T) {
	limiter := ratelimit.New(2400, zerolog.Nop())
	r := NewEngine(Deps{Signals: store.NewMemorySignalStore(), Limiter: limiter})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected /stats to 404 without a Tracker, got %d", w.Code)
	}
}

func TestStatsRouteReportsPatternBreakdown(t *testing.T) {
	limiter := ratelimit.New(2400, zerolog.Nop())
	trk := tracker.New(tracker.Config{}, nil, nil)
	r := NewEngine(Deps{Signals: store.NewMemorySignalStore(), Limiter: limiter, Tracker: trk})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected an empty breakdown with no closures yet, got %+v", body)
	}
}

func TestSignalsFiltersBySymbol(t *testing.T) {
	signals := store.NewMemorySignalStore()
	ctx := context.Background()
	_ = signals.Create(ctx, &signal.Signal{
		ID: "1", Symbol: "BTCUSDT", StrategyName: "Break & Retest", Direction: signal.Long,
		Entry: decimal.NewFromFloat(100), SL: decimal.NewFromFloat(98), TP1: decimal.NewFromFloat(102),
		Status: signal.Active,
	})
	_ = signals.Create(ctx, &signal.Signal{
		ID: "2", Symbol: "ETHUSDT", StrategyName: "Order Flow", Direction: signal.Short,
		Entry: decimal.NewFromFloat(50), SL: decimal.NewFromFloat(51), TP1: decimal.NewFromFloat(49),
		Status: signal.Active,
	})

	limiter := ratelimit.New(2400, zerolog.Nop())
	r := NewEngine(Deps{Signals: signals, Limiter: limiter})

	req := httptest.NewRequest(http.MethodGet, "/signals/BTCUSDT", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var got []signal.Signal
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected exactly one BTCUSDT signal, got %+v", got)
	}
}
