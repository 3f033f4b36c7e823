// Package metrics exposes process-wide Prometheus collectors for the signal engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CandlesIngested counts closed candles the loader has upserted.
	CandlesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_ingested_total", Help: "Closed candles upserted by the loader"},
		[]string{"symbol", "timeframe"},
	)
	// APIWeightUsed tracks exchange request weight consumed per endpoint.
	APIWeightUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_weight_used_total", Help: "Exchange request weight consumed"},
		[]string{"endpoint"},
	)
	// RateLimiterDeferred counts Reserve calls that had to wait for a bucket reset.
	RateLimiterDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rate_limiter_deferred_total", Help: "Reserve calls that had to wait for bucket reset"},
	)
	// RateLimiterBanned counts distinct ban episodes observed from the exchange.
	RateLimiterBanned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rate_limiter_banned_total", Help: "Ban episodes observed from the exchange"},
	)
	// SignalsCreated counts signals committed by the scorer.
	SignalsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_created_total", Help: "Signals committed by the scorer"},
		[]string{"strategy", "direction"},
	)
	// SignalsClosed counts signals resolved to a terminal state, by exit reason.
	SignalsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_closed_total", Help: "Signals resolved to a terminal state"},
		[]string{"strategy", "exit_reason"},
	)
	// CyclesSkipped counts main-loop ticks dropped because the previous cycle was still running.
	CyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_skipped_total", Help: "Main loop ticks dropped because the previous cycle was still running"},
	)
	// StrategyEvalDuration measures wall time spent evaluating one strategy on one symbol.
	StrategyEvalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "strategy_eval_duration_seconds", Help: "Wall time spent evaluating one strategy on one symbol"},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		CandlesIngested,
		APIWeightUsed,
		RateLimiterDeferred,
		RateLimiterBanned,
		SignalsCreated,
		SignalsClosed,
		CyclesSkipped,
		StrategyEvalDuration,
	)
}

// Serve starts the Prometheus scrape endpoint in the background and returns the server handle.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
